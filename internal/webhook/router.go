package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"callorchestrator/internal/engine"
	"callorchestrator/internal/store"
)

// Router serves the telephony status callback and AI post-call
// webhook. Status mapping is grounded on the pack's AMI
// CallStatusHandler: a switch from the provider's vocabulary onto the
// Call Store's CallStatus, generalized from Asterisk hangup causes to
// the REST provider's named CallStatus values.
type Router struct {
	calls         *store.CallStore
	contacts      *store.ContactStore
	engine        *engine.Engine
	telephony     engine.TelephonyClient
	signingSecret string
}

func NewRouter(calls *store.CallStore, contacts *store.ContactStore,
	eng *engine.Engine, telephony engine.TelephonyClient, signingSecret string) *Router {
	return &Router{
		calls:         calls,
		contacts:      contacts,
		engine:        eng,
		telephony:     telephony,
		signingSecret: signingSecret,
	}
}

func (rt *Router) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/telephony/status", rt.handleTelephonyStatus)
	mux.HandleFunc("/webhooks/ai/post-call", rt.handleAIPostCall)
}

var providerStatusToCallStatus = map[string]store.CallStatus{
	"queued":      store.CallQueued,
	"ringing":     store.CallRinging,
	"in-progress": store.CallInProgress,
	"answered":    store.CallInProgress,
	"completed":   store.CallCompleted,
	"busy":        store.CallBusy,
	"no-answer":   store.CallNoAnswer,
	"failed":      store.CallFailed,
	"canceled":    store.CallCanceled,
}

// handleTelephonyStatus processes the form-encoded provider status
// callback (spec §6). Terminal statuses feed the Engine's stats-delta
// and completion-check path.
func (rt *Router) handleTelephonyStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}

	if rt.signingSecret != "" {
		if err := VerifySignature(r.Header.Get("X-Webhook-Signature"), []byte(r.Form.Encode()), rt.signingSecret); err != nil {
			log.Printf("[Webhook] telephony status signature check failed: %v", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	callSID := r.FormValue("CallSid")
	providerStatus := r.FormValue("CallStatus")
	if callSID == "" || providerStatus == "" {
		http.Error(w, "missing CallSid/CallStatus", http.StatusBadRequest)
		return
	}

	newStatus, ok := providerStatusToCallStatus[providerStatus]
	if !ok {
		log.Printf("[Webhook] unknown telephony status %q for call %s", providerStatus, callSID)
		w.WriteHeader(http.StatusOK)
		return
	}

	call, err := rt.calls.Get(r.Context(), callSID)
	if err != nil {
		log.Printf("[Webhook] telephony status for unknown call %s: %v", callSID, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	wasAnswered := call.AnswerTime != nil
	updated, err := rt.calls.UpdateStatus(r.Context(), callSID, newStatus, store.CallStatusUpdate{})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Printf("[Webhook] ignoring %s status for already-terminal call %s", newStatus, callSID)
			w.WriteHeader(http.StatusOK)
			return
		}
		log.Printf("[Webhook] updating call %s to %s: %v", callSID, newStatus, err)
		http.Error(w, "failed to record status", http.StatusInternalServerError)
		return
	}

	if updated.CampaignID == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !wasAnswered && newStatus == store.CallInProgress {
		rt.engine.NotifyCallAnswered(r.Context(), *updated.CampaignID)
	}

	if newStatus.IsTerminal() {
		if updated.ContactID != nil {
			outcome, lastResult := contactOutcomeFor(newStatus)
			if err := rt.contacts.ResolveContact(r.Context(), *updated.CampaignID, *updated.ContactID, outcome, lastResult); err != nil {
				log.Printf("[Webhook] resolving contact %s for call %s: %v", *updated.ContactID, callSID, err)
			}
		}
		duration := updated.DurationSeconds
		rt.engine.NotifyCallTerminal(r.Context(), *updated.CampaignID, callSID, newStatus, &duration)
	}

	w.WriteHeader(http.StatusOK)
}

// contactOutcomeFor maps a terminal CallStatus onto the contact
// association's outcome vocabulary: the completed/failed/no-answer
// outcomes ResolveContact accepts (spec §4.1).
func contactOutcomeFor(status store.CallStatus) (store.ContactStatus, string) {
	switch status {
	case store.CallCompleted:
		return store.ContactCompleted, "completed"
	case store.CallNoAnswer:
		return store.ContactNoAnswer, "no_answer"
	case store.CallBusy:
		return store.ContactFailed, "busy"
	case store.CallCanceled:
		return store.ContactFailed, "canceled"
	default:
		return store.ContactFailed, "failed"
	}
}

type aiPostCallPayload struct {
	Type string `json:"type"`
	Data struct {
		ConversationID string `json:"conversation_id"`
		Metadata       struct {
			CallSID string `json:"call_sid"`
		} `json:"metadata"`
	} `json:"data"`
}

// handleAIPostCall processes the AI provider's post-call webhook (spec
// §6). On conversation_completed, if the provider call is not yet
// terminal, the conversation id is recorded on the call and the call is
// hung up. No terminatedBy value is written here: the call's
// terminatedBy is whatever its later terminal status update records.
func (rt *Router) handleAIPostCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if rt.signingSecret != "" {
		if err := VerifySignature(r.Header.Get("ElevenLabs-Signature"), body, rt.signingSecret); err != nil {
			log.Printf("[Webhook] AI post-call signature check failed: %v", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload aiPostCallPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "bad json body", http.StatusBadRequest)
		return
	}

	if payload.Data.Metadata.CallSID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	call, err := rt.calls.Get(r.Context(), payload.Data.Metadata.CallSID)
	if err != nil {
		log.Printf("[Webhook] AI post-call for unknown call %s: %v", payload.Data.Metadata.CallSID, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if payload.Type == "conversation_completed" && !call.Status.IsTerminal() {
		conversationID := payload.Data.ConversationID
		if _, err := rt.calls.UpdateStatus(r.Context(), call.ProviderCallID, call.Status, store.CallStatusUpdate{
			ConversationID: &conversationID,
		}); err != nil {
			log.Printf("[Webhook] recording conversation id for call %s: %v", call.ProviderCallID, err)
		}
		if err := rt.telephony.HangUp(r.Context(), call.ProviderCallID); err != nil {
			log.Printf("[Webhook] hangup failed for call %s: %v", call.ProviderCallID, err)
		}
	}

	w.WriteHeader(http.StatusOK)
}
