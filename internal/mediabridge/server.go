package mediabridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"callorchestrator/internal/aiclient"
	"callorchestrator/internal/engine"
	"callorchestrator/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the telephony provider's inbound media-stream
// WebSocket connections, at the path named in spec §6
// (/outbound-media-stream).
type Handler struct {
	campaigns         *store.CampaignStore
	calls             *store.CallStore
	engine            *engine.Engine
	telephony         engine.TelephonyClient
	ai                *aiclient.Client
	inactivityTimeout time.Duration
}

func NewHandler(campaigns *store.CampaignStore, calls *store.CallStore, eng *engine.Engine,
	telephony engine.TelephonyClient, ai *aiclient.Client, inactivityTimeout time.Duration) *Handler {
	return &Handler{
		campaigns:         campaigns,
		calls:             calls,
		engine:            eng,
		telephony:         telephony,
		ai:                ai,
		inactivityTimeout: inactivityTimeout,
	}
}

// ServeHTTP upgrades the connection, waits for the provider's "start"
// frame to learn which campaign/contact/agent this stream belongs to
// (carried as the control document's stream parameters), then spins up
// a Bridge to drive the rest of the call.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[MediaBridge] upgrade failed: %v", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		log.Printf("[MediaBridge] failed reading start frame: %v", err)
		conn.Close()
		return
	}

	var frame telephonyFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event != "start" {
		log.Printf("[MediaBridge] first frame was not a valid start event: %v", err)
		conn.Close()
		return
	}

	params := frame.Start.CustomParameters
	campaignID, err := uuid.Parse(params["campaign_id"])
	if err != nil {
		log.Printf("[MediaBridge] start frame missing valid campaign_id: %v", err)
		conn.Close()
		return
	}
	contactID, err := uuid.Parse(params["contact_id"])
	if err != nil {
		log.Printf("[MediaBridge] start frame missing valid contact_id: %v", err)
		conn.Close()
		return
	}
	agentID := params["agent_id"]

	campaign, err := h.campaigns.Get(r.Context(), campaignID)
	if err != nil {
		log.Printf("[MediaBridge] failed loading campaign %s: %v", campaignID, err)
		conn.Close()
		return
	}

	call, err := h.calls.GetLatestActiveByContact(r.Context(), campaignID, contactID)
	if err != nil {
		log.Printf("[MediaBridge] failed resolving call for campaign=%s contact=%s: %v", campaignID, contactID, err)
		conn.Close()
		return
	}
	callID := call.ProviderCallID

	signedURL, err := h.ai.GetSignedStreamURL(r.Context(), agentID)
	if err != nil {
		log.Printf("[MediaBridge] call %s: failed to get signed AI stream url: %v", callID, err)
		h.failBeforeBridge(r.Context(), campaignID, callID)
		conn.Close()
		return
	}

	bridge := New(callID, campaignID, contactID, agentID, conn, h.engine, h.calls, h.telephony, h.ai, h.inactivityTimeout)
	bridge.StreamSID = frame.Start.StreamSID

	go bridge.Run(campaign.Agent.FirstUtterance, signedURL)
}

// failBeforeBridge records a terminal failure for a call that never
// reached the point of having a Bridge, so the Call Store doesn't stick
// at initiated/ringing and the Engine's active-call accounting isn't
// left permanently holding a concurrency slot (spec §4.6.2/§9).
func (h *Handler) failBeforeBridge(ctx context.Context, campaignID uuid.UUID, callID string) {
	now := time.Now()
	terminatedBy := store.TerminatedBySystem
	_, err := h.calls.UpdateStatus(ctx, callID, store.CallFailed, store.CallStatusUpdate{
		EndTime:      &now,
		TerminatedBy: &terminatedBy,
	})
	if err != nil {
		log.Printf("[MediaBridge] call %s: failed to record pre-bridge failure: %v", callID, err)
	}
	h.engine.NotifyCallTerminal(ctx, campaignID, callID, store.CallFailed, nil)
}
