// Package api exposes the Control API: campaign lifecycle verbs plus
// the minimal CRUD surface needed to create and inspect campaigns.
// Per spec this is a thin collaborator around the Campaign Engine, not
// part of the core — it owns no state of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"callorchestrator/internal/config"
	"callorchestrator/internal/engine"
	"callorchestrator/internal/eventbus"
	"callorchestrator/internal/store"
)

// Server is the Control API's HTTP surface.
type Server struct {
	cfg       *config.Config
	campaigns *store.CampaignStore
	contacts  *store.ContactStore
	engine    *engine.Engine
	hub       *eventbus.Hub
}

func NewServer(cfg *config.Config, campaigns *store.CampaignStore, contacts *store.ContactStore, eng *engine.Engine, hub *eventbus.Hub) *Server {
	return &Server{cfg: cfg, campaigns: campaigns, contacts: contacts, engine: eng, hub: hub}
}

// Routes registers every Control API route on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/campaigns", s.handleCampaigns)
	mux.HandleFunc("/campaigns/", s.handleCampaignByID)

	mux.HandleFunc("/ws/events", s.hub.ServeHTTP)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// createCampaignRequest is the wire shape accepted by POST /campaigns.
type createCampaignRequest struct {
	Name  string `json:"name"`
	Agent struct {
		AgentID        string `json:"agentId"`
		Prompt         string `json:"prompt"`
		FirstUtterance string `json:"firstUtterance"`
		CallerID       string `json:"callerId"`
		Region         string `json:"region"`
		RotateCallerID bool   `json:"rotateCallerId"`
	} `json:"agent"`
	Settings struct {
		MaxConcurrentCalls int `json:"maxConcurrentCalls"`
		CallDelaySeconds   int `json:"callDelaySeconds"`
		RetryCount         int `json:"retryCount"`
		RetryDelaySeconds  int `json:"retryDelaySeconds"`
	} `json:"settings"`
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createCampaign(w, r)
	case http.MethodGet:
		s.listActiveCampaigns(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	maxConcurrent := req.Settings.MaxConcurrentCalls
	if maxConcurrent <= 0 {
		maxConcurrent = s.cfg.Campaign.DefaultMaxConcurrent
	}
	callDelay := time.Duration(req.Settings.CallDelaySeconds) * time.Second
	if callDelay <= 0 {
		callDelay = s.cfg.Campaign.DefaultCallDelay
	}

	agentID := req.Agent.AgentID
	if agentID == "" {
		agentID = s.cfg.AI.AgentID
	}
	callerID := req.Agent.CallerID
	if callerID == "" {
		callerID = s.cfg.Telephony.PhoneNumber
	}

	c := &store.Campaign{
		ID:   uuid.New(),
		Name: req.Name,
		Agent: store.AgentConfig{
			AgentID:        agentID,
			Prompt:         req.Agent.Prompt,
			FirstUtterance: req.Agent.FirstUtterance,
			CallerID:       callerID,
			Region:         req.Agent.Region,
			RotateCallerID: req.Agent.RotateCallerID,
		},
		Settings: store.CampaignSettings{
			MaxConcurrentCalls: maxConcurrent,
			CallDelay:          callDelay,
			RetryCount:         req.Settings.RetryCount,
			RetryDelay:         time.Duration(req.Settings.RetryDelaySeconds) * time.Second,
		},
	}

	if err := s.campaigns.Create(r.Context(), c); err != nil {
		http.Error(w, fmt.Sprintf("creating campaign: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

func (s *Server) listActiveCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.campaigns.ListActive(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("listing campaigns: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaigns)
}

// handleCampaignByID dispatches /campaigns/{id} and
// /campaigns/{id}/{start|pause|resume|stop}.
func (s *Server) handleCampaignByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/campaigns/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getCampaign(w, r, id)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "start":
		s.lifecycleAction(w, r, id, s.engine.Start)
	case "pause":
		s.lifecycleAction(w, r, id, s.engine.Pause)
	case "resume":
		s.lifecycleAction(w, r, id, s.engine.Resume)
	case "stop":
		s.lifecycleAction(w, r, id, s.engine.Stop)
	case "contacts":
		s.addContact(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// addContactRequest is the wire shape accepted by POST /campaigns/{id}/contacts.
type addContactRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
}

// addContact upserts a contact by phone number and enrolls it in
// campaignID, the only way a contact enters a campaign's pending queue
// (spec §4.1/§8).
func (s *Server) addContact(w http.ResponseWriter, r *http.Request, campaignID uuid.UUID) {
	var req addContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, "phoneNumber is required", http.StatusBadRequest)
		return
	}

	if _, err := s.campaigns.Get(r.Context(), campaignID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "campaign not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("loading campaign: %v", err), http.StatusInternalServerError)
		return
	}

	contactID, err := s.contacts.UpsertContact(r.Context(), req.PhoneNumber, req.Name, req.Priority)
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		http.Error(w, fmt.Sprintf("upserting contact: %v", err), http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if errors.Is(err, store.ErrAlreadyExists) {
		status = http.StatusOK
	}
	if err := s.contacts.EnrollInCampaign(r.Context(), campaignID, contactID, req.PhoneNumber, req.Name, req.Priority); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			http.Error(w, fmt.Sprintf("enrolling contact: %v", err), http.StatusInternalServerError)
			return
		}
		status = http.StatusOK // already enrolled: idempotent, not an error
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"contactId": contactID.String()})
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	c, err := s.campaigns.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "campaign not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("loading campaign: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// lifecycleAction drives one Engine lifecycle verb and maps its errors
// onto the 404/409 contract of spec §6.
func (s *Server) lifecycleAction(w http.ResponseWriter, r *http.Request, id uuid.UUID, action func(context.Context, uuid.UUID) error) {
	if err := action(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "campaign not found", http.StatusNotFound)
		case errors.Is(err, store.ErrInvalidTransition):
			http.Error(w, "invalid status transition", http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("lifecycle action failed: %v", err), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}
