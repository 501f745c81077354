// Package store persists campaigns, contacts, and calls against
// Postgres via pgx, and implements the atomic contact-claim operation
// the Campaign Engine depends on for correctness under concurrency.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by store methods, compared with errors.Is.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrInvalidTransition = errors.New("store: invalid status transition")
	ErrAlreadyExists     = errors.New("store: already exists")
	ErrConflict          = errors.New("store: conflicting write")
	ErrAlreadyRunning    = errors.New("store: already running")
)

// CampaignStatus is the Campaign lifecycle state.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// ContactStatus is the per-(contact, campaign) association status.
type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactCalling   ContactStatus = "calling"
	ContactCompleted ContactStatus = "completed"
	ContactFailed    ContactStatus = "failed"
	ContactNoAnswer  ContactStatus = "no-answer"
	ContactDoNotCall ContactStatus = "do-not-call"
)

// CallStatus is the Call lifecycle status.
type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallQueued     CallStatus = "queued"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in-progress"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
	CallBusy       CallStatus = "busy"
	CallNoAnswer   CallStatus = "no-answer"
	CallCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether a Call status admits no further transitions.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallCompleted, CallFailed, CallBusy, CallNoAnswer, CallCanceled:
		return true
	default:
		return false
	}
}

// AnsweredBy classifies who/what answered a call.
type AnsweredBy string

const (
	AnsweredByHuman    AnsweredBy = "human"
	AnsweredByMachine  AnsweredBy = "machine"
	AnsweredByFax      AnsweredBy = "fax"
	AnsweredByBusy     AnsweredBy = "busy"
	AnsweredByNoAnswer AnsweredBy = "no-answer"
	AnsweredByFailed   AnsweredBy = "failed"
	AnsweredByUnknown  AnsweredBy = "unknown"
)

// TerminatedBy classifies who/what ended a call.
type TerminatedBy string

const (
	TerminatedByAgent                TerminatedBy = "agent"
	TerminatedByUser                 TerminatedBy = "user"
	TerminatedBySystem               TerminatedBy = "system"
	TerminatedByTimeout              TerminatedBy = "timeout"
	TerminatedByConversationComplete TerminatedBy = "conversation_completed"
)

// Outcome classifies how a call resolved from the campaign's perspective.
type Outcome string

const (
	OutcomeHeld      Outcome = "held"
	OutcomeVoicemail Outcome = "voicemail"
	OutcomeNoAnswer  Outcome = "no-answer"
	OutcomeFailed    Outcome = "failed"
	OutcomeUnknown   Outcome = "unknown"
)

// AgentConfig is the fixed conversational-agent configuration a
// campaign dials with.
type AgentConfig struct {
	AgentID        string
	Prompt         string
	FirstUtterance string
	CallerID       string
	Region         string
	RotateCallerID bool
}

// CampaignSettings control the Engine's concurrency and pacing.
type CampaignSettings struct {
	MaxConcurrentCalls int
	CallDelay          time.Duration
	RetryCount         int
	RetryDelay         time.Duration
}

// CampaignStats are the additive, campaign-scoped counters.
type CampaignStats struct {
	TotalContacts          int
	CallsPlaced            int
	CallsAnswered          int
	CallsCompleted         int
	CallsFailed            int
	AverageDurationSeconds float64
}

// StatsDelta is applied additively to a Campaign's stats document.
// DurationSample, when non-nil, feeds the running-mean recomputation
// of AverageDurationSeconds.
type StatsDelta struct {
	CallsPlacedDelta    int
	CallsAnsweredDelta  int
	CallsCompletedDelta int
	CallsFailedDelta    int
	DurationSample      *float64
}

// Campaign is the persisted campaign definition.
type Campaign struct {
	ID            uuid.UUID
	Name          string
	Agent         AgentConfig
	Settings      CampaignSettings
	Status        CampaignStatus
	Stats         CampaignStats
	LastExecuted  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScheduleWindow is an optional business-hours restriction.
type ScheduleWindow struct {
	DayOfWeek time.Weekday
	StartTime string // "HH:MM" 24h, in Timezone
	EndTime   string
	Timezone  string
}

// Contact is a phone-number-bearing record independent of any campaign.
type Contact struct {
	ID          uuid.UUID
	PhoneNumber string
	Name        string
	Priority    int
	CreatedAt   time.Time
}

// ContactAssociation is the per-(contact, campaign) lifecycle record.
type ContactAssociation struct {
	ContactID      uuid.UUID
	CampaignID     uuid.UUID
	PhoneNumber    string
	Name           string
	Status         ContactStatus
	CallCount      int
	LastCallResult string
	LastCallDate   *time.Time
	Priority       int
	CreatedAt      time.Time
}

// Call is the authoritative per-call record keyed by provider call id.
type Call struct {
	ProviderCallID  string
	ConversationID  string
	Status          CallStatus
	From            string
	To              string
	Direction       string
	StartTime       time.Time
	AnswerTime      *time.Time
	EndTime         *time.Time
	DurationSeconds int
	AnsweredBy      AnsweredBy
	TerminatedBy    TerminatedBy
	Outcome         Outcome
	CampaignID      *uuid.UUID
	ContactID       *uuid.UUID
}

// CallStatusUpdate carries the optional "extras" merged by
// CallStore.UpdateStatus; zero values mean "not specified" and trigger
// the default-computation rules in spec §4.3.
type CallStatusUpdate struct {
	ConversationID  *string
	EndTime         *time.Time
	DurationSeconds *int
	AnsweredBy      *AnsweredBy
	TerminatedBy    *TerminatedBy
	Outcome         *Outcome
	AnswerTime      *time.Time
}

// CallEvent is an append-only timeline row.
type CallEvent struct {
	ProviderCallID string
	Timestamp      time.Time
	EventType      string
	Detail         string
}
