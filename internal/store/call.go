package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CallStore persists the authoritative Call record keyed by provider
// call id, plus the append-only Call Event timeline.
type CallStore struct {
	pool    *Pool
	batcher *CallLogBatcher
}

// NewCallStore creates a CallStore and starts its write-behind batcher
// for the high-frequency event-log path.
func NewCallStore(pool *Pool) *CallStore {
	s := &CallStore{pool: pool}
	s.batcher = NewCallLogBatcher(pool)
	s.batcher.Start()
	return s
}

// Close stops the batcher, flushing anything buffered.
func (s *CallStore) Close() {
	s.batcher.Stop()
}

// Save upserts the initial Call row by provider call id; repeated
// creates with the same id are idempotent.
func (s *CallStore) Save(ctx context.Context, c *Call) error {
	_, err := s.pool.DB.Exec(ctx, `
		INSERT INTO calls (
			provider_call_id, conversation_id, status, from_number, to_number, direction,
			start_time, answer_time, end_time, duration_seconds, answered_by, terminated_by, outcome,
			campaign_id, contact_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (provider_call_id) DO NOTHING`,
		c.ProviderCallID, c.ConversationID, c.Status, c.From, c.To, c.Direction,
		c.StartTime, c.AnswerTime, c.EndTime, c.DurationSeconds, c.AnsweredBy, c.TerminatedBy, c.Outcome,
		c.CampaignID, c.ContactID)
	if err != nil {
		return fmt.Errorf("store: saving call %s: %w", c.ProviderCallID, err)
	}
	return s.appendEvent(ctx, c.ProviderCallID, "created", string(c.Status))
}

// Get loads a call by provider call id.
func (s *CallStore) Get(ctx context.Context, providerCallID string) (*Call, error) {
	c := &Call{ProviderCallID: providerCallID}
	err := s.pool.DB.QueryRow(ctx, `
		SELECT conversation_id, status, from_number, to_number, direction, start_time, answer_time,
			end_time, duration_seconds, answered_by, terminated_by, outcome, campaign_id, contact_id
		FROM calls WHERE provider_call_id = $1`, providerCallID).Scan(
		&c.ConversationID, &c.Status, &c.From, &c.To, &c.Direction, &c.StartTime, &c.AnswerTime,
		&c.EndTime, &c.DurationSeconds, &c.AnsweredBy, &c.TerminatedBy, &c.Outcome, &c.CampaignID, &c.ContactID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: getting call %s: %w", providerCallID, err)
	}
	return c, nil
}

// UpdateStatus merges extras into the call row per spec §4.3's default
// rules, and commits synchronously (bypassing the batcher) so
// completion-check reads of terminal state are never stale. Applying
// the same terminal update twice is idempotent (testable property 6).
func (s *CallStore) UpdateStatus(ctx context.Context, providerCallID string, newStatus CallStatus, extras CallStatusUpdate) (*Call, error) {
	current, err := s.Get(ctx, providerCallID)
	if err != nil {
		return nil, err
	}

	if current.Status.IsTerminal() {
		if current.Status == newStatus {
			return current, nil // idempotent re-application
		}
		return current, ErrInvalidTransition // terminal states freeze mutation (spec §3)
	}

	updated := *current
	updated.Status = newStatus

	if extras.ConversationID != nil {
		updated.ConversationID = *extras.ConversationID
	}
	if extras.AnswerTime != nil {
		updated.AnswerTime = extras.AnswerTime
	} else if newStatus == CallInProgress && updated.AnswerTime == nil {
		now := time.Now()
		updated.AnswerTime = &now
	}

	if newStatus.IsTerminal() {
		if extras.EndTime != nil {
			updated.EndTime = extras.EndTime
		} else if updated.EndTime == nil {
			now := time.Now()
			updated.EndTime = &now
		}
		if extras.DurationSeconds != nil {
			updated.DurationSeconds = *extras.DurationSeconds
		} else if updated.DurationSeconds == 0 {
			updated.DurationSeconds = int(updated.EndTime.Sub(updated.StartTime).Seconds())
		}
		if extras.AnsweredBy != nil {
			updated.AnsweredBy = *extras.AnsweredBy
		} else if updated.AnsweredBy == "" {
			updated.AnsweredBy = defaultAnsweredBy(newStatus)
		}
		if extras.TerminatedBy != nil {
			updated.TerminatedBy = *extras.TerminatedBy
		} else if updated.TerminatedBy == "" {
			updated.TerminatedBy = defaultTerminatedBy(newStatus, updated.DurationSeconds)
		}
	}
	if extras.Outcome != nil {
		updated.Outcome = *extras.Outcome
	}

	_, err = s.pool.DB.Exec(ctx, `
		UPDATE calls SET
			conversation_id = $1, status = $2, answer_time = $3, end_time = $4,
			duration_seconds = $5, answered_by = $6, terminated_by = $7, outcome = $8
		WHERE provider_call_id = $9`,
		updated.ConversationID, updated.Status, updated.AnswerTime, updated.EndTime,
		updated.DurationSeconds, updated.AnsweredBy, updated.TerminatedBy, updated.Outcome, providerCallID)
	if err != nil {
		return nil, fmt.Errorf("store: updating call %s: %w", providerCallID, err)
	}
	if err := s.appendEvent(ctx, providerCallID, "status_changed", string(newStatus)); err != nil {
		return nil, err
	}
	return &updated, nil
}

// defaultAnsweredBy applies spec §4.3's defaults when a terminal
// transition arrives without an explicit answeredBy.
func defaultAnsweredBy(status CallStatus) AnsweredBy {
	switch status {
	case CallFailed:
		return AnsweredByFailed
	case CallNoAnswer:
		return AnsweredByNoAnswer
	case CallBusy:
		return AnsweredByBusy
	case CallCanceled:
		return AnsweredByUnknown
	default:
		return AnsweredByUnknown
	}
}

// defaultTerminatedBy applies spec §4.3's defaults when a terminal
// transition arrives without an explicit terminatedBy.
func defaultTerminatedBy(status CallStatus, durationSeconds int) TerminatedBy {
	switch status {
	case CallFailed, CallCanceled:
		return TerminatedBySystem
	case CallNoAnswer:
		return TerminatedByTimeout
	}
	if durationSeconds < 3 {
		return TerminatedByUser
	}
	return TerminatedBySystem
}

// ListActiveByCampaign returns non-terminal calls for a campaign, used
// by Resume to rebuild the in-memory active-calls map.
func (s *CallStore) ListActiveByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*Call, error) {
	rows, err := s.pool.DB.Query(ctx, `
		SELECT provider_call_id FROM calls
		WHERE campaign_id = $1 AND status NOT IN ($2,$3,$4,$5,$6)`,
		campaignID, CallCompleted, CallFailed, CallBusy, CallNoAnswer, CallCanceled)
	if err != nil {
		return nil, fmt.Errorf("store: listing active calls for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	calls := make([]*Call, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, nil
}

// GetLatestActiveByContact returns the most recently started non-terminal
// call for (campaignID, contactID), used by the Media Bridge to resolve
// a provider call id from the campaign/contact identifiers carried in
// the control document's stream parameters.
func (s *CallStore) GetLatestActiveByContact(ctx context.Context, campaignID, contactID uuid.UUID) (*Call, error) {
	var providerCallID string
	err := s.pool.DB.QueryRow(ctx, `
		SELECT provider_call_id FROM calls
		WHERE campaign_id = $1 AND contact_id = $2 AND status NOT IN ($3,$4,$5,$6,$7)
		ORDER BY start_time DESC LIMIT 1`,
		campaignID, contactID, CallCompleted, CallFailed, CallBusy, CallNoAnswer, CallCanceled).Scan(&providerCallID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: resolving active call for contact %s: %w", contactID, err)
	}
	return s.Get(ctx, providerCallID)
}

// appendEvent queues a Call Event write through the batcher.
func (s *CallStore) appendEvent(ctx context.Context, providerCallID, eventType, detail string) error {
	s.batcher.Queue(CallEvent{
		ProviderCallID: providerCallID,
		Timestamp:      time.Now(),
		EventType:      eventType,
		Detail:         detail,
	})
	return nil
}
