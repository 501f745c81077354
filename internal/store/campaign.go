package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CampaignStore persists campaign definitions, stats, and status,
// enforcing the state machine from spec §4.7.6.
type CampaignStore struct {
	pool *Pool
}

func NewCampaignStore(pool *Pool) *CampaignStore {
	return &CampaignStore{pool: pool}
}

// validTransitions enumerates the permitted Campaign status edges.
var validTransitions = map[CampaignStatus]map[CampaignStatus]bool{
	CampaignDraft:  {CampaignActive: true},
	CampaignActive: {CampaignPaused: true, CampaignCompleted: true, CampaignCancelled: true},
	CampaignPaused: {CampaignActive: true, CampaignCompleted: true, CampaignCancelled: true},
}

// Create inserts a new campaign in draft status.
func (s *CampaignStore) Create(ctx context.Context, c *Campaign) error {
	c.Status = CampaignDraft
	_, err := s.pool.DB.Exec(ctx, `
		INSERT INTO campaigns (
			id, name, agent_id, agent_prompt, agent_first_utterance, agent_caller_id, agent_region, agent_rotate_caller_id,
			max_concurrent_calls, call_delay_ms, retry_count, retry_delay_ms, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now(), now())`,
		c.ID, c.Name, c.Agent.AgentID, c.Agent.Prompt, c.Agent.FirstUtterance, c.Agent.CallerID, c.Agent.Region, c.Agent.RotateCallerID,
		c.Settings.MaxConcurrentCalls, c.Settings.CallDelay.Milliseconds(), c.Settings.RetryCount, c.Settings.RetryDelay.Milliseconds(), c.Status)
	if err != nil {
		return fmt.Errorf("store: creating campaign: %w", err)
	}
	return nil
}

// Get loads a campaign by id.
func (s *CampaignStore) Get(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	row := s.pool.DB.QueryRow(ctx, `
		SELECT id, name, agent_id, agent_prompt, agent_first_utterance, agent_caller_id, agent_region, agent_rotate_caller_id,
			max_concurrent_calls, call_delay_ms, retry_count, retry_delay_ms, status,
			total_contacts, calls_placed, calls_answered, calls_completed, calls_failed, average_duration_seconds,
			last_executed, created_at, updated_at
		FROM campaigns WHERE id = $1`, id)

	c := &Campaign{ID: id}
	var callDelayMs, retryDelayMs int64
	if err := row.Scan(
		&c.ID, &c.Name, &c.Agent.AgentID, &c.Agent.Prompt, &c.Agent.FirstUtterance, &c.Agent.CallerID, &c.Agent.Region, &c.Agent.RotateCallerID,
		&c.Settings.MaxConcurrentCalls, &callDelayMs, &c.Settings.RetryCount, &retryDelayMs, &c.Status,
		&c.Stats.TotalContacts, &c.Stats.CallsPlaced, &c.Stats.CallsAnswered, &c.Stats.CallsCompleted, &c.Stats.CallsFailed, &c.Stats.AverageDurationSeconds,
		&c.LastExecuted, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: getting campaign %s: %w", id, err)
	}
	c.Settings.CallDelay = time.Duration(callDelayMs) * time.Millisecond
	c.Settings.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	return c, nil
}

// UpdateStatus validates the requested transition against the state
// machine and, when entering active, stamps LastExecuted.
func (s *CampaignStore) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus CampaignStatus) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == newStatus {
		return nil // idempotent no-op
	}
	if !validTransitions[current.Status][newStatus] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, newStatus)
	}

	if newStatus == CampaignActive {
		_, err = s.pool.DB.Exec(ctx, `UPDATE campaigns SET status=$1, last_executed=now(), updated_at=now() WHERE id=$2`, newStatus, id)
	} else {
		_, err = s.pool.DB.Exec(ctx, `UPDATE campaigns SET status=$1, updated_at=now() WHERE id=$2`, newStatus, id)
	}
	if err != nil {
		return fmt.Errorf("store: updating campaign status %s: %w", id, err)
	}
	return nil
}

// UpdateStats applies an additive delta to the campaign's stats
// document. AverageDurationSeconds is recomputed as a running mean
// from (priorAverage, priorCount, newSample) when delta.DurationSample
// is present.
func (s *CampaignStore) UpdateStats(ctx context.Context, id uuid.UUID, delta StatsDelta) error {
	tx, err := s.pool.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin stats update: %w", err)
	}
	defer tx.Rollback(ctx)

	var priorCount int
	var priorAverage float64
	if err := tx.QueryRow(ctx, `SELECT calls_completed, average_duration_seconds FROM campaigns WHERE id=$1 FOR UPDATE`, id).
		Scan(&priorCount, &priorAverage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: reading campaign stats %s: %w", id, err)
	}

	newAverage := priorAverage
	if delta.DurationSample != nil {
		newCount := priorCount + 1
		newAverage = ((priorAverage * float64(priorCount)) + *delta.DurationSample) / float64(newCount)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE campaigns SET
			calls_placed = calls_placed + $1,
			calls_answered = calls_answered + $2,
			calls_completed = calls_completed + $3,
			calls_failed = calls_failed + $4,
			average_duration_seconds = $5,
			updated_at = now()
		WHERE id = $6`,
		delta.CallsPlacedDelta, delta.CallsAnsweredDelta, delta.CallsCompletedDelta, delta.CallsFailedDelta, newAverage, id,
	); err != nil {
		return fmt.Errorf("store: applying stats delta %s: %w", id, err)
	}

	return tx.Commit(ctx)
}

// ListActive returns every campaign currently in the active status.
func (s *CampaignStore) ListActive(ctx context.Context) ([]*Campaign, error) {
	rows, err := s.pool.DB.Query(ctx, `SELECT id FROM campaigns WHERE status = $1`, CampaignActive)
	if err != nil {
		return nil, fmt.Errorf("store: listing active campaigns: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	campaigns := make([]*Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

// SetSchedule replaces a campaign's business-hours windows.
func (s *CampaignStore) SetSchedule(ctx context.Context, id uuid.UUID, windows []ScheduleWindow) error {
	tx, err := s.pool.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin set schedule: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM campaign_schedules WHERE campaign_id = $1`, id); err != nil {
		return fmt.Errorf("store: clearing schedule %s: %w", id, err)
	}
	for _, w := range windows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO campaign_schedules (campaign_id, day_of_week, start_time, end_time, timezone)
			VALUES ($1,$2,$3,$4,$5)`, id, int(w.DayOfWeek), w.StartTime, w.EndTime, w.Timezone); err != nil {
			return fmt.Errorf("store: inserting schedule window %s: %w", id, err)
		}
	}
	return tx.Commit(ctx)
}

// GetSchedule returns a campaign's configured business-hours windows.
func (s *CampaignStore) GetSchedule(ctx context.Context, id uuid.UUID) ([]ScheduleWindow, error) {
	rows, err := s.pool.DB.Query(ctx, `
		SELECT day_of_week, start_time, end_time, timezone FROM campaign_schedules WHERE campaign_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("store: reading schedule %s: %w", id, err)
	}
	defer rows.Close()

	var windows []ScheduleWindow
	for rows.Next() {
		var w ScheduleWindow
		var dow int
		if err := rows.Scan(&dow, &w.StartTime, &w.EndTime, &w.Timezone); err != nil {
			return nil, err
		}
		w.DayOfWeek = time.Weekday(dow)
		windows = append(windows, w)
	}
	return windows, nil
}

// IsWithinSchedule reports whether now falls within at least one of the
// campaign's configured windows. A campaign with no configured windows
// is unrestricted and always returns true.
func (s *CampaignStore) IsWithinSchedule(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	windows, err := s.GetSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	if len(windows) == 0 {
		return true, nil
	}
	for _, w := range windows {
		loc, err := time.LoadLocation(w.Timezone)
		if err != nil {
			loc = time.UTC
		}
		local := now.In(loc)
		if local.Weekday() != w.DayOfWeek {
			continue
		}
		clock := local.Format("15:04")
		if clock >= w.StartTime && clock <= w.EndTime {
			return true, nil
		}
	}
	return false, nil
}
