package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ContactStore manages per-campaign contact associations, including the
// atomic claim that makes the Campaign Engine's concurrency model safe.
//
// ClaimNextContactForCalling replaces the separate select-then-mark
// pattern — two statements that race under concurrency — with a single
// conditional UPDATE ... RETURNING, so two concurrent claimers for the
// same campaign can never receive the same row (spec §4.1, testable
// property 1).
type ContactStore struct {
	pool *Pool
}

func NewContactStore(pool *Pool) *ContactStore {
	return &ContactStore{pool: pool}
}

// UpsertContact inserts a contact if new, or returns the existing row by
// phone number. When the phone number was already on file, the
// returned id is still valid but the error is ErrAlreadyExists — not a
// failure, a signal for callers that want to distinguish "created" from
// "found" (e.g. for response status codes).
func (s *ContactStore) UpsertContact(ctx context.Context, phoneNumber, name string, priority int) (uuid.UUID, error) {
	id := uuid.New()
	var existing uuid.UUID
	var inserted bool
	err := s.pool.DB.QueryRow(ctx, `
		INSERT INTO contacts (id, phone_number, name, priority, created_at)
		VALUES ($1,$2,$3,$4, now())
		ON CONFLICT (phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
		RETURNING id, (xmax = 0)`, id, phoneNumber, name, priority).Scan(&existing, &inserted)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: upserting contact %s: %w", phoneNumber, err)
	}
	if !inserted {
		return existing, ErrAlreadyExists
	}
	return existing, nil
}

// EnrollInCampaign creates the (contact, campaign) association in
// pending status if it does not already exist. Per the preserved Open
// Question in spec §9, re-enrolling an already-associated contact into
// the same campaign is a no-op: status/callCount are reset only when
// the pair is newly formed. Callers that need to distinguish the two
// cases can check errors.Is(err, ErrConflict); it is not a failure.
func (s *ContactStore) EnrollInCampaign(ctx context.Context, campaignID, contactID uuid.UUID, phoneNumber, name string, priority int) error {
	tag, err := s.pool.DB.Exec(ctx, `
		INSERT INTO campaign_contacts (campaign_id, contact_id, phone_number, name, status, call_count, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,0,$6, now())
		ON CONFLICT (campaign_id, contact_id) DO NOTHING`,
		campaignID, contactID, phoneNumber, name, ContactPending, priority)
	if err != nil {
		return fmt.Errorf("store: enrolling contact %s in campaign %s: %w", contactID, campaignID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ClaimNextContactForCalling atomically claims the oldest pending,
// non-blacklisted contact for campaignID, transitioning it to calling
// and incrementing callCount by exactly one. Returns nil, nil when no
// eligible contact exists (fails soft per spec §4.1).
//
// Blacklisted pending rows are skipped for claiming, and in the same
// statement are flipped straight to do-not-call, so a campaign whose
// remaining pending contacts are all blacklisted still drains to zero
// pending instead of deadlocking CompletionCheck (spec §4.1 amendment).
func (s *ContactStore) ClaimNextContactForCalling(ctx context.Context, campaignID uuid.UUID) (*ContactAssociation, error) {
	row := s.pool.DB.QueryRow(ctx, `
		WITH blacklisted_update AS (
			UPDATE campaign_contacts cc
			SET status = $4
			FROM blacklist b
			WHERE cc.campaign_id = $1
			  AND cc.status = $2
			  AND b.phone_number = cc.phone_number
			RETURNING cc.contact_id
		),
		candidate AS (
			SELECT cc.contact_id
			FROM campaign_contacts cc
			WHERE cc.campaign_id = $1
			  AND cc.status = $2
			  AND cc.call_count = 0
			  AND cc.contact_id NOT IN (SELECT contact_id FROM blacklisted_update)
			ORDER BY cc.created_at ASC
			LIMIT 1
			FOR UPDATE OF cc SKIP LOCKED
		)
		UPDATE campaign_contacts cc
		SET status = $3, call_count = cc.call_count + 1, last_call_date = now()
		FROM candidate
		WHERE cc.campaign_id = $1 AND cc.contact_id = candidate.contact_id
		RETURNING cc.contact_id, cc.campaign_id, cc.phone_number, cc.name, cc.status, cc.call_count,
			cc.last_call_result, cc.last_call_date, cc.priority, cc.created_at`,
		campaignID, ContactPending, ContactCalling, ContactDoNotCall)

	a := &ContactAssociation{}
	if err := row.Scan(
		&a.ContactID, &a.CampaignID, &a.PhoneNumber, &a.Name, &a.Status, &a.CallCount,
		&a.LastCallResult, &a.LastCallDate, &a.Priority, &a.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: claiming contact for campaign %s: %w", campaignID, err)
	}
	return a, nil
}

// ResolveContact transitions a contact from calling to exactly one
// terminal per-campaign status, recording the outcome. Idempotent: a
// repeated call with the same (contactID, campaignID, outcome) is a
// no-op once the row is already in that terminal status.
func (s *ContactStore) ResolveContact(ctx context.Context, campaignID, contactID uuid.UUID, outcome ContactStatus, lastCallResult string) error {
	if outcome != ContactCompleted && outcome != ContactFailed && outcome != ContactNoAnswer {
		return fmt.Errorf("store: invalid contact resolution outcome %q", outcome)
	}
	_, err := s.pool.DB.Exec(ctx, `
		UPDATE campaign_contacts
		SET status = $1, last_call_result = $2, last_call_date = now()
		WHERE campaign_id = $3 AND contact_id = $4 AND status = $5`,
		outcome, lastCallResult, campaignID, contactID, ContactCalling)
	if err != nil {
		return fmt.Errorf("store: resolving contact %s in campaign %s: %w", contactID, campaignID, err)
	}
	return nil
}

// CountByStatus returns, for campaignID, the count of associations in
// each requested status.
func (s *ContactStore) CountByStatus(ctx context.Context, campaignID uuid.UUID, statuses ...ContactStatus) (map[ContactStatus]int, error) {
	counts := make(map[ContactStatus]int, len(statuses))
	for _, st := range statuses {
		counts[st] = 0
	}
	rows, err := s.pool.DB.Query(ctx, `
		SELECT status, count(*) FROM campaign_contacts
		WHERE campaign_id = $1 AND status = ANY($2)
		GROUP BY status`, campaignID, statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("store: counting contacts for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var st ContactStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, nil
}

func statusStrings(statuses []ContactStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// AddToBlacklist blocks a phone number globally.
func (s *ContactStore) AddToBlacklist(ctx context.Context, phoneNumber, reason string) error {
	_, err := s.pool.DB.Exec(ctx, `
		INSERT INTO blacklist (phone_number, reason, created_at) VALUES ($1,$2, now())
		ON CONFLICT (phone_number) DO UPDATE SET reason = EXCLUDED.reason`, phoneNumber, reason)
	if err != nil {
		return fmt.Errorf("store: blacklisting %s: %w", phoneNumber, err)
	}
	return nil
}

// IsBlacklisted reports whether phoneNumber is globally blocked.
func (s *ContactStore) IsBlacklisted(ctx context.Context, phoneNumber string) (bool, error) {
	var exists bool
	err := s.pool.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blacklist WHERE phone_number = $1)`, phoneNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: checking blacklist for %s: %w", phoneNumber, err)
	}
	return exists, nil
}
