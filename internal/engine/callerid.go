// Package engine implements the Campaign Execution Engine: the
// per-campaign control loop that claims contacts, places calls under a
// concurrency bound, and drives campaigns to completion.
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SmartCallerID selects a from-number for a call when a campaign's
// agent configuration enables caller-ID rotation, in preference to a
// single static number. The prefix/pattern scoring idea is keyed by
// region (per spec's Agent.Region field) rather than a country-specific
// dialing-prefix scheme, and queries run through pgx rather than
// database/sql.
type SmartCallerID struct {
	pool *pgxpool.Pool
}

func NewSmartCallerID(pool *pgxpool.Pool) *SmartCallerID {
	return &SmartCallerID{pool: pool}
}

// Select returns a caller id to dial from for region, falling back to
// staticCallerID when rotation yields nothing (no pool configured, no
// prior stats, or the 10% exploration roll).
func (g *SmartCallerID) Select(ctx context.Context, region, staticCallerID string) string {
	if g.pool == nil || region == "" {
		return staticCallerID
	}

	if rand.Float32() < 0.1 {
		return staticCallerID // explore: stick with the default rather than guess
	}

	var candidate string
	err := g.pool.QueryRow(ctx, `
		SELECT caller_id FROM caller_id_pool
		WHERE region = $1 AND attempts > 10
		ORDER BY score DESC LIMIT 1`, region).Scan(&candidate)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("[CallerID] lookup failed for region %s: %v", region, err)
		}
		return staticCallerID
	}
	return candidate
}

// RecordOutcome updates a rotated caller id's answer-rate score after a
// call using it reaches a terminal state.
func (g *SmartCallerID) RecordOutcome(ctx context.Context, callerID, region string, answered bool) {
	if g.pool == nil || callerID == "" {
		return
	}
	inc := 0
	if answered {
		inc = 1
	}
	_, err := g.pool.Exec(ctx, `
		INSERT INTO caller_id_pool (caller_id, region, attempts, answers, score)
		VALUES ($1,$2,1,$3, $3)
		ON CONFLICT (caller_id) DO UPDATE SET
			attempts = caller_id_pool.attempts + 1,
			answers = caller_id_pool.answers + $3,
			score = (caller_id_pool.answers + $3)::float / (caller_id_pool.attempts + 1)`,
		callerID, region, inc)
	if err != nil {
		log.Printf("[CallerID] %s", fmt.Errorf("recording outcome for %s: %w", callerID, err))
	}
}
