package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"callorchestrator/internal/store"
)

// DefaultMaxConcurrentCalls and DefaultCallDelay back campaigns created
// without explicit settings (spec §6 CAMPAIGN_DEFAULT_* env options).
const (
	DefaultMaxConcurrentCalls = 5
	DefaultCallDelay          = 10 * time.Second
)

// Engine owns every active campaign's control loop, giving each
// campaign its own ticker at its configured callDelay rather than
// polling all active campaigns off a single fixed-interval sweep, since
// spec ties pacing to a per-campaign setting. The active-campaigns map
// is a process-local, mutex-guarded registry of running loops.
type Engine struct {
	campaigns    *store.CampaignStore
	contacts     *store.ContactStore
	calls        *store.CallStore
	callerID     *SmartCallerID
	controlDocs  ControlDocumentBuilder
	telephony    TelephonyClient
	events       EventPublisher

	mu      sync.Mutex
	running map[uuid.UUID]*campaignRuntime
}

// campaignRuntime is the process-local state backing one active
// campaign's control loop (spec §4.7).
type campaignRuntime struct {
	ticker  *time.Ticker
	cancel  context.CancelFunc
	active  *activeCallSet
	cycling sync.Mutex // cycle lock: non-reentrant, gates the ticker callback
}

func NewEngine(
	campaigns *store.CampaignStore,
	contacts *store.ContactStore,
	calls *store.CallStore,
	callerID *SmartCallerID,
	controlDocs ControlDocumentBuilder,
	telephony TelephonyClient,
	events EventPublisher,
) *Engine {
	return &Engine{
		campaigns:   campaigns,
		contacts:    contacts,
		calls:       calls,
		callerID:    callerID,
		controlDocs: controlDocs,
		telephony:   telephony,
		events:      events,
		running:     make(map[uuid.UUID]*campaignRuntime),
	}
}

// Start is idempotent: a campaign already in the active set is left
// running untouched. Refuses campaigns that are completed or cancelled
// (spec §4.7.1).
func (e *Engine) Start(ctx context.Context, campaignID uuid.UUID) error {
	e.mu.Lock()
	if _, ok := e.running[campaignID]; ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	c, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status == store.CampaignCompleted || c.Status == store.CampaignCancelled {
		return store.ErrInvalidTransition
	}
	if err := e.campaigns.UpdateStatus(ctx, campaignID, store.CampaignActive); err != nil {
		return err
	}

	e.spawn(campaignID, newActiveCallSet(), callDelayOrDefault(c.Settings.CallDelay))
	e.events.PublishCampaignStatus(campaignID.String(), string(store.CampaignActive))
	return nil
}

// Resume rebuilds the in-memory active-calls map from the Call Store's
// non-terminal calls before spawning the loop, per spec §4.7.1.
func (e *Engine) Resume(ctx context.Context, campaignID uuid.UUID) error {
	e.mu.Lock()
	if _, ok := e.running[campaignID]; ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	c, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != store.CampaignPaused {
		return store.ErrInvalidTransition
	}
	if err := e.campaigns.UpdateStatus(ctx, campaignID, store.CampaignActive); err != nil {
		return err
	}

	e.spawn(campaignID, e.rebuildActiveSet(ctx, campaignID), callDelayOrDefault(c.Settings.CallDelay))
	e.events.PublishCampaignStatus(campaignID.String(), string(store.CampaignActive))
	return nil
}

// RecoverActive re-spawns the control loop for a campaign a prior
// process left in status=active (e.g. after a crash or restart),
// without touching its persisted status or emitting a status event —
// unlike Resume, which transitions a paused campaign at an operator's
// request, this is the engine catching up to state it already owns.
// Unlike Start/Resume, a campaign already running in this process is a
// caller bug (recovery should run once at startup, before any operator
// request can spawn the loop), so it is reported as store.ErrAlreadyRunning
// rather than swallowed as an idempotent no-op.
func (e *Engine) RecoverActive(ctx context.Context, campaignID uuid.UUID) error {
	e.mu.Lock()
	if _, ok := e.running[campaignID]; ok {
		e.mu.Unlock()
		return store.ErrAlreadyRunning
	}
	e.mu.Unlock()

	c, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != store.CampaignActive {
		return store.ErrInvalidTransition
	}

	e.spawn(campaignID, e.rebuildActiveSet(ctx, campaignID), callDelayOrDefault(c.Settings.CallDelay))
	return nil
}

// callDelayOrDefault falls back to DefaultCallDelay when a campaign's
// persisted pacing setting is unset.
func callDelayOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultCallDelay
	}
	return d
}

// rebuildActiveSet reconstructs a campaign's in-memory active-call set
// from the Call Store's authoritative non-terminal calls.
func (e *Engine) rebuildActiveSet(ctx context.Context, campaignID uuid.UUID) *activeCallSet {
	active := newActiveCallSet()
	inFlight, err := e.calls.ListActiveByCampaign(ctx, campaignID)
	if err != nil {
		log.Printf("[Engine] WARNING: rebuilding active set for campaign %s: %v", campaignID, err)
		return active
	}
	for _, call := range inFlight {
		contactID := uuid.Nil
		if call.ContactID != nil {
			contactID = *call.ContactID
		}
		active.add(&ActiveCall{
			CallID:      call.ProviderCallID,
			ContactID:   contactID,
			StartTime:   call.StartTime,
			PhoneNumber: call.To,
		})
	}
	return active
}

// Pause removes the campaign from the active set and stops its ticker
// before persisting status=paused, so no cycle scheduled before Pause
// returns can fire a new placement afterward (spec §4.7.1, testable
// property 8). In-flight calls are left to complete naturally.
func (e *Engine) Pause(ctx context.Context, campaignID uuid.UUID) error {
	e.stop(campaignID)
	if err := e.campaigns.UpdateStatus(ctx, campaignID, store.CampaignPaused); err != nil {
		return err
	}
	e.events.PublishCampaignStatus(campaignID.String(), string(store.CampaignPaused))
	return nil
}

// Stop is identical to Pause but persists status=completed and emits
// the terminal campaign_status event (spec §4.7.1).
func (e *Engine) Stop(ctx context.Context, campaignID uuid.UUID) error {
	e.stop(campaignID)
	if err := e.campaigns.UpdateStatus(ctx, campaignID, store.CampaignCompleted); err != nil {
		return err
	}
	e.events.PublishCampaignStatus(campaignID.String(), string(store.CampaignCompleted))
	return nil
}

func (e *Engine) spawn(campaignID uuid.UUID, active *activeCallSet, callDelay time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &campaignRuntime{
		ticker: time.NewTicker(callDelay),
		cancel: cancel,
		active: active,
	}

	e.mu.Lock()
	e.running[campaignID] = rt
	e.mu.Unlock()

	go e.loop(ctx, campaignID, rt)
	go e.runCycle(campaignID, rt) // immediate first cycle, per spec §4.7.1
}

func (e *Engine) loop(ctx context.Context, campaignID uuid.UUID, rt *campaignRuntime) {
	defer rt.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.ticker.C:
			e.runCycle(campaignID, rt)
		}
	}
}

// stop removes campaignID from the active set and cancels its loop.
// Cycle re-entrancy is forbidden; a cycle already in flight finishes
// naturally (its cycling lock is simply never re-acquired).
func (e *Engine) stop(campaignID uuid.UUID) {
	e.mu.Lock()
	rt, ok := e.running[campaignID]
	if ok {
		delete(e.running, campaignID)
	}
	e.mu.Unlock()
	if ok {
		rt.cancel()
	}
}

// runCycle implements the cycle algorithm of spec §4.7.2. A late tick
// for a campaign no longer in the active set is dropped, not queued.
func (e *Engine) runCycle(campaignID uuid.UUID, rt *campaignRuntime) {
	e.mu.Lock()
	_, stillActive := e.running[campaignID]
	e.mu.Unlock()
	if !stillActive {
		return
	}

	if !rt.cycling.TryLock() {
		return // a cycle for this campaign is already in flight
	}
	defer rt.cycling.Unlock()

	ctx := context.Background()

	campaign, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		log.Printf("[Engine] campaign %s: failed to load for cycle: %v", campaignID, err)
		return
	}

	inSchedule, err := e.campaigns.IsWithinSchedule(ctx, campaignID, time.Now())
	if err != nil {
		log.Printf("[Engine] campaign %s: schedule check failed: %v", campaignID, err)
		return
	}
	if !inSchedule {
		return
	}

	maxConcurrent := campaign.Settings.MaxConcurrentCalls
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentCalls
	}
	available := maxConcurrent - rt.active.count()
	if available <= 0 {
		return
	}

	claimed := 0
	for i := 0; i < available; i++ {
		contact, err := e.contacts.ClaimNextContactForCalling(ctx, campaignID)
		if err != nil {
			log.Printf("[Engine] campaign %s: claim failed: %v", campaignID, err)
			break
		}
		if contact == nil {
			break
		}
		claimed++

		call, err := e.PlaceCallForContact(ctx, campaign, contact)
		if err != nil {
			log.Printf("[Engine] campaign %s: placing call to %s: %v", campaignID, contact.PhoneNumber, err)
			if rerr := e.contacts.ResolveContact(ctx, campaignID, contact.ContactID, store.ContactFailed, "failed_to_initiate"); rerr != nil {
				log.Printf("[Engine] campaign %s: resolving failed contact %s: %v", campaignID, contact.ContactID, rerr)
			}
			continue
		}

		rt.active.add(&ActiveCall{
			CallID:      call.ProviderCallID,
			ContactID:   contact.ContactID,
			StartTime:   call.StartTime,
			PhoneNumber: contact.PhoneNumber,
			Name:        contact.Name,
		})
		if err := e.campaigns.UpdateStats(ctx, campaignID, store.StatsDelta{CallsPlacedDelta: 1}); err != nil {
			log.Printf("[Engine] campaign %s: applying placed-call stats: %v", campaignID, err)
		}
	}

	if claimed == 0 {
		e.CompletionCheck(ctx, campaignID, rt)
	}
}

// CompletionCheck implements spec §4.7.4. Invoked after a cycle claims
// nothing and whenever a call belonging to an active campaign reaches a
// terminal status (via NotifyCallTerminal).
func (e *Engine) CompletionCheck(ctx context.Context, campaignID uuid.UUID, rt *campaignRuntime) {
	if rt.active.count() > 0 {
		return // wait for drainage
	}

	counts, err := e.contacts.CountByStatus(ctx, campaignID, store.ContactPending, store.ContactCalling)
	if err != nil {
		log.Printf("[Engine] campaign %s: completion check failed: %v", campaignID, err)
		return
	}

	if counts[store.ContactCalling] > 0 && counts[store.ContactPending] == 0 {
		// A contact claimed calling with no corresponding active call is
		// the stuck-calling state preserved (not auto-recovered) per the
		// source's unresolved open question — see the design notes.
		log.Printf("[Engine] campaign %s: completion check sees %d contact(s) stuck in calling with zero active calls",
			campaignID, counts[store.ContactCalling])
	}

	if counts[store.ContactPending] == 0 && counts[store.ContactCalling] == 0 {
		e.stop(campaignID)
		if err := e.campaigns.UpdateStatus(ctx, campaignID, store.CampaignCompleted); err != nil {
			log.Printf("[Engine] campaign %s: marking completed failed: %v", campaignID, err)
			return
		}
		e.events.PublishCampaignStatus(campaignID.String(), string(store.CampaignCompleted))
	}
}

// NotifyCallTerminal applies the stats deltas of spec §4.7.5 and removes
// the call from its campaign's active set, then triggers a completion
// check. Called by the webhook router and the Media Bridge shutdown
// path whenever a call reaches a terminal status; only the notification
// that removes the call from the active set is applied, so the two
// paths never count the same call twice.
func (e *Engine) NotifyCallTerminal(ctx context.Context, campaignID uuid.UUID, providerCallID string, status store.CallStatus, durationSeconds *int) {
	e.mu.Lock()
	rt, ok := e.running[campaignID]
	e.mu.Unlock()
	if !ok {
		return
	}

	if rt.active.remove(providerCallID) == nil {
		return // already accounted for by an earlier terminal notification
	}

	delta := store.StatsDelta{}
	switch status {
	case store.CallCompleted:
		delta.CallsCompletedDelta = 1
		if durationSeconds != nil {
			sample := float64(*durationSeconds)
			delta.DurationSample = &sample
		}
	case store.CallFailed, store.CallBusy, store.CallNoAnswer, store.CallCanceled:
		delta.CallsFailedDelta = 1
	}
	if err := e.campaigns.UpdateStats(ctx, campaignID, delta); err != nil {
		log.Printf("[Engine] campaign %s: applying terminal-call stats for %s: %v", campaignID, providerCallID, err)
	}

	e.recordCallerIDOutcome(ctx, campaignID, providerCallID)

	e.CompletionCheck(ctx, campaignID, rt)
}

// recordCallerIDOutcome feeds a terminated call's answered/not-answered
// result back into SmartCallerID's scoring, but only for campaigns that
// actually use rotation (spec §2.2/§4.7.3).
func (e *Engine) recordCallerIDOutcome(ctx context.Context, campaignID uuid.UUID, providerCallID string) {
	campaign, err := e.campaigns.Get(ctx, campaignID)
	if err != nil || !campaign.Agent.RotateCallerID {
		return
	}
	call, err := e.calls.Get(ctx, providerCallID)
	if err != nil {
		log.Printf("[Engine] campaign %s: loading call %s for caller-id scoring: %v", campaignID, providerCallID, err)
		return
	}
	e.callerID.RecordOutcome(ctx, call.From, campaign.Agent.Region, call.AnswerTime != nil)
}

// NotifyCallAnswered applies the callsAnswered+1 delta on a call's first
// transition to in-progress (spec §4.7.5).
func (e *Engine) NotifyCallAnswered(ctx context.Context, campaignID uuid.UUID) {
	if err := e.campaigns.UpdateStats(ctx, campaignID, store.StatsDelta{CallsAnsweredDelta: 1}); err != nil {
		log.Printf("[Engine] campaign %s: applying answered-call stats: %v", campaignID, err)
	}
}

// PublishCallEnded forwards to the Event Bus, giving the Media Bridge a
// narrow way to emit the call_ended event (spec §4.6.2 step 5) without
// reaching past the Engine's EventPublisher field.
func (e *Engine) PublishCallEnded(callID string) {
	e.events.PublishCallEnded(callID)
}
