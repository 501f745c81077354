// Package mediabridge proxies audio between the telephony provider's
// media-stream WebSocket and the conversational-AI provider's
// WebSocket for a single call (spec §4.6). Grounded on the pack's
// SignalWireAudioBridge/AudioStreamSession: the per-call coordinator
// owning two cooperating read/write pumps over bounded channels is the
// same shape, generalized to a provider-agnostic pair of WebSocket
// peers and a single inactivity watchdog per spec §9 (the original had
// two independent timers; this design keeps exactly one).
package mediabridge

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"callorchestrator/internal/aiclient"
	"callorchestrator/internal/engine"
	"callorchestrator/internal/store"
)

const (
	audioQueueDepth     = 500
	maxMalformedFrames  = 20
	inactivityCheckTick = 5 * time.Second
)

// Bridge is the single coordinator value for one call's two WebSocket
// peers, per the "no shared mutable state beyond the shutdown flag"
// rule of spec §5/§9. Both pumps communicate with it only through
// bounded channels.
type Bridge struct {
	CallID     string
	CampaignID uuid.UUID
	ContactID  uuid.UUID
	AgentID    string
	StreamSID  string

	telephonyConn *websocket.Conn
	aiConn        *websocket.Conn

	toTelephony chan []byte // audio bound for the telephony peer (raw base64 payload)
	toAI        chan []byte // audio bound for the AI peer (raw PCM/base64 payload, provider-native)
	clear       chan struct{} // interruption: tell the telephony peer to flush its playback buffer

	engine    *engine.Engine
	calls     *store.CallStore
	telephony engine.TelephonyClient
	ai        *aiclient.Client
	timeout   time.Duration

	lastActivity    atomic.Int64 // unix nanoseconds
	malformedFrames atomic.Int32
	answered        atomic.Bool

	shutdownOnce sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
}

// New constructs a Bridge for one call. The caller owns telephonyConn
// (already upgraded); the Bridge dials the AI peer itself once it has
// enough information from the telephony "start" frame.
func New(callID string, campaignID, contactID uuid.UUID, agentID string, telephonyConn *websocket.Conn,
	eng *engine.Engine, calls *store.CallStore, telephony engine.TelephonyClient, ai *aiclient.Client, inactivityTimeout time.Duration) *Bridge {

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		CallID:        callID,
		CampaignID:    campaignID,
		ContactID:     contactID,
		AgentID:       agentID,
		telephonyConn: telephonyConn,
		toTelephony:   make(chan []byte, audioQueueDepth),
		toAI:          make(chan []byte, audioQueueDepth),
		clear:         make(chan struct{}, 1),
		engine:        eng,
		calls:         calls,
		telephony:     telephony,
		ai:            ai,
		timeout:       inactivityTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
	b.touch()
	return b
}

func (b *Bridge) touch() {
	b.lastActivity.Store(time.Now().UnixNano())
}

// Run starts both pumps and the watchdog, and blocks until the call
// ends. It must be called from its own goroutine per connection.
func (b *Bridge) Run(firstMessage, signedAIURL string) {
	conn, _, err := websocket.DefaultDialer.DialContext(b.ctx, signedAIURL, nil)
	if err != nil {
		log.Printf("[MediaBridge] call %s: failed to dial AI peer: %v", b.CallID, err)
		b.Shutdown(store.TerminatedBySystem)
		return
	}
	b.aiConn = conn

	if err := b.sendInitiationFrame(firstMessage); err != nil {
		log.Printf("[MediaBridge] call %s: failed to send initiation frame: %v", b.CallID, err)
		b.Shutdown(store.TerminatedBySystem)
		return
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); b.readTelephony() }()
	go func() { defer wg.Done(); b.writeTelephony() }()
	go func() { defer wg.Done(); b.readAI() }()
	go func() { defer wg.Done(); b.writeAI() }()
	go b.watch()

	wg.Wait()
}

// Shutdown tears the bridge down exactly once (CAS via sync.Once, the
// single piece of shared mutable state the coordinator holds per spec
// §5), following the ordering of spec §4.6.2: close the AI socket, hang
// up the provider call if it isn't already terminal, close the
// telephony socket, emit call_ended, then record the final status.
func (b *Bridge) Shutdown(terminatedBy store.TerminatedBy) {
	b.shutdownOnce.Do(func() {
		b.cancel()

		if b.aiConn != nil {
			b.aiConn.Close()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if current, err := b.calls.Get(ctx, b.CallID); err != nil {
			log.Printf("[MediaBridge] call %s: failed loading call before hangup: %v", b.CallID, err)
		} else if !current.Status.IsTerminal() {
			if err := b.telephony.HangUp(ctx, b.CallID); err != nil {
				log.Printf("[MediaBridge] call %s: hangup failed: %v", b.CallID, err)
			}
		}

		if b.telephonyConn != nil {
			b.telephonyConn.Close()
		}

		b.engine.PublishCallEnded(b.CallID)

		status := store.CallCompleted
		if !b.answered.Load() {
			status = store.CallFailed
		}

		now := time.Now()
		updated, err := b.calls.UpdateStatus(ctx, b.CallID, status, store.CallStatusUpdate{
			EndTime:      &now,
			TerminatedBy: &terminatedBy,
		})
		if err != nil {
			log.Printf("[MediaBridge] call %s: failed to record shutdown status: %v", b.CallID, err)
		}

		var duration *int
		if updated != nil {
			d := updated.DurationSeconds
			duration = &d
		}
		b.engine.NotifyCallTerminal(ctx, b.CampaignID, b.CallID, status, duration)

		log.Printf("[MediaBridge] call %s: bridge shut down, terminatedBy=%s", b.CallID, terminatedBy)
	})
}
