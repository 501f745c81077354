package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	batchSize     = 1000
	flushInterval = 500 * time.Millisecond
	bufferSize    = 5000
)

// CallLogBatcher buffers Call Event inserts and flushes them in bulk,
// so the high-frequency in-progress/event-log path never blocks on a
// round trip per event. Flushes via pgx.CopyFrom as a bulk INSERT,
// since Call Events are append-only rather than mutated in place.
type CallLogBatcher struct {
	pool      *Pool
	events    chan CallEvent
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

func NewCallLogBatcher(pool *Pool) *CallLogBatcher {
	return &CallLogBatcher{
		pool:   pool,
		events: make(chan CallEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

// Start begins the background flush worker.
func (b *CallLogBatcher) Start() {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = true
	b.wg.Add(1)
	b.mu.Unlock()

	go b.worker()
	log.Println("[CallLogBatcher] worker started")
}

// Stop flushes remaining buffered events and stops the worker.
func (b *CallLogBatcher) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	b.mu.Unlock()

	close(b.events)
	b.wg.Wait()
	log.Println("[CallLogBatcher] worker stopped")
}

// Queue adds an event to the buffer; it is dropped if the buffer is
// full rather than blocking the caller.
func (b *CallLogBatcher) Queue(event CallEvent) {
	select {
	case b.events <- event:
	default:
		log.Printf("[CallLogBatcher] WARNING: buffer full, dropping event for call %s", event.ProviderCallID)
	}
}

func (b *CallLogBatcher) worker() {
	defer b.wg.Done()

	buffer := make([]CallEvent, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-b.events:
			if !ok {
				if len(buffer) > 0 {
					b.flush(buffer)
				}
				return
			}
			buffer = append(buffer, event)
			if len(buffer) >= batchSize {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

func (b *CallLogBatcher) flush(events []CallEvent) {
	if len(events) == 0 {
		return
	}
	start := time.Now()

	rows := make([][]any, len(events))
	for i, e := range events {
		rows[i] = []any{e.ProviderCallID, e.Timestamp, e.EventType, e.Detail}
	}

	ctx := context.Background()
	_, err := b.pool.DB.CopyFrom(ctx,
		pgx.Identifier{"call_events"},
		[]string{"provider_call_id", "timestamp", "event_type", "detail"},
		pgx.CopyFromRows(rows))
	if err != nil {
		log.Printf("[CallLogBatcher] ERROR flushing %d events: %v", len(events), err)
		return
	}
	log.Printf("[CallLogBatcher] flushed %d events in %v", len(events), time.Since(start))
}
