package mediabridge

import (
	"log"
	"time"

	"callorchestrator/internal/store"
)

// watch is the single inactivity-timeout authority for this call (spec
// §9: the source had two independent timers across two modules; this
// design keeps exactly one, owned here, using a timestamp updated by
// touch() plus a periodic check rather than a cancel-and-reschedule
// timer, so no platform's late-firing-cancelled-timer quirk applies).
// The check runs every half of the inactivity timeout.
func (b *Bridge) watch() {
	interval := b.timeout / 2
	if interval <= 0 {
		interval = inactivityCheckTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, b.lastActivity.Load())
			if time.Since(last) >= b.timeout {
				log.Printf("[MediaBridge] call %s: inactivity timeout after %s", b.CallID, time.Since(last))
				b.Shutdown(store.TerminatedByTimeout)
				return
			}
		}
	}
}
