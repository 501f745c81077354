package mediabridge

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"callorchestrator/internal/store"
)

// telephonyFrame is the inbound envelope from the telephony provider's
// media-stream socket (spec §6): event ∈ {start, media, mark, stop}.
type telephonyFrame struct {
	Event string `json:"event"`
	Start struct {
		StreamSID       string            `json:"streamSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
	Media struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media"`
	StreamSID string `json:"streamSid"`
}

// readTelephony processes frames from the telephony peer. Audio
// payloads are forwarded to the AI peer's write pump untouched: no
// decode/re-encode happens here (testable property 5 only binds the AI
// -> telephony direction, but symmetry keeps the whole path
// passthrough).
func (b *Bridge) readTelephony() {
	defer b.Shutdown(store.TerminatedBySystem)

	b.telephonyConn.SetReadLimit(64 * 1024)
	b.telephonyConn.SetReadDeadline(time.Now().Add(b.timeout))
	b.telephonyConn.SetPongHandler(func(string) error {
		b.telephonyConn.SetReadDeadline(time.Now().Add(b.timeout))
		return nil
	})

	for {
		_, raw, err := b.telephonyConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[MediaBridge] call %s: telephony read error: %v", b.CallID, err)
			}
			return
		}
		b.touch()

		var frame telephonyFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			if b.malformedFrames.Add(1) > maxMalformedFrames {
				log.Printf("[MediaBridge] call %s: malformed-frame budget exceeded on telephony peer", b.CallID)
				return
			}
			continue
		}
		b.malformedFrames.Store(0)

		switch frame.Event {
		case "start":
			b.StreamSID = frame.Start.StreamSID
		case "media":
			if frame.Media.Payload == "" {
				continue
			}
			select {
			case b.toAI <- []byte(frame.Media.Payload):
			default:
				<-b.toAI // drop-oldest on backpressure (spec §9)
				b.toAI <- []byte(frame.Media.Payload)
			}
		case "stop":
			return
		case "mark":
			// acknowledgement of a previously sent mark; nothing to do
		default:
			log.Printf("[MediaBridge] call %s: unknown telephony event %q", b.CallID, frame.Event)
		}
	}
}

// writeTelephony pumps audio queued for the telephony peer and
// interruption "clear" signals. Outbound media frames carry the AI
// peer's base64 payload exactly as received (testable property 5).
func (b *Bridge) writeTelephony() {
	for {
		select {
		case <-b.ctx.Done():
			return

		case payload, ok := <-b.toTelephony:
			if !ok {
				return
			}
			frame := map[string]any{
				"event":     "media",
				"streamSid": b.StreamSID,
				"media":     map[string]string{"payload": string(payload)},
			}
			if err := b.writeTelephonyJSON(frame); err != nil {
				log.Printf("[MediaBridge] call %s: telephony write error: %v", b.CallID, err)
				return
			}

		case <-b.clear:
			frame := map[string]any{"event": "clear", "streamSid": b.StreamSID}
			if err := b.writeTelephonyJSON(frame); err != nil {
				log.Printf("[MediaBridge] call %s: telephony clear-write error: %v", b.CallID, err)
				return
			}
		}
	}
}

func (b *Bridge) writeTelephonyJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.telephonyConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return b.telephonyConn.WriteMessage(websocket.TextMessage, data)
}
