package mediabridge

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"callorchestrator/internal/store"
)

// aiFrame is the subset of the AI conversation socket's server frame
// shapes this bridge understands (spec §6).
type aiFrame struct {
	Type  string `json:"type"`
	Audio struct {
		Chunk string `json:"chunk"`
	} `json:"audio"`
	AudioEvent struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event"`
	PingEvent struct {
		EventID string `json:"event_id"`
	} `json:"ping_event"`
}

type pongFrame struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

type conversationInitiationFrame struct {
	Type                      string `json:"type"`
	ConversationConfigOverride struct {
		Agent struct {
			FirstMessage string `json:"first_message"`
		} `json:"agent"`
	} `json:"conversation_config_override"`
}

func (b *Bridge) sendInitiationFrame(firstMessage string) error {
	init := conversationInitiationFrame{Type: "conversation_initiation_client_data"}
	init.ConversationConfigOverride.Agent.FirstMessage = firstMessage

	data, err := json.Marshal(init)
	if err != nil {
		return err
	}
	return b.aiConn.WriteMessage(websocket.TextMessage, data)
}

// readAI processes frames from the AI peer. audio.chunk and
// audio_event.audio_base_64 are both treated as the provider's native
// base64 audio payload and forwarded byte-for-byte to the telephony
// peer's write pump (testable property 5: no extra encoding applied).
func (b *Bridge) readAI() {
	defer b.Shutdown(store.TerminatedByAgent)

	b.aiConn.SetReadLimit(128 * 1024)
	b.aiConn.SetReadDeadline(time.Now().Add(b.timeout))

	for {
		_, raw, err := b.aiConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[MediaBridge] call %s: AI read error: %v", b.CallID, err)
			}
			return
		}
		b.touch()

		var frame aiFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			if b.malformedFrames.Add(1) > maxMalformedFrames {
				log.Printf("[MediaBridge] call %s: malformed-frame budget exceeded on AI peer", b.CallID)
				return
			}
			continue
		}
		b.malformedFrames.Store(0)

		switch frame.Type {
		case "conversation_initiation_metadata":
			b.answered.Store(true)

		case "audio":
			payload := frame.Audio.Chunk
			if payload == "" {
				payload = frame.AudioEvent.AudioBase64
			}
			if payload == "" {
				continue
			}
			select {
			case b.toTelephony <- []byte(payload):
			default:
				<-b.toTelephony // drop-oldest on backpressure
				b.toTelephony <- []byte(payload)
			}

		case "interruption":
			select {
			case b.clear <- struct{}{}:
			default:
			}

		case "ping":
			pong := pongFrame{Type: "pong", EventID: frame.PingEvent.EventID}
			data, err := json.Marshal(pong)
			if err != nil {
				continue
			}
			b.aiConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := b.aiConn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[MediaBridge] call %s: pong write error: %v", b.CallID, err)
				return
			}

		default:
			log.Printf("[MediaBridge] call %s: unknown AI frame type %q", b.CallID, frame.Type)
		}
	}
}

// writeAI pumps audio captured from the telephony peer to the AI peer.
func (b *Bridge) writeAI() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case payload, ok := <-b.toAI:
			if !ok {
				return
			}
			frame := map[string]any{"user_audio_chunk": string(payload)}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			b.aiConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := b.aiConn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[MediaBridge] call %s: AI write error: %v", b.CallID, err)
				return
			}
		}
	}
}
