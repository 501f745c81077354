// Package eventbus is the publish/subscribe surface of spec §6: a
// gorilla/websocket hub broadcasting campaign and call lifecycle events
// to any connected subscriber (operator dashboard, external consumer).
// The client register/unregister/broadcast channel loop is a typed
// EventPublisher implementation rather than free-floating package
// functions over a process-global singleton.
package eventbus

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"callorchestrator/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType enumerates the Event Bus's message kinds (spec §6).
type EventType string

const (
	EventCallUpdate     EventType = "call_update"
	EventNewCall        EventType = "new_call"
	EventCallEnded      EventType = "call_ended"
	EventCampaignStatus EventType = "campaign_status"
	EventCampaignStats  EventType = "campaign_stats"
)

// Message is the envelope broadcast to every subscriber.
type Message struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// outbound pairs a marshaled message with the topic it was published
// under, so the broadcast loop can filter by subscriber interest
// (spec §6 amendment: campaign:<id> or all).
type outbound struct {
	topic   string
	payload []byte
}

// Hub maintains active subscriber connections and fans out broadcasts.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// topicAll is the topic every subscriber starts with; a subscriber that
// holds it receives messages published under any topic.
const topicAll = "all"

// campaignTopic formats the topic name for a single campaign's events.
func campaignTopic(campaignID string) string {
	return "campaign:" + campaignID
}

// Run drives the hub's main loop; call it in its own goroutine once at
// process startup.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Printf("[EventBus] subscriber connected, total=%d", len(h.clients))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			log.Printf("[EventBus] subscriber disconnected, total=%d", len(h.clients))

		case out := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribes(out.topic) {
					continue
				}
				select {
				case c.send <- out.payload:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// publish broadcasts a message under topicAll, which reaches only the
// subscribers whose topic set still contains topicAll.
func (h *Hub) publish(eventType EventType, data interface{}) {
	h.publishToTopic(topicAll, eventType, data)
}

func (h *Hub) publishToTopic(topic string, eventType EventType, data interface{}) {
	msg := Message{Type: eventType, Data: data, Timestamp: time.Now()}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[EventBus] marshal failed for %s: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- outbound{topic: topic, payload: payload}:
	default:
		log.Printf("[EventBus] broadcast channel full, dropping %s event", eventType)
	}
}

// PublishCallUpdate, PublishNewCall, PublishCallEnded,
// PublishCampaignStatus, and PublishCampaignStats satisfy
// engine.EventPublisher.

func (h *Hub) PublishCallUpdate(callID string, status string, fields map[string]any) {
	data := map[string]any{"callId": callID, "status": status}
	for k, v := range fields {
		data[k] = v
	}
	h.publish(EventCallUpdate, data)
}

func (h *Hub) PublishNewCall(callID string, campaignID string) {
	h.publishToTopic(campaignTopic(campaignID), EventNewCall, map[string]any{"callId": callID, "campaignId": campaignID})
}

func (h *Hub) PublishCallEnded(callID string) {
	h.publish(EventCallEnded, map[string]any{"callId": callID})
}

func (h *Hub) PublishCampaignStatus(campaignID string, status string) {
	h.publishToTopic(campaignTopic(campaignID), EventCampaignStatus, map[string]any{"id": campaignID, "status": status})
}

func (h *Hub) PublishCampaignStats(campaignID string, stats store.CampaignStats) {
	h.publishToTopic(campaignTopic(campaignID), EventCampaignStats, map[string]any{"id": campaignID, "stats": stats})
}

// client is one subscriber's connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	topics map[string]bool
}

// subscribes reports whether the client should receive a message
// published under topic: either it explicitly subscribes to topic, or
// it subscribes to topicAll.
func (c *client) subscribes(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topicAll] || c.topics[topic]
}

// ServeHTTP upgrades a subscriber connection and starts its pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[EventBus] upgrade error: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 256), topics: map[string]bool{topicAll: true}}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var sub struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}
		if json.Unmarshal(raw, &sub) != nil || sub.Topic == "" {
			continue
		}
		c.mu.Lock()
		switch sub.Action {
		case "subscribe":
			c.topics[sub.Topic] = true
		case "unsubscribe":
			delete(c.topics, sub.Topic)
		}
		c.mu.Unlock()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
