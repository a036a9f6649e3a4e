// Package hub implements the Subscription Hub: per-(symbol,timeframe)
// topic fan-out to WebSocket clients for candle updates, prediction
// updates, and training progress. Grounded on the teacher's
// internal/gateway Hub/Client pair, generalized from Redis PubSub
// channel strings to typed topics and bounded per-subscriber queues.
package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
)

// MessageKind tags what a push message carries.
type MessageKind string

const (
	KindCandleUpdate      MessageKind = "candle_update"
	KindPredictionUpdate  MessageKind = "prediction_update"
	KindTrainingProgress  MessageKind = "training_progress"
)

// Message is the envelope pushed to every matching subscriber.
type Message struct {
	Kind    MessageKind `json:"kind"`
	Symbol  string      `json:"symbol"`
	Payload any         `json:"payload"`
}

// subscriberQueueDepth bounds how many pending messages a slow client can
// accumulate before the hub starts dropping, mirroring the teacher's
// unbuffered select/default pattern on client.send.
const subscriberQueueDepth = 256

// subscriber holds at most one active subscription at a time, per the
// Subscription data model: a new Subscribe call replaces whatever topic
// was there before, rather than adding to it.
type subscriber struct {
	id    string
	send  chan []byte
	topic string // "symbol|timeframe", empty means no active subscription
	mu    sync.RWMutex
}

func (s *subscriber) subscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topic != "" && s.topic == topic
}

// Hub fans published messages out to subscribers whose topic set
// matches.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber

	metrics *metrics.Metrics
	log     *zap.Logger
}

// New builds an empty Hub.
func New(m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{subscribers: make(map[string]*subscriber), metrics: m, log: log}
}

// Register adds a subscriber and returns its outbound channel, which the
// transport layer (the WS handler in internal/api) drains and writes to
// the socket.
func (h *Hub) Register(clientID string) <-chan []byte {
	sub := &subscriber{id: clientID, send: make(chan []byte, subscriberQueueDepth)}
	h.mu.Lock()
	h.subscribers[clientID] = sub
	h.mu.Unlock()
	return sub.send
}

// Unregister removes a subscriber and closes its channel.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	sub, ok := h.subscribers[clientID]
	if ok {
		delete(h.subscribers, clientID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	prev := sub.topic
	sub.mu.Unlock()
	if prev != "" {
		h.metrics.HubSubscribersGauge.WithLabelValues(prev).Dec()
	}
	close(sub.send)
}

// Subscribe sets clientID's active subscription to (symbol, timeframe),
// atomically replacing whatever topic it held before — a client holds at
// most one active subscription.
func (h *Hub) Subscribe(clientID string, sub model.Subscription) {
	h.mu.RLock()
	s, ok := h.subscribers[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	topic := sub.Key()
	s.mu.Lock()
	prev := s.topic
	s.topic = topic
	s.mu.Unlock()

	if prev == topic {
		return
	}
	if prev != "" {
		h.metrics.HubSubscribersGauge.WithLabelValues(prev).Dec()
	}
	h.metrics.HubSubscribersGauge.WithLabelValues(topic).Inc()
}

// Unsubscribe clears clientID's active subscription entirely, removing it
// from every topic — it takes no topic argument because a client can only
// ever be subscribed to one.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.RLock()
	s, ok := h.subscribers[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	prev := s.topic
	s.topic = ""
	s.mu.Unlock()
	if prev != "" {
		h.metrics.HubSubscribersGauge.WithLabelValues(prev).Dec()
	}
}

// Publish fans msg out to every subscriber registered for (symbol, tf).
// A full subscriber queue drops the message rather than blocking the
// publisher — a slow client must never stall the Prediction Orchestrator
// or the Training Queue.
func (h *Hub) Publish(symbol string, tf model.Timeframe, msg Message) {
	topic := model.Subscription{Symbol: symbol, Timeframe: tf}.Key()
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("hub: marshal failure, dropping publish", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if !sub.subscribed(topic) {
			continue
		}
		select {
		case sub.send <- data:
		default:
			h.metrics.HubFanoutDropsTotal.WithLabelValues(topic).Inc()
			h.log.Warn("hub: subscriber queue full, dropping message", zap.String("client", sub.id), zap.String("topic", topic))
		}
	}
}

// SubscriberCount reports the number of registered subscribers, for
// tests and diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
