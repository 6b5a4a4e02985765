// Package stream fans messages out to live subscriber connections.
// Delivery is best effort: a subscriber whose transport is gone or
// whose send fails is dropped and the fan-out continues.
package stream

import (
	"bytes"
	"encoding/json"
	"sync"

	"kiwoomd/internal/logger"
)

// Logical stream names.
const (
	StreamRealtime  = "realtime"
	StreamExecution = "execution"
)

// Transport is one subscriber's write side. Implementations must be
// safe for use from multiple goroutines.
type Transport interface {
	Send(payload []byte) error
	IsOpen() bool
	Close() error
}

type subscriber struct {
	id string
	tr Transport
}

// Hub tracks subscribers per stream and serializes each broadcast
// payload exactly once.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[string]*subscriber
	// last dashboard payload, for suppressing unchanged re-broadcasts
	lastDashboard []byte
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[string]*subscriber)}
}

// Subscribe attaches a transport to a stream under id. Subscribing the
// same id again replaces the previous transport.
func (h *Hub) Subscribe(stream, id string, tr Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[stream]
	if m == nil {
		m = make(map[string]*subscriber)
		h.subs[stream] = m
	}
	m[id] = &subscriber{id: id, tr: tr}
	logger.Debugf("stream: %s subscribed to %s (%d total)", id, stream, len(m))
}

// Unsubscribe detaches id from a stream. Unknown ids are a no-op.
func (h *Hub) Unsubscribe(stream, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[stream], id)
}

// UnsubscribeAll detaches id from every stream.
func (h *Hub) UnsubscribeAll(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.subs {
		delete(m, id)
	}
}

// Count reports the live subscriber count of a stream.
func (h *Hub) Count(stream string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[stream])
}

// Broadcast serializes v once and writes it to every subscriber of the
// stream. Returns the number of successful sends.
func (h *Hub) Broadcast(stream string, v any) int {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("stream: marshal for %s failed: %v", stream, err)
		return 0
	}
	return h.fanOut(stream, payload)
}

// BroadcastDashboard publishes an account snapshot message on the
// execution stream, unless its serialized form is byte-identical to the
// previous one. High-frequency balance deltas otherwise flood clients
// with no-op updates.
func (h *Hub) BroadcastDashboard(v any) int {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("stream: marshal dashboard failed: %v", err)
		return 0
	}
	h.mu.Lock()
	if bytes.Equal(h.lastDashboard, payload) {
		h.mu.Unlock()
		return 0
	}
	h.lastDashboard = payload
	h.mu.Unlock()
	return h.fanOut(StreamExecution, payload)
}

// SendTo writes v to one subscriber, searching every stream.
func (h *Hub) SendTo(id string, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("stream: marshal for %s failed: %v", id, err)
		return false
	}
	h.mu.Lock()
	var target *subscriber
	for _, m := range h.subs {
		if s, ok := m[id]; ok {
			target = s
			break
		}
	}
	h.mu.Unlock()
	if target == nil {
		return false
	}
	if err := target.tr.Send(payload); err != nil {
		logger.Warnf("stream: send to %s failed: %v", id, err)
		h.drop(target.id)
		return false
	}
	return true
}

// fanOut iterates a snapshot of the stream's subscribers so sends never
// run under the lock and removal during iteration is safe.
func (h *Hub) fanOut(stream string, payload []byte) int {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs[stream]))
	for _, s := range h.subs[stream] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	sent := 0
	for _, s := range targets {
		if !s.tr.IsOpen() {
			h.drop(s.id)
			continue
		}
		if err := s.tr.Send(payload); err != nil {
			logger.Warnf("stream: dropping %s: %v", s.id, err)
			h.drop(s.id)
			continue
		}
		sent++
	}
	return sent
}

// drop removes id everywhere and closes its transport.
func (h *Hub) drop(id string) {
	h.mu.Lock()
	var tr Transport
	for _, m := range h.subs {
		if s, ok := m[id]; ok {
			tr = s.tr
			delete(m, id)
		}
	}
	h.mu.Unlock()
	if tr != nil {
		_ = tr.Close()
	}
}

// Close closes every transport and forgets all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.subs {
		for id, s := range m {
			_ = s.tr.Close()
			delete(m, id)
		}
	}
}
