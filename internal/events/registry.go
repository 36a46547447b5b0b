// Package events fans out real-time notifications to connected identities
// over long-lived push streams.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const sinkBuffer = 16

// Event is the wire envelope. Type is always present; Fields are flattened
// alongside it. A heartbeat carries no fields and is only a liveness
// signal.
type Event struct {
	Type   string
	Fields map[string]any
}

// Heartbeat is the liveness event sent on every open sink.
func Heartbeat() Event {
	return Event{Type: "heartbeat"}
}

// MarshalJSON flattens the envelope into {"type": ..., <fields>...}.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		payload[k] = v
	}
	payload["type"] = e.Type
	return json.Marshal(payload)
}

// Sink is the single open push channel associated with one identity. The
// registry never closes the message channel; eviction is signalled through
// done so a racing send can never hit a closed channel.
type Sink struct {
	identityID int64
	admin      bool
	msgs       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

// Messages returns the stream of encoded events for this sink.
func (s *Sink) Messages() <-chan []byte {
	return s.msgs
}

// Done is closed when the sink has been evicted from the registry.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}

func (s *Sink) evict() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Registry is the in-memory directory of live per-identity sinks. Exactly
// one sink is retained per identity; a second connection replaces the
// first.
type Registry struct {
	mu     sync.RWMutex
	sinks  map[int64]*Sink
	logger *slog.Logger

	// onCount reports the live sink count after every change, for metrics.
	onCount func(int)
}

// NewRegistry constructs a Registry. onCount may be nil.
func NewRegistry(logger *slog.Logger, onCount func(int)) *Registry {
	return &Registry{sinks: make(map[int64]*Sink), logger: logger, onCount: onCount}
}

// Connect registers a sink for the identity, replacing and evicting any
// existing one (last-connect-wins).
func (r *Registry) Connect(identityID int64, admin bool) *Sink {
	sink := &Sink{
		identityID: identityID,
		admin:      admin,
		msgs:       make(chan []byte, sinkBuffer),
		done:       make(chan struct{}),
	}

	r.mu.Lock()
	if prev, ok := r.sinks[identityID]; ok {
		prev.evict()
	}
	r.sinks[identityID] = sink
	count := len(r.sinks)
	r.mu.Unlock()

	r.reportCount(count)
	return sink
}

// Disconnect removes the sink if it is still the one registered for its
// identity. A sink replaced by a newer connection stays untouched.
func (r *Registry) Disconnect(sink *Sink) {
	if sink == nil {
		return
	}
	r.mu.Lock()
	if current, ok := r.sinks[sink.identityID]; ok && current == sink {
		delete(r.sinks, sink.identityID)
	}
	count := len(r.sinks)
	r.mu.Unlock()

	sink.evict()
	r.reportCount(count)
}

// Send pushes an event to the identity's sink, if connected. A failed
// enqueue is an implicit disconnect: the sink is evicted, nothing is
// buffered or retried.
func (r *Registry) Send(identityID int64, event Event) {
	r.mu.RLock()
	sink, ok := r.sinks[identityID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.deliver(sink, event)
}

// SendMany pushes an event to several identities.
func (r *Registry) SendMany(identityIDs []int64, event Event) {
	for _, id := range identityIDs {
		r.Send(id, event)
	}
}

// BroadcastAdmins pushes an event to every sink connected as admin.
func (r *Registry) BroadcastAdmins(event Event) {
	r.mu.RLock()
	admins := make([]*Sink, 0, len(r.sinks))
	for _, sink := range r.sinks {
		if sink.admin {
			admins = append(admins, sink)
		}
	}
	r.mu.RUnlock()

	for _, sink := range admins {
		r.deliver(sink, event)
	}
}

func (r *Registry) deliver(sink *Sink, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case sink.msgs <- payload:
	case <-sink.done:
	default:
		if r.logger != nil {
			r.logger.Warn("event sink stalled, evicting", slog.Int64("identity_id", sink.identityID))
		}
		r.Disconnect(sink)
	}
}

// Len returns the number of connected identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Close evicts every sink. Called once on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sinks := make([]*Sink, 0, len(r.sinks))
	for _, sink := range r.sinks {
		sinks = append(sinks, sink)
	}
	r.sinks = make(map[int64]*Sink)
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.evict()
	}
	r.reportCount(0)
}

func (r *Registry) reportCount(count int) {
	if r.onCount != nil {
		r.onCount(count)
	}
}
