package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/platform/httpx"
)

// Handler serves the long-lived push stream. Payload is one JSON envelope
// per line.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	heartbeat time.Duration

	// isAdmin decides whether the connecting identity receives admin
	// broadcasts.
	isAdmin func(ctx context.Context, id *identity.Identity) bool
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, registry *Registry, heartbeat time.Duration, isAdmin func(context.Context, *identity.Identity) bool) *Handler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Handler{logger: logger, registry: registry, heartbeat: heartbeat, isAdmin: isAdmin}
}

// MountRoutes registers the stream endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stream", h.stream)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if id == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "streaming unsupported")
		return
	}

	admin := h.isAdmin != nil && h.isAdmin(r.Context(), id)
	sink := h.registry.Connect(id.UserID, admin)
	defer h.registry.Disconnect(sink)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The heartbeat ticker is per connection; it reaps half-closed
	// connections the transport never signalled as closed.
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	heartbeat, _ := Heartbeat().MarshalJSON()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sink.Done():
			return
		case payload := <-sink.Messages():
			if !h.write(w, flusher, payload) {
				return
			}
		case <-ticker.C:
			if !h.write(w, flusher, heartbeat) {
				return
			}
		}
	}
}

func (h *Handler) write(w http.ResponseWriter, flusher http.Flusher, payload []byte) bool {
	if _, err := w.Write(append(payload, '\n')); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
