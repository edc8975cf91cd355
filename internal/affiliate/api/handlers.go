package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bolao/internal/affiliate"
	"bolao/internal/common/api"
	"bolao/internal/common/events"
	"bolao/internal/common/middleware"
)

// Handler handles affiliate configuration requests
type Handler struct {
	cache     *affiliate.Cache
	publisher events.Publisher
	logger    *slog.Logger
}

// NewHandler creates a new affiliate handler. publisher may be nil when
// running a single replica.
func NewHandler(cache *affiliate.Cache, publisher events.Publisher, logger *slog.Logger) *Handler {
	return &Handler{cache: cache, publisher: publisher, logger: logger}
}

// Routes returns the admin affiliate routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/invalidate", h.Invalidate)

	return r
}

// Invalidate handles POST /admin/affiliate/invalidate. The local cache is
// dropped immediately and the other replicas are told through the event bus.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.cache.Invalidate()

	if h.publisher != nil {
		event, err := events.NewEvent(events.EventAffiliateConfigUpdated, events.AggregateAffiliate, "config", struct{}{})
		if err == nil {
			err = h.publisher.Publish(r.Context(), event.WithCorrelation(middleware.GetCorrelationID(r.Context())))
		}
		if err != nil {
			h.logger.Warn("failed to broadcast affiliate invalidation", "error", err)
		}
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
