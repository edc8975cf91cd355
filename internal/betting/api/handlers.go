package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bolao/internal/betting"
	"bolao/internal/common/api"
	"bolao/internal/common/middleware"
	ledgerapi "bolao/internal/ledger/api"
	"bolao/internal/transparency"
)

// RecentBets reads the public bet feed of a pool
type RecentBets interface {
	Recent(ctx context.Context, poolID string, n int64) ([]transparency.BetRecord, error)
}

// Handler handles bet HTTP requests
type Handler struct {
	service *betting.Service
	recent  RecentBets
}

// NewHandler creates a new bet handler
func NewHandler(service *betting.Service, recent RecentBets) *Handler {
	return &Handler{service: service, recent: recent}
}

// Routes returns the routes mounted under /pools/{poolId}
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(middleware.RequireUser).Post("/bets", h.PlaceBet)
	r.Get("/bets/recent", h.RecentBets)

	return r
}

// PlaceBetRequest is the API request for buying a ticket
type PlaceBetRequest struct {
	Numbers  []int `json:"numbers" validate:"omitempty,len=10,unique,dive,gte=1,lte=60"`
	AutoPick bool  `json:"auto_pick"`
}

// PlaceBet handles POST /pools/{poolId}/bets
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolId")
	if poolID == "" {
		api.BadRequest(w, "pool ID required")
		return
	}

	var req PlaceBetRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	receipt, err := h.service.PlaceBet(r.Context(), betting.PlaceBetRequest{
		PoolID:   poolID,
		UserID:   middleware.GetUserID(r.Context()),
		Numbers:  req.Numbers,
		AutoPick: req.AutoPick,
	})
	if err != nil {
		ledgerapi.WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, receipt)
}

// RecentBets handles GET /pools/{poolId}/bets/recent
func (h *Handler) RecentBets(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolId")

	n := int64(20)
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.ParseInt(v, 10, 64); err == nil && l > 0 && l <= 100 {
			n = l
		}
	}

	records, err := h.recent.Recent(r.Context(), poolID, n)
	if err != nil {
		api.InternalError(w, "failed to read recent bets")
		return
	}

	api.WriteData(w, http.StatusOK, records)
}
