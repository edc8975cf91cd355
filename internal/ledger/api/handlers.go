package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bolao/internal/common/api"
	"bolao/internal/common/middleware"
	"bolao/internal/ledger"
	"bolao/internal/ledger/domain"
)

// Handler handles wallet HTTP requests
type Handler struct {
	accounting *ledger.Accounting
}

// NewHandler creates a new wallet handler
func NewHandler(accounting *ledger.Accounting) *Handler {
	return &Handler{accounting: accounting}
}

// Routes returns the wallet routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.OpenWallet)
	r.Get("/", h.GetWallet)
	r.Get("/statements", h.ListStatements)
	r.Get("/reconcile", h.Reconcile)

	return r
}

// OpenWallet handles POST /wallet
func (h *Handler) OpenWallet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	wallet, err := h.accounting.OpenWallet(r.Context(), nil, userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, wallet)
}

// GetWallet handles GET /wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	wallet, err := h.accounting.GetWallet(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, wallet)
}

// ListStatements handles GET /wallet/statements
func (h *Handler) ListStatements(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	page := api.GetPaginationParams(r, 50, 100)

	statements, total, err := h.accounting.ListStatements(r.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		WriteError(w, err)
		return
	}

	api.WritePaginated(w, statements, &api.Pagination{
		Limit:   page.Limit,
		Offset:  page.Offset,
		Total:   total,
		HasMore: int64(page.Offset+len(statements)) < total,
	})
}

// Reconcile handles GET /wallet/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	rec, err := h.accounting.Reconcile(r.Context(), userID)
	if err != nil && !errors.Is(err, ledger.ErrUnbalanced) {
		WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, rec)
}

// WriteError maps ledger and settlement errors to HTTP responses. User
// errors become 4xx so clients can tell "add funds" from "try later".
func WriteError(w http.ResponseWriter, err error) {
	var pspErr *domain.PSPError
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientFunds, "insufficient funds")
	case errors.Is(err, domain.ErrInsufficientLockedFunds):
		api.WriteError(w, http.StatusConflict, api.ErrCodeInsufficientLocked, "insufficient locked funds")
	case errors.Is(err, domain.ErrInvalidAmount):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInvalidAmount, err.Error())
	case errors.Is(err, domain.ErrInvalidNumbers):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInvalidNumbers, err.Error())
	case errors.Is(err, domain.ErrInvalidPixKey):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInvalidPixKey, "pix key must be the account holder's document")
	case errors.Is(err, domain.ErrClosed):
		api.WriteError(w, http.StatusConflict, api.ErrCodePoolClosed, "pool is closed")
	case errors.Is(err, domain.ErrNotFound):
		api.NotFound(w, "not found")
	case errors.Is(err, domain.ErrAlreadySettled):
		api.WriteError(w, http.StatusConflict, api.ErrCodeAlreadySettled, "payment already settled")
	case errors.Is(err, domain.ErrInvalidTransition):
		api.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrInvalidSignature):
		api.WriteError(w, http.StatusUnauthorized, api.ErrCodeInvalidSignature, "invalid signature")
	case errors.As(err, &pspErr):
		if pspErr.Message != "" {
			api.BadGateway(w, pspErr.Message)
			return
		}
		api.BadGateway(w, "payment provider unavailable, try again later")
	default:
		api.InternalError(w, "internal error")
	}
}
