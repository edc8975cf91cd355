package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bolao/internal/common/api"
	"bolao/internal/common/middleware"
	"bolao/internal/common/money"
	ledgerapi "bolao/internal/ledger/api"
	"bolao/internal/ledger/domain"
	"bolao/internal/payments"
	"bolao/internal/providers/suitpay"
)

const maxWebhookBytes = 64 << 10

// Handler handles payment HTTP requests
type Handler struct {
	service *payments.Service
	logger  *slog.Logger
}

// NewHandler creates a new payment handler
func NewHandler(service *payments.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the user-facing payment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/deposits", h.RequestDeposit)
	r.Post("/withdrawals", h.RequestWithdrawal)
	r.Get("/{id}", h.GetPayment)

	return r
}

// AdminRoutes returns the back-office payment routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{id}/confirm", h.ConfirmDeposit)
	r.Post("/{id}/dispatch", h.Dispatch)
	r.Post("/{id}/fail", h.FailWithdrawal)

	return r
}

// WebhookRoutes returns the PSP callback routes
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/cash-in", h.CashIn)
	r.Post("/cash-out", h.CashOut)

	return r
}

// DepositRequest is the API request for a PIX deposit
type DepositRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// RequestDeposit handles POST /payments/deposits
func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		api.BadRequest(w, "invalid amount")
		return
	}

	result, err := h.service.RequestDeposit(r.Context(), middleware.GetUserID(r.Context()), amount)
	if err != nil {
		ledgerapi.WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

// WithdrawalRequest is the API request for a PIX withdrawal
type WithdrawalRequest struct {
	Amount     string `json:"amount" validate:"required"`
	PixKey     string `json:"pix_key" validate:"required,max=140"`
	PixKeyType string `json:"pix_key_type" validate:"required,oneof=document email phoneNumber randomKey"`
}

// RequestWithdrawal handles POST /payments/withdrawals
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		api.BadRequest(w, "invalid amount")
		return
	}

	p, err := h.service.RequestWithdrawal(r.Context(), payments.WithdrawalRequest{
		UserID:     middleware.GetUserID(r.Context()),
		Amount:     amount,
		PixKey:     req.PixKey,
		PixKeyType: req.PixKeyType,
	})
	if err != nil {
		var pspErr *domain.PSPError
		if p != nil && errors.As(err, &pspErr) {
			api.WriteErrorWithDetails(w, http.StatusBadGateway, api.ErrCodeBadGateway, pspErr.Error(), map[string]string{
				"payment_id": p.ID,
				"status":     string(p.Status),
			})
			return
		}
		ledgerapi.WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, p)
}

// GetPayment handles GET /payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPayment(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		ledgerapi.WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// ConfirmDeposit handles POST /admin/payments/{id}/confirm
func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.ConfirmDeposit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ledgerapi.WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// Dispatch handles POST /admin/payments/{id}/dispatch
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Dispatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ledgerapi.WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// FailRequest is the API request for denying a withdrawal
type FailRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// FailWithdrawal handles POST /admin/payments/{id}/fail
func (h *Handler) FailWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if r.ContentLength != 0 {
		if err := api.DecodeAndValidate(r, &req); err != nil {
			api.ValidationError(w, err)
			return
		}
	}

	p, err := h.service.FailWithdrawal(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		ledgerapi.WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// CashIn handles POST /webhooks/suitpay/cash-in
func (h *Handler) CashIn(w http.ResponseWriter, r *http.Request) {
	var payload suitpay.CashInWebhook
	if !h.decodeWebhook(w, r, &payload) {
		return
	}
	h.ack(w, h.service.HandleCashIn(r.Context(), &payload))
}

// CashOut handles POST /webhooks/suitpay/cash-out
func (h *Handler) CashOut(w http.ResponseWriter, r *http.Request) {
	var payload suitpay.CashOutWebhook
	if !h.decodeWebhook(w, r, &payload) {
		return
	}
	h.ack(w, h.service.HandleCashOut(r.Context(), &payload))
}

func (h *Handler) decodeWebhook(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		api.BadRequest(w, "failed to read body")
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		h.logger.Warn("failed to parse webhook payload", "error", err, "path", r.URL.Path)
		api.BadRequest(w, "invalid json")
		return false
	}
	return true
}

// ack answers the PSP. Anything but a 2xx makes it retry, so errors that a
// retry could fix are 5xx and everything else is final.
func (h *Handler) ack(w http.ResponseWriter, err error) {
	if err == nil {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	h.logger.Warn("webhook not applied", "error", err)
	ledgerapi.WriteError(w, err)
}
