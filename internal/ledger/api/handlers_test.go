package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolao/internal/common/middleware"
	"bolao/internal/ledger"
	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store/memstore"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("debit: %w", domain.ErrInsufficientFunds), http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{domain.ErrInsufficientLockedFunds, http.StatusConflict, "INSUFFICIENT_LOCKED_FUNDS"},
		{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{domain.ErrInvalidNumbers, http.StatusBadRequest, "INVALID_NUMBERS"},
		{domain.ErrInvalidPixKey, http.StatusBadRequest, "INVALID_PIX_KEY"},
		{domain.ErrClosed, http.StatusConflict, "POOL_CLOSED"},
		{fmt.Errorf("wallet: %w", domain.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrAlreadySettled, http.StatusConflict, "ALREADY_SETTLED"},
		{domain.ErrInvalidTransition, http.StatusConflict, "CONFLICT"},
		{domain.ErrInvalidSignature, http.StatusUnauthorized, "INVALID_SIGNATURE"},
		{&domain.PSPError{Op: "pix_out", Message: "key not found"}, http.StatusBadGateway, "PSP_ERROR"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))
	assert.NotContains(t, rec.Body.String(), "password")
}

func newWalletServer(t *testing.T) (*memstore.Store, http.Handler) {
	t.Helper()
	st := memstore.New(domain.AffiliateConfig{})
	accounting := ledger.NewAccounting(st, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return st, middleware.UserExtractor(NewHandler(accounting).Routes())
}

func get(h http.Handler, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(middleware.HeaderUserID, user)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWalletEndpoints(t *testing.T) {
	st, h := newWalletServer(t)
	st.SeedWallet("alice", decimal.RequireFromString("80"))

	rec := get(h, "/", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var wallet struct {
		Data struct {
			Balance string `json:"balance"`
			Locked  string `json:"locked"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&wallet))
	assert.Equal(t, "80", wallet.Data.Balance)
	assert.Equal(t, "0", wallet.Data.Locked)

	rec = get(h, "/statements?limit=10", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data       []json.RawMessage `json:"data"`
		Pagination struct {
			Total   int64 `json:"total"`
			HasMore bool  `json:"has_more"`
		} `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Len(t, page.Data, 1)
	assert.EqualValues(t, 1, page.Pagination.Total)
	assert.False(t, page.Pagination.HasMore)

	rec = get(h, "/reconcile", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balanced":true`)
}

func TestGetWalletNotFound(t *testing.T) {
	_, h := newWalletServer(t)

	rec := get(h, "/", "nobody")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenWallet(t *testing.T) {
	st, h := newWalletServer(t)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(middleware.HeaderUserID, "bob")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	w, err := st.Wallet(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}
