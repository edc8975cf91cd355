package payments

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store"
)

// Reconciler re-dispatches withdrawals whose payout was requested but never
// acknowledged by the PSP. The PSP de-duplicates on the external id, so a
// re-dispatch cannot pay twice.
type Reconciler struct {
	service *Service
	store   store.Store
	cfg     Config
	logger  *slog.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(service *Service, st store.Store, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		service: service,
		store:   st,
		cfg:     cfg,
		logger:  logger.With("component", "withdrawal_reconciler"),
	}
}

// Run reconciles every ReconcileInterval until ctx is done
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.cfg.ReconcileInterval, "grace", r.cfg.ReconcileGrace)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// RunOnce re-dispatches one batch of stalled withdrawals and returns how
// many were acknowledged by the PSP.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.service.now().Add(-r.cfg.ReconcileGrace)
	stalled, err := r.store.StalledWithdrawals(ctx, cutoff, r.cfg.ReconcileBatch)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, p := range stalled {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}

		attempts, _ := strconv.Atoi(p.Meta(domain.MetaDispatchAttempts))
		if r.cfg.MaxDispatchAttempts > 0 && attempts >= r.cfg.MaxDispatchAttempts {
			r.logger.Error("withdrawal needs manual dispatch",
				"payment_id", p.ID,
				"attempts", attempts,
				"last_error", p.Meta(domain.MetaDispatchError),
			)
			continue
		}

		got, err := r.service.Dispatch(ctx, p.ID)
		var pspErr *domain.PSPError
		switch {
		case err == nil:
			dispatched++
			r.logger.Info("stalled withdrawal dispatched", "payment_id", got.ID, "provider_id", got.ProviderID)
		case errors.As(err, &pspErr):
			// Dispatch already recorded the outcome on the payment.
		default:
			r.logger.Error("re-dispatch failed", "error", err, "payment_id", p.ID)
		}
	}
	return dispatched, nil
}
