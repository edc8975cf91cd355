package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bolao/internal/ledger/domain"
)

type tx struct {
	st       *state
	defaults domain.AffiliateConfig
	hooks    []func()
}

func (t *tx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *tx) CreateWallet(ctx context.Context, w *domain.Wallet) (bool, error) {
	if _, ok := t.st.wallets[w.UserID]; ok {
		return false, nil
	}
	cp := *w
	t.st.wallets[w.UserID] = &cp
	return true, nil
}

func (t *tx) WalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error) {
	w, ok := t.st.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet for user %s: %w", userID, domain.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (t *tx) SaveWallet(ctx context.Context, w *domain.Wallet) error {
	if _, ok := t.st.wallets[w.UserID]; !ok {
		return fmt.Errorf("wallet %s: %w", w.ID, domain.ErrNotFound)
	}
	// Mirrors the CHECK constraints on the wallets table.
	if err := w.Validate(); err != nil {
		return err
	}
	cp := *w
	t.st.wallets[w.UserID] = &cp
	return nil
}

func (t *tx) AppendStatement(ctx context.Context, st *domain.Statement) error {
	cp := *st
	t.st.statements = append(t.st.statements, &cp)
	return nil
}

func (t *tx) StatementSum(ctx context.Context, walletID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, st := range t.st.statements {
		if st.WalletID == walletID {
			sum = sum.Add(st.Amount)
		}
	}
	return sum, nil
}

func (t *tx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	for _, existing := range t.st.payments {
		if existing.ExternalID == p.ExternalID {
			return fmt.Errorf("payment %s already exists", p.ExternalID)
		}
	}
	t.st.payments[p.ID] = p.Clone()
	return nil
}

func (t *tx) PaymentForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

func (t *tx) SavePayment(ctx context.Context, p *domain.Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrNotFound)
	}
	cp := p.Clone()
	cp.UpdatedAt = time.Now().UTC()
	p.UpdatedAt = cp.UpdatedAt
	t.st.payments[p.ID] = cp
	return nil
}

func (t *tx) DirectReferrer(ctx context.Context, userID string) (string, error) {
	return t.st.referrers[userID], nil
}

func (t *tx) CountBets(ctx context.Context, userID string) (int64, error) {
	var n int64
	for _, b := range t.st.bets {
		if b.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (t *tx) CreateBet(ctx context.Context, b *domain.Bet) error {
	cp := *b
	cp.Numbers = append([]int(nil), b.Numbers...)
	t.st.bets = append(t.st.bets, &cp)
	return nil
}

func (t *tx) AffiliateConfig(ctx context.Context) (*domain.AffiliateConfig, error) {
	if t.st.affiliate == nil {
		cfg := t.defaults
		cfg.UpdatedAt = time.Now().UTC()
		t.st.affiliate = &cfg
	}
	cp := *t.st.affiliate
	return &cp, nil
}
