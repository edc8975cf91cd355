// Package memstore is an in-memory ledger store. Transactions run against a
// private copy of the state that replaces the shared state only on commit, so
// a failing transaction leaves no trace. Transactions are serialized by a
// single mutex, which stands in for the row locks of the Postgres store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store"
)

// Store implements store.Store in memory
type Store struct {
	mu       sync.Mutex
	state    *state
	defaults domain.AffiliateConfig
}

var _ store.Store = (*Store)(nil)

type state struct {
	wallets    map[string]*domain.Wallet // by user id
	statements []*domain.Statement
	payments   map[string]*domain.Payment
	referrers  map[string]string // referred user id -> referrer
	bets       []*domain.Bet
	affiliate  *domain.AffiliateConfig
}

// New creates an empty store
func New(defaults domain.AffiliateConfig) *Store {
	return &Store{
		defaults: defaults,
		state: &state{
			wallets:   make(map[string]*domain.Wallet),
			payments:  make(map[string]*domain.Payment),
			referrers: make(map[string]string),
		},
	}
}

func (s *state) clone() *state {
	c := &state{
		wallets:    make(map[string]*domain.Wallet, len(s.wallets)),
		statements: append([]*domain.Statement(nil), s.statements...),
		payments:   make(map[string]*domain.Payment, len(s.payments)),
		referrers:  make(map[string]string, len(s.referrers)),
		bets:       append([]*domain.Bet(nil), s.bets...),
	}
	for k, w := range s.wallets {
		cp := *w
		c.wallets[k] = &cp
	}
	for k, p := range s.payments {
		c.payments[k] = p.Clone()
	}
	for k, v := range s.referrers {
		c.referrers[k] = v
	}
	if s.affiliate != nil {
		cp := *s.affiliate
		c.affiliate = &cp
	}
	return c
}

// WithTx implements store.Store. Commit hooks run after the lock is released.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	t, err := s.commit(ctx, fn)
	if err != nil {
		return err
	}
	for _, hook := range t.hooks {
		hook()
	}
	return nil
}

func (s *Store) commit(ctx context.Context, fn func(tx store.Tx) error) (*tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &tx{st: s.state.clone(), defaults: s.defaults}
	if err := fn(t); err != nil {
		return nil, err
	}
	s.state = t.st
	return t, nil
}

// Wallet implements store.Store
func (s *Store) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.state.wallets[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// Statements implements store.Store
func (s *Store) Statements(ctx context.Context, walletID string, limit, offset int) ([]*domain.Statement, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Statement
	for i := len(s.state.statements) - 1; i >= 0; i-- {
		if st := s.state.statements[i]; st.WalletID == walletID {
			cp := *st
			matched = append(matched, &cp)
		}
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// Payment implements store.Store
func (s *Store) Payment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.findPayment(func(p *domain.Payment) bool { return p.ID == id })
}

// PaymentByProviderID implements store.Store
func (s *Store) PaymentByProviderID(ctx context.Context, providerID string) (*domain.Payment, error) {
	if providerID == "" {
		return nil, domain.ErrNotFound
	}
	return s.findPayment(func(p *domain.Payment) bool { return p.ProviderID == providerID })
}

// PaymentByExternalID implements store.Store
func (s *Store) PaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	if externalID == "" {
		return nil, domain.ErrNotFound
	}
	return s.findPayment(func(p *domain.Payment) bool { return p.ExternalID == externalID })
}

func (s *Store) findPayment(match func(*domain.Payment) bool) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.state.payments {
		if match(p) {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

// StalledWithdrawals implements store.Store
func (s *Store) StalledWithdrawals(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Payment
	for _, p := range s.state.payments {
		if p.Type == domain.PaymentWithdraw && p.Status == domain.PaymentProcessing &&
			p.ProviderID == "" && p.Meta(domain.MetaDispatchRequestedAt) != "" &&
			p.UpdatedAt.Before(cutoff) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SeedWallet creates or overwrites a wallet with the given balance. The
// opening balance is recorded as a DEPOSIT statement so the trail reconciles.
func (s *Store) SeedWallet(userID string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, _ := domain.NewWallet("wal_"+userID, userID)
	w.Balance = balance
	s.state.wallets[userID] = w
	if balance.IsPositive() {
		s.state.statements = append(s.state.statements, &domain.Statement{
			ID:          "st_seed_" + userID,
			WalletID:    w.ID,
			Amount:      balance,
			Description: "opening balance",
			Type:        domain.StatementDeposit,
			CreatedAt:   time.Now().UTC(),
		})
	}
}

// SeedReferral records that referrer introduced referred
func (s *Store) SeedReferral(referrer, referred string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.referrers[referred] = referrer
}

// SeedAffiliateConfig stores the singleton configuration row
func (s *Store) SeedAffiliateConfig(cfg domain.AffiliateConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.affiliate = &cfg
}

// AllStatements returns every statement of a wallet in insertion order
func (s *Store) AllStatements(walletID string) []*domain.Statement {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Statement
	for _, st := range s.state.statements {
		if st.WalletID == walletID {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out
}

// Bets returns every stored bet
func (s *Store) Bets() []*domain.Bet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Bet(nil), s.state.bets...)
}

// Payments returns every stored payment
func (s *Store) Payments() []*domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Payment, 0, len(s.state.payments))
	for _, p := range s.state.payments {
		out = append(out, p.Clone())
	}
	return out
}

// TouchPayment rewinds a payment's UpdatedAt, for reconciler tests
func (s *Store) TouchPayment(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.state.payments[id]; ok {
		p.UpdatedAt = at
	}
}
