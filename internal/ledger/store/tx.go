package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"bolao/internal/common/database"
	"bolao/internal/ledger/domain"
)

type pgTx struct {
	tx       pgx.Tx
	defaults domain.AffiliateConfig
	hooks    []func()
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *pgTx) runHooks() {
	for _, fn := range t.hooks {
		fn()
	}
}

func (t *pgTx) CreateWallet(ctx context.Context, w *domain.Wallet) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id, balance, locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`, w.ID, w.UserID, w.Balance, w.Locked, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("creating wallet: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) WalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error) {
	return getWallet(ctx, t.tx, userID, true)
}

func (t *pgTx) SaveWallet(ctx context.Context, w *domain.Wallet) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets SET balance = $2, locked = $3, updated_at = $4
		WHERE id = $1
	`, w.ID, w.Balance, w.Locked, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", w.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendStatement(ctx context.Context, st *domain.Statement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallet_statements (id, wallet_id, amount, description, type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, st.ID, st.WalletID, st.Amount, st.Description, st.Type, nullStr(st.ReferenceID), st.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending statement: %w", err)
	}
	return nil
}

func (t *pgTx) StatementSum(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM wallet_statements WHERE wallet_id = $1
	`, walletID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing statements: %w", err)
	}
	return sum, nil
}

func (t *pgTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling payment metadata: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO payments (
			id, user_id, type, status, amount, provider, provider_id,
			external_id, metadata, receipt_path, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		p.ID, p.UserID, p.Type, p.Status, p.Amount, p.Provider, nullStr(p.ProviderID),
		p.ExternalID, metadata, nullStr(p.ReceiptPath), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("payment %s: %w", p.ExternalID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating payment: %w", err)
	}
	return nil
}

func (t *pgTx) PaymentForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	return getPayment(ctx, t.tx, "id", id, true)
}

func (t *pgTx) SavePayment(ctx context.Context, p *domain.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling payment metadata: %w", err)
	}

	p.UpdatedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments SET
			status = $2, provider_id = $3, metadata = $4, receipt_path = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, p.Status, nullStr(p.ProviderID), metadata, nullStr(p.ReceiptPath), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DirectReferrer(ctx context.Context, userID string) (string, error) {
	var referrer string
	err := t.tx.QueryRow(ctx, `
		SELECT user_id FROM referrals WHERE referred_user_id = $1 AND level = 1
	`, userID).Scan(&referrer)
	if err != nil {
		if database.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("looking up referrer: %w", err)
	}
	return referrer, nil
}

func (t *pgTx) CountBets(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM bets WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting bets: %w", err)
	}
	return n, nil
}

func (t *pgTx) CreateBet(ctx context.Context, b *domain.Bet) error {
	numbers := make([]int16, len(b.Numbers))
	for i, n := range b.Numbers {
		numbers[i] = int16(n)
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO bets (id, pool_id, user_id, numbers, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.PoolID, b.UserID, numbers, b.Price, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating bet: %w", err)
	}
	return nil
}

func (t *pgTx) AffiliateConfig(ctx context.Context) (*domain.AffiliateConfig, error) {
	cfg, err := t.readAffiliateConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !database.IsNotFound(err) {
		return nil, fmt.Errorf("reading affiliate config: %w", err)
	}

	// A concurrent first reader may win the insert; the unique singleton key
	// turns ours into a no-op and both read the same row.
	_, err = t.tx.Exec(ctx, `
		INSERT INTO affiliate_config (singleton, first_level_percent, second_level_percent, first_bet_bonus, updated_at)
		VALUES (TRUE, $1, $2, $3, now())
		ON CONFLICT (singleton) DO NOTHING
	`, t.defaults.FirstLevelPercent, t.defaults.SecondLevelPercent, t.defaults.FirstBetBonus)
	if err != nil {
		return nil, fmt.Errorf("initializing affiliate config: %w", err)
	}

	cfg, err = t.readAffiliateConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading affiliate config: %w", err)
	}
	return cfg, nil
}

func (t *pgTx) readAffiliateConfig(ctx context.Context) (*domain.AffiliateConfig, error) {
	var cfg domain.AffiliateConfig
	err := t.tx.QueryRow(ctx, `
		SELECT first_level_percent, second_level_percent, first_bet_bonus, updated_at
		FROM affiliate_config WHERE singleton
	`).Scan(&cfg.FirstLevelPercent, &cfg.SecondLevelPercent, &cfg.FirstBetBonus, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
