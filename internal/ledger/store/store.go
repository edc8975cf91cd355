package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"bolao/internal/common/database"
	"bolao/internal/ledger/domain"
)

// Tx is the set of row-level operations available inside one ledger
// transaction. Methods ending in ForUpdate take a row lock held until commit.
type Tx interface {
	CreateWallet(ctx context.Context, w *domain.Wallet) (bool, error)
	WalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error)
	SaveWallet(ctx context.Context, w *domain.Wallet) error
	AppendStatement(ctx context.Context, st *domain.Statement) error
	StatementSum(ctx context.Context, walletID string) (decimal.Decimal, error)

	CreatePayment(ctx context.Context, p *domain.Payment) error
	PaymentForUpdate(ctx context.Context, id string) (*domain.Payment, error)
	SavePayment(ctx context.Context, p *domain.Payment) error

	// DirectReferrer returns the level-1 referrer of userID, or "" if none.
	DirectReferrer(ctx context.Context, userID string) (string, error)
	CountBets(ctx context.Context, userID string) (int64, error)
	CreateBet(ctx context.Context, b *domain.Bet) error

	// AffiliateConfig returns the singleton row, creating it with defaults if absent.
	AffiliateConfig(ctx context.Context) (*domain.AffiliateConfig, error)

	// AfterCommit registers fn to run once the outermost transaction has
	// committed. It never runs if the transaction rolls back.
	AfterCommit(fn func())
}

// Store is the durable ledger: transactional writes plus plain reads.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Wallet(ctx context.Context, userID string) (*domain.Wallet, error)
	Statements(ctx context.Context, walletID string, limit, offset int) ([]*domain.Statement, int64, error)

	Payment(ctx context.Context, id string) (*domain.Payment, error)
	PaymentByProviderID(ctx context.Context, providerID string) (*domain.Payment, error)
	PaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error)
	// StalledWithdrawals lists PROCESSING withdrawals whose dispatch was
	// requested but never acknowledged by the PSP, last touched before cutoff.
	StalledWithdrawals(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Payment, error)
}

const maxTxAttempts = 3

// PostgresStore implements Store on top of pgx
type PostgresStore struct {
	db       *database.DB
	defaults domain.AffiliateConfig
}

// NewPostgres creates a Postgres-backed ledger store. defaults seed the
// affiliate configuration row the first time it is read.
func NewPostgres(db *database.DB, defaults domain.AffiliateConfig) *PostgresStore {
	return &PostgresStore{db: db, defaults: defaults}
}

// WithTx runs fn in a read-committed transaction, re-running it from scratch
// on deadlock or serialization failure.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var committed *pgTx
	err := database.Retry(ctx, maxTxAttempts, func() error {
		t := &pgTx{defaults: s.defaults}
		err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
			t.tx = tx
			return fn(t)
		})
		if err == nil {
			committed = t
		}
		return err
	})
	if err != nil {
		return err
	}
	committed.runHooks()
	return nil
}

// Wallet retrieves a user's wallet without locking it
func (s *PostgresStore) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return getWallet(ctx, s.db, userID, false)
}

// Statements lists a wallet's statement lines, newest first. The count and
// the page come from the same snapshot.
func (s *PostgresStore) Statements(ctx context.Context, walletID string, limit, offset int) ([]*domain.Statement, int64, error) {
	var statements []*domain.Statement
	var total int64
	err := s.db.WithTxOptions(ctx, database.ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_statements WHERE wallet_id = $1`, walletID).Scan(&total); err != nil {
			return fmt.Errorf("counting statements: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT id, wallet_id, amount, description, type, reference_id, created_at
			FROM wallet_statements
			WHERE wallet_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3
		`, walletID, limit, offset)
		if err != nil {
			return fmt.Errorf("listing statements: %w", err)
		}
		defer rows.Close()

		statements, err = scanStatements(rows)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return statements, total, nil
}

// Payment retrieves a payment by ID
func (s *PostgresStore) Payment(ctx context.Context, id string) (*domain.Payment, error) {
	return getPayment(ctx, s.db, "id", id, false)
}

// PaymentByProviderID retrieves a payment by the PSP transaction id
func (s *PostgresStore) PaymentByProviderID(ctx context.Context, providerID string) (*domain.Payment, error) {
	return getPayment(ctx, s.db, "provider_id", providerID, false)
}

// PaymentByExternalID retrieves a payment by the request number we sent the PSP
func (s *PostgresStore) PaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	return getPayment(ctx, s.db, "external_id", externalID, false)
}

// StalledWithdrawals implements Store
func (s *PostgresStore) StalledWithdrawals(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Payment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE type = 'WITHDRAW' AND status = 'PROCESSING' AND provider_id IS NULL
		  AND metadata ? '`+domain.MetaDispatchRequestedAt+`'
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stalled withdrawals: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
