package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bolao/internal/common/database"
	"bolao/internal/ledger/domain"
)

const walletColumns = `id, user_id, balance, locked, created_at, updated_at`

const paymentColumns = `id, user_id, type, status, amount, provider, provider_id,
	external_id, metadata, receipt_path, created_at, updated_at`

func getWallet(ctx context.Context, q database.Querier, userID string, forUpdate bool) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var w domain.Wallet
	err := q.QueryRow(ctx, query, userID).Scan(
		&w.ID, &w.UserID, &w.Balance, &w.Locked, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("wallet for user %s: %w", userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning wallet: %w", err)
	}
	return &w, nil
}

// getPayment looks a payment up by one of its unique columns
func getPayment(ctx context.Context, q database.Querier, column, value string, forUpdate bool) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + column + ` = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanPayment(q.QueryRow(ctx, query, value))
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("payment %s=%s: %w", column, value, domain.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var providerID, receiptPath *string
	var metadata []byte

	err := row.Scan(
		&p.ID, &p.UserID, &p.Type, &p.Status, &p.Amount, &p.Provider, &providerID,
		&p.ExternalID, &metadata, &receiptPath, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning payment: %w", err)
	}

	if providerID != nil {
		p.ProviderID = *providerID
	}
	if receiptPath != nil {
		p.ReceiptPath = *receiptPath
	}
	p.Metadata = make(map[string]string)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decoding payment metadata: %w", err)
		}
	}

	return &p, nil
}

func scanStatements(rows pgx.Rows) ([]*domain.Statement, error) {
	var statements []*domain.Statement
	for rows.Next() {
		var st domain.Statement
		var referenceID *string
		err := rows.Scan(
			&st.ID, &st.WalletID, &st.Amount, &st.Description, &st.Type, &referenceID, &st.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning statement: %w", err)
		}
		if referenceID != nil {
			st.ReferenceID = *referenceID
		}
		statements = append(statements, &st)
	}
	return statements, rows.Err()
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
