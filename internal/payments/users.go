package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bolao/internal/common/database"
	"bolao/internal/ledger/domain"
)

// PostgresUsers reads profiles from the users table
type PostgresUsers struct {
	db database.Querier
}

// NewPostgresUsers creates a user directory over db
func NewPostgresUsers(db database.Querier) *PostgresUsers {
	return &PostgresUsers{db: db}
}

// Profile implements Users
func (u *PostgresUsers) Profile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := u.db.QueryRow(ctx, `SELECT name, document, email FROM users WHERE id = $1`, userID).
		Scan(&p.Name, &p.TaxID, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("reading user %s: %w", userID, err)
	}
	return &p, nil
}
