package betting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"bolao/internal/common/database"
	"bolao/internal/ledger/domain"
)

// Pool is the part of a pool the bet transaction needs
type Pool struct {
	ID          string
	Name        string
	TicketPrice decimal.Decimal
	StartsAt    time.Time
	ClosedAt    *time.Time
}

// IsClosed reports whether the pool stopped accepting bets at or before now
func (p *Pool) IsClosed(now time.Time) bool {
	return p.ClosedAt != nil && !p.ClosedAt.After(now)
}

// PoolLookup resolves pools
type PoolLookup interface {
	GetPool(ctx context.Context, poolID string) (*Pool, error)
}

// PostgresPools reads the pools table
type PostgresPools struct {
	db database.Querier
}

// NewPostgresPools creates a pool lookup over db
func NewPostgresPools(db database.Querier) *PostgresPools {
	return &PostgresPools{db: db}
}

// GetPool implements PoolLookup
func (p *PostgresPools) GetPool(ctx context.Context, poolID string) (*Pool, error) {
	var pool Pool
	err := p.db.QueryRow(ctx, `
		SELECT id, name, ticket_price, starts_at, closed_at
		FROM pools
		WHERE id = $1
	`, poolID).Scan(&pool.ID, &pool.Name, &pool.TicketPrice, &pool.StartsAt, &pool.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pool %s: %w", poolID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("reading pool %s: %w", poolID, err)
	}
	return &pool, nil
}
