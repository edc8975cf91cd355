// Package settings reads admin-tunable key-value settings. Absent keys fall
// back to the caller's default.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"bolao/internal/common/database"
	"bolao/internal/common/money"
)

// Known keys
const (
	KeyMinDeposit         = "payments.min_deposit"
	KeyMinWithdrawal      = "payments.min_withdrawal"
	KeyAutoApprovalLimit  = "payments.withdrawal_auto_approval_limit"
	KeyRequireOwnDocument = "payments.withdrawal_require_own_document"
)

// Reader looks up a single setting
type Reader interface {
	Lookup(ctx context.Context, key string) (value string, found bool, err error)
}

// PostgresReader reads the settings table
type PostgresReader struct {
	db database.Querier
}

// NewPostgresReader creates a reader over the settings table
func NewPostgresReader(db database.Querier) *PostgresReader {
	return &PostgresReader{db: db}
}

// Lookup implements Reader
func (r *PostgresReader) Lookup(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// Map is an in-memory Reader
type Map struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMap creates a Map reader holding values
func NewMap(values map[string]string) *Map {
	m := &Map{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// Lookup implements Reader
func (m *Map) Lookup(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set changes a value
func (m *Map) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Decimal reads a money amount, returning def when the key is absent
func Decimal(ctx context.Context, r Reader, key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok, err := r.Lookup(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	d, err := money.Parse(v)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return d, nil
}

// Bool reads a flag, returning def when the key is absent
func Bool(ctx context.Context, r Reader, key string, def bool) (bool, error) {
	v, ok, err := r.Lookup(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return b, nil
}
