// Package transparency keeps the public, append-only record of bets placed
// in each pool. It lives outside the money ledger.
package transparency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// BetRecord is the public summary of one bet
type BetRecord struct {
	BetID    string          `json:"bet_id"`
	PoolID   string          `json:"pool_id"`
	UserID   string          `json:"user_id"`
	Numbers  []int           `json:"numbers"`
	Price    decimal.Decimal `json:"price"`
	PlacedAt time.Time       `json:"placed_at"`
}

// Config holds transparency stream settings
type Config struct {
	StreamPrefix string `envconfig:"TRANSPARENCY_STREAM_PREFIX" default:"bolao:transparency:"`
	MaxLen       int64  `envconfig:"TRANSPARENCY_STREAM_MAXLEN" default:"100000"`
}

// RedisSink appends bet records to one Redis stream per pool
type RedisSink struct {
	client redis.Cmdable
	cfg    Config
	logger *slog.Logger
}

// NewRedisSink creates a sink writing through client
func NewRedisSink(client redis.Cmdable, cfg Config, logger *slog.Logger) *RedisSink {
	return &RedisSink{client: client, cfg: cfg, logger: logger}
}

// StreamKey returns the stream a pool's records are appended to
func (s *RedisSink) StreamKey(poolID string) string {
	return s.cfg.StreamPrefix + poolID
}

// AppendBetRecord appends rec to the pool's stream
func (s *RedisSink) AppendBetRecord(ctx context.Context, poolID string, rec BetRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding bet record: %w", err)
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.StreamKey(poolID),
		MaxLen: s.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{"bet_id": rec.BetID, "record": payload},
	}).Result()
	if err != nil {
		return fmt.Errorf("appending bet record: %w", err)
	}

	s.logger.Debug("bet record appended", "pool_id", poolID, "bet_id", rec.BetID, "entry_id", id)
	return nil
}

// Recent returns up to n of the newest records of a pool, newest first
func (s *RedisSink) Recent(ctx context.Context, poolID string, n int64) ([]BetRecord, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.StreamKey(poolID), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("reading bet records: %w", err)
	}

	records := make([]BetRecord, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["record"].(string)
		if !ok {
			s.logger.Warn("skipping malformed transparency entry", "pool_id", poolID, "entry_id", msg.ID)
			continue
		}
		var rec BetRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("skipping undecodable transparency entry", "pool_id", poolID, "entry_id", msg.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
