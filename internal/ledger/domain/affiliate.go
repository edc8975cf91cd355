package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Referral is a directed edge: UserID introduced ReferredUserID.
// Only level-1 edges are stored; level 2 is the referrer's own referrer.
type Referral struct {
	UserID         string    `json:"user_id"`
	ReferredUserID string    `json:"referred_user_id"`
	Level          int       `json:"level"`
	CreatedAt      time.Time `json:"created_at"`
}

// AffiliateConfig is the singleton commission configuration
type AffiliateConfig struct {
	FirstLevelPercent  decimal.Decimal `json:"first_level_percent"`
	SecondLevelPercent decimal.Decimal `json:"second_level_percent"`
	FirstBetBonus      decimal.Decimal `json:"first_bet_bonus"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Bet is a ticket bought in a pool
type Bet struct {
	ID        string          `json:"id"`
	PoolID    string          `json:"pool_id"`
	UserID    string          `json:"user_id"`
	Numbers   []int           `json:"numbers"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}
