// Package betting settles bets: one debit, the bet row and the affiliate
// credits it triggers, committed as a single transaction.
package betting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"bolao/internal/affiliate"
	"bolao/internal/common/events"
	"bolao/internal/common/metrics"
	"bolao/internal/common/middleware"
	"bolao/internal/common/money"
	"bolao/internal/ledger"
	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store"
	"bolao/internal/transparency"
)

// Sink receives the public record of committed bets
type Sink interface {
	AppendBetRecord(ctx context.Context, poolID string, rec transparency.BetRecord) error
}

// Service places bets
type Service struct {
	store      store.Store
	accounting *ledger.Accounting
	pools      PoolLookup
	affiliates *affiliate.Cache
	sink       Sink
	notifier   events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	now  func() time.Time
	draw func() []int
}

// NewService creates a betting service
func NewService(
	st store.Store,
	accounting *ledger.Accounting,
	pools PoolLookup,
	affiliates *affiliate.Cache,
	sink Sink,
	notifier events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      st,
		accounting: accounting,
		pools:      pools,
		affiliates: affiliates,
		sink:       sink,
		notifier:   notifier,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		draw:       DrawNumbers,
	}
}

// PlaceBetRequest asks for one ticket in a pool
type PlaceBetRequest struct {
	PoolID string
	UserID string
	// Numbers is the user's pick. Ignored when AutoPick is set.
	Numbers  []int
	AutoPick bool
}

// Commission is one affiliate credit paid for a bet
type Commission struct {
	UserID string          `json:"user_id"`
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// Commission kinds
const (
	CommissionLevel1   = "level_1"
	CommissionLevel2   = "level_2"
	CommissionFirstBet = "first_bet_bonus"
)

// BetReceipt is the outcome of a committed bet
type BetReceipt struct {
	Bet         *domain.Bet     `json:"bet"`
	Balance     decimal.Decimal `json:"balance"`
	Commissions []Commission    `json:"commissions"`
}

// PlaceBet debits the ticket price and pays the bettor's referrers. Either
// everything commits or nothing does.
func (s *Service) PlaceBet(ctx context.Context, req PlaceBetRequest) (*BetReceipt, error) {
	pool, err := s.pools.GetPool(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}
	if pool.IsClosed(s.now()) {
		return nil, fmt.Errorf("pool %s: %w", pool.ID, domain.ErrClosed)
	}
	if !pool.TicketPrice.IsPositive() {
		return nil, fmt.Errorf("pool %s ticket price: %w", pool.ID, domain.ErrInvalidAmount)
	}

	var numbers []int
	if req.AutoPick {
		numbers = s.draw()
	} else if numbers, err = NormalizeNumbers(req.Numbers); err != nil {
		return nil, err
	}

	price := pool.TicketPrice
	bet := &domain.Bet{
		ID:      ulid.Make().String(),
		PoolID:  pool.ID,
		UserID:  req.UserID,
		Numbers: numbers,
		Price:   price,
	}

	var receipt *BetReceipt
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		// Retries re-run this closure, so all state is rebuilt here.
		receipt = &BetReceipt{Bet: bet}
		bet.CreatedAt = s.now().UTC()

		wallet, err := tx.WalletForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(price) {
			return domain.ErrInsufficientFunds
		}

		cfg, err := s.affiliates.Get(ctx, tx.AffiliateConfig)
		if err != nil {
			return fmt.Errorf("loading affiliate config: %w", err)
		}

		previousBets, err := tx.CountBets(ctx, req.UserID)
		if err != nil {
			return err
		}

		wallet, err = s.accounting.Debit(ctx, tx, ledger.Movement{
			UserID:      req.UserID,
			Amount:      price,
			Description: fmt.Sprintf("Aposta no bolão %s", pool.Name),
			ReferenceID: pool.ID,
		})
		if err != nil {
			return err
		}
		receipt.Balance = wallet.Balance

		if err := tx.CreateBet(ctx, bet); err != nil {
			return err
		}

		return s.payCommissions(ctx, tx, bet, cfg, previousBets == 0, receipt)
	})
	if err != nil {
		return nil, fmt.Errorf("placing bet in pool %s: %w", req.PoolID, err)
	}

	s.metrics.BetPlaced()
	for _, c := range receipt.Commissions {
		s.metrics.Commission(c.Kind)
	}
	s.logger.Info("bet placed",
		"bet_id", bet.ID,
		"pool_id", bet.PoolID,
		"user_id", bet.UserID,
		"price", price.String(),
		"commissions", len(receipt.Commissions),
	)

	s.afterCommit(ctx, bet)
	return receipt, nil
}

// payCommissions credits the level-1 and level-2 referrers and the
// first-bet bonus inside the bet transaction.
func (s *Service) payCommissions(
	ctx context.Context,
	tx store.Tx,
	bet *domain.Bet,
	cfg *domain.AffiliateConfig,
	firstBet bool,
	receipt *BetReceipt,
) error {
	level1, err := tx.DirectReferrer(ctx, bet.UserID)
	if err != nil {
		return err
	}
	if level1 == "" || level1 == bet.UserID {
		return nil
	}

	credit := func(userID, kind, description string, amount decimal.Decimal) error {
		if !amount.IsPositive() {
			return nil
		}
		_, err := s.accounting.Credit(ctx, tx, ledger.Movement{
			UserID:      userID,
			Amount:      amount,
			Description: description,
			ReferenceID: bet.ID,
			Type:        domain.StatementCommission,
		})
		if err != nil {
			return fmt.Errorf("crediting %s commission to %s: %w", kind, userID, err)
		}
		receipt.Commissions = append(receipt.Commissions, Commission{UserID: userID, Kind: kind, Amount: amount})
		return nil
	}

	amount := money.Percent(bet.Price, cfg.FirstLevelPercent)
	if err := credit(level1, CommissionLevel1, "Comissão de indicação (nível 1)", amount); err != nil {
		return err
	}

	level2, err := tx.DirectReferrer(ctx, level1)
	if err != nil {
		return err
	}
	if level2 != "" && level2 != bet.UserID && level2 != level1 {
		amount := money.Percent(bet.Price, cfg.SecondLevelPercent)
		if err := credit(level2, CommissionLevel2, "Comissão de indicação (nível 2)", amount); err != nil {
			return err
		}
	}

	if firstBet {
		if err := credit(level1, CommissionFirstBet, "Bônus de primeira aposta do indicado", cfg.FirstBetBonus); err != nil {
			return err
		}
	}
	return nil
}

// afterCommit publishes the bet. Neither step can undo the committed bet,
// so failures are only logged.
func (s *Service) afterCommit(ctx context.Context, bet *domain.Bet) {
	if s.sink != nil {
		rec := transparency.BetRecord{
			BetID:    bet.ID,
			PoolID:   bet.PoolID,
			UserID:   bet.UserID,
			Numbers:  bet.Numbers,
			Price:    bet.Price,
			PlacedAt: bet.CreatedAt,
		}
		if err := s.sink.AppendBetRecord(ctx, bet.PoolID, rec); err != nil {
			s.logger.Error("transparency append failed", "error", err, "bet_id", bet.ID, "pool_id", bet.PoolID)
		}
	}

	if s.notifier == nil {
		return
	}
	event, err := events.NewEvent(events.EventBetPlaced, events.AggregatePool, bet.PoolID, events.BetPlacedData{
		BetID:    bet.ID,
		PoolID:   bet.PoolID,
		UserID:   bet.UserID,
		Numbers:  bet.Numbers,
		Price:    bet.Price,
		PlacedAt: bet.CreatedAt,
	})
	if err != nil {
		s.logger.Error("building bet event failed", "error", err, "bet_id", bet.ID)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Error("bet notification failed", "error", err, "bet_id", bet.ID, "pool_id", bet.PoolID)
	}
}
