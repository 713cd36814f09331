package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/watchlist"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Clock abstracts time for deterministic testing
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// PriceReader is the slice of the price cache the ledger consumes. Reads
// never touch the network.
type PriceReader interface {
	Lookup(symbol string) (models.Quote, models.QuoteStatus, bool)
}

// TradePublisher streams executed transactions to the audit topic. Best
// effort: a publish failure never fails or rolls back the trade.
type TradePublisher interface {
	PublishTrade(ctx context.Context, tx models.Transaction) error
}

// Options tunes one Service instance.
type Options struct {
	StartingCash decimal.Decimal
	TradeMaxAge  time.Duration // quotes older than this cannot price a trade
}

// Service owns all mutations of account state. Trades on the same account
// are serialized through a per-account lock; different accounts proceed
// concurrently, there is no global ledger lock.
type Service struct {
	opts   Options
	store  Store
	prices PriceReader
	audit  TradePublisher // may be nil
	logger *zap.Logger
	clock  Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(opts Options, store Store, prices PriceReader, audit TradePublisher,
	logger *zap.Logger, clock Clock) *Service {
	if clock == nil {
		clock = realClock{}
	}
	return &Service{
		opts:   opts,
		store:  store,
		prices: prices,
		audit:  audit,
		logger: logger,
		clock:  clock,
		locks:  make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex serializing one account's trades.
func (s *Service) accountLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Register creates an account with the configured starting cash.
func (s *Service) Register(ctx context.Context, id string) (models.Account, error) {
	if id == "" {
		return models.Account{}, fmt.Errorf("register: account id must not be empty")
	}
	acct := models.Account{
		ID:        id,
		Cash:      s.opts.StartingCash,
		Holdings:  make(map[string]decimal.Decimal),
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return models.Account{}, err
	}
	s.logger.Info("Account registered", zap.String("account", id),
		zap.String("cash", acct.Cash.String()))
	return acct, nil
}

// Account returns the current state of one account.
func (s *Service) Account(ctx context.Context, id string) (models.Account, error) {
	return s.store.Account(ctx, id)
}

// Buy executes a market buy at the current cached price. Price lookup,
// balance check, mutation and transaction append are one indivisible step
// relative to other trades on the same account.
func (s *Service) Buy(ctx context.Context, accountID, symbol string, qty decimal.Decimal) (models.Transaction, error) {
	return s.trade(ctx, accountID, symbol, models.SideBuy, qty)
}

// Sell executes a market sell at the current cached price.
func (s *Service) Sell(ctx context.Context, accountID, symbol string, qty decimal.Decimal) (models.Transaction, error) {
	return s.trade(ctx, accountID, symbol, models.SideSell, qty)
}

func (s *Service) trade(ctx context.Context, accountID, symbol string, side models.Side, qty decimal.Decimal) (models.Transaction, error) {
	symbol = watchlist.Normalize(symbol)
	if symbol == "" {
		return models.Transaction{}, fmt.Errorf("trade: symbol must not be empty")
	}
	if !qty.IsPositive() {
		return models.Transaction{}, fmt.Errorf("trade %s: %w", symbol, ErrInvalidQuantity)
	}

	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return models.Transaction{}, err
	}

	quote, err := s.executionQuote(symbol)
	if err != nil {
		return models.Transaction{}, err
	}

	acct = acct.Clone()
	amount := quote.Price.Mul(qty)

	switch side {
	case models.SideBuy:
		if acct.Cash.LessThan(amount) {
			return models.Transaction{}, fmt.Errorf("buy %s %s at %s: %w",
				qty, symbol, quote.Price, ErrInsufficientFunds)
		}
		acct.Cash = acct.Cash.Sub(amount)
		acct.Holdings[symbol] = acct.Holdings[symbol].Add(qty)
	case models.SideSell:
		held := acct.Holdings[symbol]
		if held.LessThan(qty) {
			return models.Transaction{}, fmt.Errorf("sell %s %s (held %s): %w",
				qty, symbol, held, ErrInsufficientHoldings)
		}
		remaining := held.Sub(qty)
		if remaining.IsZero() {
			delete(acct.Holdings, symbol)
		} else {
			acct.Holdings[symbol] = remaining
		}
		acct.Cash = acct.Cash.Add(amount)
	default:
		return models.Transaction{}, fmt.Errorf("trade: unknown side %q", side)
	}

	tx := models.Transaction{
		AccountID:  accountID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      quote.Price,
		Cash:       acct.Cash,
		ExecutedAt: s.clock.Now(),
	}

	if err := s.store.ApplyTrade(ctx, acct, tx); err != nil {
		return models.Transaction{}, fmt.Errorf("apply trade: %w", err)
	}

	if s.audit != nil {
		if err := s.audit.PublishTrade(ctx, tx); err != nil {
			s.logger.Warn("Trade audit publish failed",
				zap.String("account", accountID), zap.Error(err))
		}
	}

	s.logger.Debug("Trade executed", zap.String("account", accountID),
		zap.String("side", string(side)), zap.String("symbol", symbol),
		zap.String("qty", qty.String()), zap.String("price", quote.Price.String()))
	return tx, nil
}

// executionQuote returns a quote fit to price a trade: present, not
// degraded, and younger than the trade max-age policy.
func (s *Service) executionQuote(symbol string) (models.Quote, error) {
	quote, status, ok := s.prices.Lookup(symbol)
	if !ok {
		return models.Quote{}, fmt.Errorf("%s: no quote: %w", symbol, ErrPriceUnavailable)
	}
	if status == models.StatusDegraded {
		return models.Quote{}, fmt.Errorf("%s: quote degraded: %w", symbol, ErrPriceUnavailable)
	}
	if s.opts.TradeMaxAge > 0 && s.clock.Now().Sub(quote.ObservedAt) > s.opts.TradeMaxAge {
		return models.Quote{}, fmt.Errorf("%s: quote too old: %w", symbol, ErrPriceUnavailable)
	}
	return quote, nil
}

// Valuate marks an account to market: cash plus holdings at current prices.
// It always succeeds; holdings priced from stale or degraded quotes (or with
// no quote at all, valued at zero) flag the result approximate.
func (s *Service) Valuate(ctx context.Context, accountID string) (models.Valuation, error) {
	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return models.Valuation{}, err
	}

	total := acct.Cash
	approximate := false
	for symbol, qty := range acct.Holdings {
		quote, status, ok := s.prices.Lookup(symbol)
		if !ok {
			approximate = true
			continue
		}
		if status != models.StatusFresh {
			approximate = true
		}
		total = total.Add(quote.Price.Mul(qty))
	}

	return models.Valuation{
		AccountID:   accountID,
		TotalValue:  total,
		Cash:        acct.Cash,
		Approximate: approximate,
		ComputedAt:  s.clock.Now(),
	}, nil
}

// History returns the account's transactions in execution order.
func (s *Service) History(ctx context.Context, accountID string) ([]models.Transaction, error) {
	if _, err := s.store.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.Transactions(ctx, accountID)
}

// Reset restores an account to its starting cash and clears holdings. The
// transaction log is an audit trail and is never deleted.
func (s *Service) Reset(ctx context.Context, accountID string) (models.Account, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}
	acct = acct.Clone()
	acct.Cash = s.opts.StartingCash
	acct.Holdings = make(map[string]decimal.Decimal)
	if err := s.store.SaveAccount(ctx, acct); err != nil {
		return models.Account{}, err
	}
	s.logger.Info("Account reset", zap.String("account", accountID))
	return acct, nil
}
