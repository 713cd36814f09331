package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/ledger"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/pricecache"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/testutils"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// capturingAudit records published trades and can be scripted to fail.
type capturingAudit struct {
	mu     sync.Mutex
	trades []models.Transaction
	err    error
}

func (a *capturingAudit) PublishTrade(ctx context.Context, tx models.Transaction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.trades = append(a.trades, tx)
	return nil
}

type fixture struct {
	svc   *ledger.Service
	store *ledger.MemoryStore
	cache *pricecache.Cache
	clock *testutils.FakeClock
	audit *capturingAudit
}

func newFixture(t *testing.T, startingCash int64) *fixture {
	t.Helper()
	clock := testutils.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	cache := pricecache.New(15*time.Second, 3, clock)
	store := ledger.NewMemoryStore()
	audit := &capturingAudit{}
	svc := ledger.NewService(ledger.Options{
		StartingCash: decimal.NewFromInt(startingCash),
		TradeMaxAge:  30 * time.Second,
	}, store, cache, audit, zap.NewNop(), clock)
	return &fixture{svc: svc, store: store, cache: cache, clock: clock, audit: audit}
}

func (f *fixture) price(symbol string, price int64) {
	f.cache.Put(models.Quote{
		Symbol:     symbol,
		Price:      decimal.NewFromInt(price),
		ObservedAt: f.clock.Now(),
	})
}

func TestService_Register(t *testing.T) {
	f := newFixture(t, 100000)
	ctx := context.Background()

	acct, err := f.svc.Register(ctx, "alice")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !acct.Cash.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Expected starting cash 100000, got %s", acct.Cash)
	}
	if len(acct.Holdings) != 0 {
		t.Errorf("Expected empty holdings, got %v", acct.Holdings)
	}

	if _, err := f.svc.Register(ctx, "alice"); !errors.Is(err, ledger.ErrAccountExists) {
		t.Errorf("Expected ErrAccountExists on duplicate, got %v", err)
	}
	if _, err := f.svc.Register(ctx, ""); err == nil {
		t.Error("Expected error for empty account id")
	}
}

func TestService_BuySellLifecycle(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	f.price("AAPL", 100)

	tx, err := f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if !tx.Cash.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected cash 500 after buying 5 at 100, got %s", tx.Cash)
	}

	// More shares than held
	_, err = f.svc.Sell(ctx, "alice", "AAPL", decimal.NewFromInt(6))
	if !errors.Is(err, ledger.ErrInsufficientHoldings) {
		t.Fatalf("Expected ErrInsufficientHoldings selling 6 of 5, got %v", err)
	}

	// Failed sell must not touch state.
	acct, _ := f.svc.Account(ctx, "alice")
	if !acct.Cash.Equal(decimal.NewFromInt(500)) || !acct.Holdings["AAPL"].Equal(decimal.NewFromInt(5)) {
		t.Fatalf("Failed sell mutated state: cash=%s holdings=%v", acct.Cash, acct.Holdings)
	}

	f.price("AAPL", 110)
	tx, err = f.svc.Sell(ctx, "alice", "AAPL", decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if !tx.Cash.Equal(decimal.NewFromInt(1050)) {
		t.Errorf("Expected cash 1050 after selling 5 at 110, got %s", tx.Cash)
	}

	acct, _ = f.svc.Account(ctx, "alice")
	if _, ok := acct.Holdings["AAPL"]; ok {
		t.Error("Position sold to zero should be removed from holdings")
	}

	history, err := f.svc.History(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("Expected 2 transactions (the rejected sell logs nothing), got %d", len(history))
	}
	if history[0].Side != models.SideBuy || history[1].Side != models.SideSell {
		t.Errorf("Expected buy then sell in execution order, got %s then %s",
			history[0].Side, history[1].Side)
	}
}

func TestService_RoundTripIsCashNeutral(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 137)

	if _, err := f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(3)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Sell(ctx, "alice", "AAPL", decimal.NewFromInt(3)); err != nil {
		t.Fatal(err)
	}

	acct, _ := f.svc.Account(ctx, "alice")
	if !acct.Cash.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Buy+sell at the same price should restore cash exactly, got %s", acct.Cash)
	}
}

func TestService_BuyInsufficientFunds(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)

	_, err := f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(11))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	acct, _ := f.svc.Account(ctx, "alice")
	if !acct.Cash.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Rejected buy must not touch cash, got %s", acct.Cash)
	}

	// Exact cash is spendable.
	if _, err := f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(10)); err != nil {
		t.Errorf("Buy spending exactly all cash should succeed: %v", err)
	}
}

func TestService_InvalidQuantity(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)

	for _, qty := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		if _, err := f.svc.Buy(ctx, "alice", "AAPL", qty); !errors.Is(err, ledger.ErrInvalidQuantity) {
			t.Errorf("Expected ErrInvalidQuantity for qty %s, got %v", qty, err)
		}
		if _, err := f.svc.Sell(ctx, "alice", "AAPL", qty); !errors.Is(err, ledger.ErrInvalidQuantity) {
			t.Errorf("Expected ErrInvalidQuantity for qty %s, got %v", qty, err)
		}
	}
}

func TestService_PriceUnavailable(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")

	// Never quoted
	_, err := f.svc.Buy(ctx, "alice", "MISSING", decimal.NewFromInt(1))
	if !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Errorf("Expected ErrPriceUnavailable for unknown symbol, got %v", err)
	}

	// Degraded
	f.price("BROKEN", 50)
	for i := 0; i < 3; i++ {
		f.cache.RecordFailure("BROKEN")
	}
	_, err = f.svc.Buy(ctx, "alice", "BROKEN", decimal.NewFromInt(1))
	if !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Errorf("Expected ErrPriceUnavailable for degraded symbol, got %v", err)
	}

	// Stale but inside the trade max-age window still executes.
	f.price("AAPL", 100)
	f.clock.Advance(20 * time.Second)
	if _, err := f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(1)); err != nil {
		t.Errorf("Stale-but-recent quote should still price a trade: %v", err)
	}

	// Past the trade max-age window it no longer does.
	f.clock.Advance(20 * time.Second)
	_, err = f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(1))
	if !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Errorf("Expected ErrPriceUnavailable past trade max age, got %v", err)
	}
}

func TestService_UnknownAccount(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.price("AAPL", 100)

	if _, err := f.svc.Buy(ctx, "ghost", "AAPL", decimal.NewFromInt(1)); !errors.Is(err, ledger.ErrNoAccount) {
		t.Errorf("Expected ErrNoAccount on buy, got %v", err)
	}
	if _, err := f.svc.Valuate(ctx, "ghost"); !errors.Is(err, ledger.ErrNoAccount) {
		t.Errorf("Expected ErrNoAccount on valuate, got %v", err)
	}
	if _, err := f.svc.History(ctx, "ghost"); !errors.Is(err, ledger.ErrNoAccount) {
		t.Errorf("Expected ErrNoAccount on history, got %v", err)
	}
}

func TestService_Valuate(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)
	f.price("TSLA", 700)

	f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(5)) // cash 500
	v, err := f.svc.Valuate(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !v.TotalValue.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected total 1000 (500 cash + 5x100), got %s", v.TotalValue)
	}
	if v.Approximate {
		t.Error("All-fresh valuation should not be approximate")
	}

	// Price moves: mark-to-market follows it.
	f.price("AAPL", 110)
	v, _ = f.svc.Valuate(ctx, "alice")
	if !v.TotalValue.Equal(decimal.NewFromInt(1050)) {
		t.Errorf("Expected total 1050 after price move, got %s", v.TotalValue)
	}

	// Stale quote still values but flags approximate.
	f.clock.Advance(20 * time.Second)
	v, _ = f.svc.Valuate(ctx, "alice")
	if !v.TotalValue.Equal(decimal.NewFromInt(1050)) {
		t.Errorf("Stale quote should still value at last price, got %s", v.TotalValue)
	}
	if !v.Approximate {
		t.Error("Valuation from stale quote should be approximate")
	}
}

func TestService_ValuateCashOnlyIsExact(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")

	// An unknown symbol rejects trades, but a cash-only account still values
	// exactly.
	if _, err := f.svc.Buy(ctx, "alice", "X", decimal.NewFromInt(1)); !errors.Is(err, ledger.ErrPriceUnavailable) {
		t.Fatalf("Expected ErrPriceUnavailable for never-fetched symbol, got %v", err)
	}
	v, err := f.svc.Valuate(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !v.TotalValue.Equal(decimal.NewFromInt(1000)) || v.Approximate {
		t.Errorf("Cash-only valuation should be exact 1000, got %s (approximate=%v)",
			v.TotalValue, v.Approximate)
	}
}

func TestService_ValuateMissingQuoteCountsZero(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)
	f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(5))

	// The symbol's quote disappears (eviction) but the position remains.
	f.cache.Evict("AAPL")

	v, err := f.svc.Valuate(ctx, "alice")
	if err != nil {
		t.Fatalf("Valuate must not fail on a missing quote: %v", err)
	}
	if !v.TotalValue.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Unpriceable holding should value at zero, got total %s", v.TotalValue)
	}
	if !v.Approximate {
		t.Error("Valuation with an unpriceable holding should be approximate")
	}
}

func TestService_Reset(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)
	f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(5))

	acct, err := f.svc.Reset(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Cash.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected cash restored to 1000, got %s", acct.Cash)
	}
	if len(acct.Holdings) != 0 {
		t.Errorf("Expected holdings cleared, got %v", acct.Holdings)
	}

	// Audit trail survives the reset.
	history, _ := f.svc.History(ctx, "alice")
	if len(history) != 1 {
		t.Errorf("Reset must keep the transaction log, got %d entries", len(history))
	}
}

func TestService_TradesPublishedToAudit(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)

	f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(2))
	f.svc.Sell(ctx, "alice", "AAPL", decimal.NewFromInt(1))

	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	if len(f.audit.trades) != 2 {
		t.Fatalf("Expected 2 audited trades, got %d", len(f.audit.trades))
	}
	if f.audit.trades[0].AccountID != "alice" {
		t.Errorf("Expected audit keyed to account, got %s", f.audit.trades[0].AccountID)
	}
}

func TestService_AuditFailureDoesNotFailTrade(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)
	f.audit.err = errors.New("broker unreachable")

	if _, err := f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("Audit publish failure must not fail the trade: %v", err)
	}
	acct, _ := f.svc.Account(ctx, "alice")
	if !acct.Cash.Equal(decimal.NewFromInt(900)) {
		t.Errorf("Trade should have applied despite audit failure, cash %s", acct.Cash)
	}
}

func TestService_ConcurrentBuysNeverOverdraw(t *testing.T) {
	// Cash covers exactly 10 one-share buys; 20 concurrent attempts race.
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Buy(ctx, "alice", "AAPL", decimal.NewFromInt(1)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("Expected exactly 10 buys to clear, got %d", succeeded)
	}
	acct, _ := f.svc.Account(ctx, "alice")
	if acct.Cash.IsNegative() {
		t.Errorf("Cash went negative: %s", acct.Cash)
	}
	if !acct.Holdings["AAPL"].Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected 10 shares held, got %s", acct.Holdings["AAPL"])
	}
}

func TestService_SymbolNormalizedOnTrade(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	f.svc.Register(ctx, "alice")
	f.price("AAPL", 100)

	tx, err := f.svc.Buy(ctx, "alice", "  aapl ", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("Buy with unnormalized symbol failed: %v", err)
	}
	if tx.Symbol != "AAPL" {
		t.Errorf("Expected normalized symbol AAPL, got %q", tx.Symbol)
	}
}
