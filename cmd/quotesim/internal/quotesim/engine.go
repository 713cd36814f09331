package quotesim

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Engine random-walks a fixed set of tickers so the scheduler has something
// realistic to poll in local runs.
type Engine struct {
	logger  *zap.Logger
	tickers []string
	rand    Rand
	clock   Clock

	mu     sync.RWMutex
	prices map[string]float64
	asOf   map[string]time.Time
	seq    map[string]int64
}

func NewEngine(logger *zap.Logger, tickers []string, basePrices map[string]float64,
	rnd Rand, clock Clock) *Engine {
	prices := make(map[string]float64, len(tickers))
	asOf := make(map[string]time.Time, len(tickers))
	now := clock.Now()
	for _, sym := range tickers {
		base, ok := basePrices[sym]
		if !ok {
			base = 100.0
		}
		prices[sym] = base
		asOf[sym] = now
	}
	return &Engine{
		logger:  logger,
		tickers: tickers,
		rand:    rnd,
		clock:   clock,
		prices:  prices,
		asOf:    asOf,
		seq:     make(map[string]int64),
	}
}

// Run advances prices until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Quote engine started", zap.Strings("tickers", e.tickers))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(e.tickers) == 0 {
				e.clock.Sleep(1 * time.Second)
				continue
			}
			e.Step()
			e.clock.Sleep(100 * time.Millisecond)
		}
	}
}

// Step moves one random ticker by a random fluctuation.
func (e *Engine) Step() {
	symbol := e.tickers[e.rand.Intn(len(e.tickers))]

	e.mu.Lock()
	defer e.mu.Unlock()

	fluctuation := (e.rand.Float64() * 10) - 5
	next := e.prices[symbol] + fluctuation
	if next < 1 {
		next = 1 // prices never walk below a dollar
	}
	e.prices[symbol] = next
	e.asOf[symbol] = e.clock.Now()
	e.seq[symbol]++

	e.logger.Debug("Tick", zap.String("symbol", symbol), zap.Float64("price", next))
}

// Quotes returns current quotes for the requested symbols. Unknown symbols
// are simply absent from the result.
func (e *Engine) Quotes(symbols []string) []models.Quote {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.Quote, 0, len(symbols))
	for _, sym := range symbols {
		price, ok := e.prices[sym]
		if !ok {
			continue
		}
		out = append(out, models.Quote{
			Symbol:     sym,
			Price:      decimal.NewFromFloat(price).Round(2),
			ObservedAt: e.asOf[sym],
		})
	}
	return out
}
