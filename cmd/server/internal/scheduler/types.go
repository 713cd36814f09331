package scheduler

import (
	"context"
	"time"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/pricecache"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Clock abstracts time for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// Cache is the write side of the price cache the scheduler maintains.
type Cache interface {
	Put(q models.Quote)
	RecordFailure(symbol string) int
	MarkWanted(symbols []string)
	Entries() []pricecache.EntryInfo
	EvictIdle(retention time.Duration) []string
}

// WatchUniverse supplies the symbols users are watching.
type WatchUniverse interface {
	Universe() []string
}

// HoldingsLister supplies the symbols held in any open position. Held
// symbols are refreshed before merely-watched ones.
type HoldingsLister interface {
	HeldSymbols(ctx context.Context) ([]string, error)
}

// QuotePublisher mirrors accepted quotes to external consumers (the Redis
// snapshot/pub-sub feed). Best effort: publish failures never fail a tick.
type QuotePublisher interface {
	PublishQuote(ctx context.Context, q models.Quote) error
}
