package pricecache

import (
	"sync"
	"time"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Clock abstracts time for deterministic testing
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// entry owns the current quote for one symbol plus refresh bookkeeping.
// Mutated only under the cache lock.
type entry struct {
	quote       *models.Quote
	lastAttempt time.Time
	lastSuccess time.Time
	failures    int
	lastWanted  time.Time
}

// EntryInfo is a read-only view of a cache entry for the scheduler.
type EntryInfo struct {
	Symbol     string
	HasQuote   bool
	ObservedAt time.Time
	Failures   int
	Status     models.QuoteStatus
}

// Cache holds the last-known price per symbol. Many concurrent readers, one
// writer per symbol (the refresh scheduler). Reads never block on network.
type Cache struct {
	mu               sync.RWMutex
	entries          map[string]*entry
	maxAge           time.Duration
	failureThreshold int
	clock            Clock
}

func New(maxAge time.Duration, failureThreshold int, clock Clock) *Cache {
	if clock == nil {
		clock = realClock{}
	}
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Cache{
		entries:          make(map[string]*entry),
		maxAge:           maxAge,
		failureThreshold: failureThreshold,
		clock:            clock,
	}
}

// Get returns the best-known quote even if stale. The second return is false
// when the symbol is unknown or has never been priced.
func (c *Cache) Get(symbol string) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok || e.quote == nil {
		return models.Quote{}, false
	}
	return *e.quote, true
}

// GetMany is the batched form of Get. Symbols without a quote are absent
// from the result.
func (c *Cache) GetMany(symbols []string) map[string]models.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.Quote, len(symbols))
	for _, sym := range symbols {
		if e, ok := c.entries[sym]; ok && e.quote != nil {
			out[sym] = *e.quote
		}
	}
	return out
}

// Lookup returns the quote together with its freshness classification.
func (c *Cache) Lookup(symbol string) (models.Quote, models.QuoteStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok || e.quote == nil {
		return models.Quote{}, models.StatusStale, false
	}
	return *e.quote, c.statusLocked(e), true
}

// Put stores a quote. Writes with an ObservedAt older than the stored quote
// are ignored, which makes out-of-order batch results harmless. A successful
// put resets the failure counter.
func (c *Cache) Put(q models.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, ok := c.entries[q.Symbol]
	if !ok {
		e = &entry{lastWanted: now}
		c.entries[q.Symbol] = e
	}
	e.lastAttempt = now
	if e.quote != nil && q.ObservedAt.Before(e.quote.ObservedAt) {
		return
	}
	cp := q
	e.quote = &cp
	e.lastSuccess = now
	e.failures = 0
}

// Track registers a symbol in the cache without a quote so refresh failures
// can be counted before the first successful fetch.
func (c *Cache) Track(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if e, ok := c.entries[symbol]; ok {
		e.lastWanted = now
		return
	}
	c.entries[symbol] = &entry{lastWanted: now}
}

// MarkWanted refreshes the retention timestamp for the given symbols,
// creating entries for unknown ones.
func (c *Cache) MarkWanted(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for _, sym := range symbols {
		if e, ok := c.entries[sym]; ok {
			e.lastWanted = now
		} else {
			c.entries[sym] = &entry{lastWanted: now}
		}
	}
}

// RecordFailure notes a failed refresh attempt. The stale quote, if any,
// stays in place: stale-but-available beats unavailable.
func (c *Cache) RecordFailure(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		e = &entry{lastWanted: c.clock.Now()}
		c.entries[symbol] = e
	}
	e.lastAttempt = c.clock.Now()
	e.failures++
	return e.failures
}

// Status classifies a symbol's entry. Unknown symbols report false.
func (c *Cache) Status(symbol string) (models.QuoteStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok {
		return models.StatusStale, false
	}
	return c.statusLocked(e), true
}

// IsStale reports whether the symbol needs a refresh. Unknown and never
// priced symbols are stale by definition.
func (c *Cache) IsStale(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok || e.quote == nil {
		return true
	}
	return c.clock.Now().Sub(e.quote.ObservedAt) > c.maxAge
}

// Entries returns a point-in-time view of all entries for refresh selection.
func (c *Cache) Entries() []EntryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]EntryInfo, 0, len(c.entries))
	for sym, e := range c.entries {
		info := EntryInfo{
			Symbol:   sym,
			Failures: e.failures,
			Status:   c.statusLocked(e),
		}
		if e.quote != nil {
			info.HasQuote = true
			info.ObservedAt = e.quote.ObservedAt
		}
		out = append(out, info)
	}
	return out
}

// Evict removes a symbol outright.
func (c *Cache) Evict(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, symbol)
}

// EvictIdle removes entries that nobody has wanted for longer than the
// retention window and returns the evicted symbols.
func (c *Cache) EvictIdle(retention time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []string
	cutoff := c.clock.Now().Add(-retention)
	for sym, e := range c.entries {
		if e.lastWanted.Before(cutoff) {
			delete(c.entries, sym)
			evicted = append(evicted, sym)
		}
	}
	return evicted
}

// statusLocked implements the FRESH -> STALE -> DEGRADED classification.
// Callers must hold at least a read lock.
func (c *Cache) statusLocked(e *entry) models.QuoteStatus {
	if e.failures >= c.failureThreshold {
		return models.StatusDegraded
	}
	if e.quote == nil {
		return models.StatusStale
	}
	if c.clock.Now().Sub(e.quote.ObservedAt) > c.maxAge {
		return models.StatusStale
	}
	return models.StatusFresh
}
