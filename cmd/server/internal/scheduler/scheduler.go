package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/pricecache"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/source"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Options tunes one Scheduler instance.
type Options struct {
	TickInterval     time.Duration
	BatchSize        int
	MaxParallel      int // rate budget: batches in flight at once
	BatchTimeout     time.Duration
	FailureThreshold int // mirrors the cache threshold, used for logging only
	BackoffCap       time.Duration
	Retention        time.Duration
}

// Scheduler keeps the price cache acceptably fresh while respecting the
// quote source's rate budget and tolerating partial failures.
type Scheduler struct {
	opts     Options
	cache    Cache
	src      source.QuoteSource
	universe WatchUniverse
	holdings HoldingsLister
	mirror   QuotePublisher // may be nil
	logger   *zap.Logger
	clock    Clock

	mu       sync.Mutex
	interval time.Duration // current tick interval, widened under backoff
}

func New(opts Options, cache Cache, src source.QuoteSource, universe WatchUniverse,
	holdings HoldingsLister, mirror QuotePublisher, logger *zap.Logger, clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return &Scheduler{
		opts:     opts,
		cache:    cache,
		src:      src,
		universe: universe,
		holdings: holdings,
		mirror:   mirror,
		logger:   logger,
		clock:    clock,
		interval: opts.TickInterval,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started",
		zap.Duration("tick_interval", s.opts.TickInterval),
		zap.Int("batch_size", s.opts.BatchSize),
		zap.Int("max_parallel", s.opts.MaxParallel))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		default:
			s.Tick(ctx)
			s.clock.Sleep(s.Interval())
		}
	}
}

// Interval returns the current tick interval (widened while backing off).
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Tick runs one refresh round: select stale symbols, fetch them in batches,
// apply results, then sweep idle entries.
func (s *Scheduler) Tick(ctx context.Context) {
	wanted, heldSet := s.wantedSymbols(ctx)
	s.cache.MarkWanted(wanted)

	batches := s.selectBatches(wanted, heldSet)
	if len(batches) > 0 {
		sawError, sawSuccess := s.fetchBatches(ctx, batches)
		s.adjustInterval(sawError, sawSuccess)
	}

	if s.opts.Retention > 0 {
		if evicted := s.cache.EvictIdle(s.opts.Retention); len(evicted) > 0 {
			s.logger.Info("Evicted idle symbols", zap.Strings("symbols", evicted))
		}
	}
}

// wantedSymbols unions the watch universe with held positions. Held symbols
// stay in the set even if nobody watches them: ledger valuation correctness
// takes precedence over display freshness.
func (s *Scheduler) wantedSymbols(ctx context.Context) ([]string, map[string]bool) {
	wanted := make(map[string]bool)
	for _, sym := range s.universe.Universe() {
		wanted[sym] = true
	}

	heldSet := make(map[string]bool)
	held, err := s.holdings.HeldSymbols(ctx)
	if err != nil {
		s.logger.Error("Failed to list held symbols", zap.Error(err))
	}
	for _, sym := range held {
		wanted[sym] = true
		heldSet[sym] = true
	}

	out := make([]string, 0, len(wanted))
	for sym := range wanted {
		out = append(out, sym)
	}
	return out, heldSet
}

// selectBatches picks the symbols due for refresh and partitions them into
// source-sized batches, held positions first, then oldest quote first.
func (s *Scheduler) selectBatches(wanted []string, heldSet map[string]bool) [][]string {
	wantedSet := make(map[string]bool, len(wanted))
	for _, sym := range wanted {
		wantedSet[sym] = true
	}

	var due []pricecache.EntryInfo
	for _, e := range s.cache.Entries() {
		if !wantedSet[e.Symbol] {
			continue
		}
		if e.Status != models.StatusFresh {
			due = append(due, e)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		hi, hj := heldSet[due[i].Symbol], heldSet[due[j].Symbol]
		if hi != hj {
			return hi
		}
		if !due[i].ObservedAt.Equal(due[j].ObservedAt) {
			return due[i].ObservedAt.Before(due[j].ObservedAt)
		}
		return due[i].Symbol < due[j].Symbol
	})

	var batches [][]string
	for start := 0; start < len(due); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(due) {
			end = len(due)
		}
		batch := make([]string, 0, end-start)
		for _, e := range due[start:end] {
			batch = append(batch, e.Symbol)
		}
		batches = append(batches, batch)
	}
	return batches
}

// fetchBatches runs the batches with bounded parallelism. A batch that
// exceeds the timeout is abandoned for this tick; its symbols stay stale and
// retry next tick.
func (s *Scheduler) fetchBatches(ctx context.Context, batches [][]string) (sawError, sawSuccess bool) {
	sem := make(chan struct{}, s.opts.MaxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			wg.Wait()
			return sawError, sawSuccess
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(symbols []string) {
			defer wg.Done()
			defer func() { <-sem }()

			errored := s.fetchOne(ctx, symbols)
			mu.Lock()
			if errored {
				sawError = true
			} else {
				sawSuccess = true
			}
			mu.Unlock()
		}(batch)
	}

	wg.Wait()
	return sawError, sawSuccess
}

// fetchOne fetches a single batch and applies its results to the cache.
// Returns true on an adapter-level error.
func (s *Scheduler) fetchOne(ctx context.Context, symbols []string) bool {
	bctx := ctx
	if s.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, s.opts.BatchTimeout)
		defer cancel()
	}

	quotes, err := s.src.Fetch(bctx, symbols)
	if err != nil {
		if errors.Is(err, source.ErrRateLimited) {
			s.logger.Warn("Quote source rate limited, backing off")
		} else {
			s.logger.Error("Batch fetch failed", zap.Error(err), zap.Int("symbols", len(symbols)))
		}
		for _, sym := range symbols {
			s.noteFailure(sym)
		}
		return true
	}

	for _, sym := range symbols {
		q, ok := quotes[sym]
		if !ok {
			s.noteFailure(sym)
			continue
		}
		s.cache.Put(q)
		if s.mirror != nil {
			if err := s.mirror.PublishQuote(ctx, q); err != nil {
				s.logger.Warn("Mirror publish failed", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}
	return false
}

func (s *Scheduler) noteFailure(symbol string) {
	failures := s.cache.RecordFailure(symbol)
	if failures == s.opts.FailureThreshold {
		s.logger.Warn("Symbol degraded after repeated refresh failures",
			zap.String("symbol", symbol), zap.Int("failures", failures))
	}
}

// adjustInterval widens the tick interval exponentially on adapter errors up
// to the cap and snaps back to the base interval once a tick succeeds clean.
func (s *Scheduler) adjustInterval(sawError, sawSuccess bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case sawError:
		next := s.interval * 2
		if s.opts.BackoffCap > 0 && next > s.opts.BackoffCap {
			next = s.opts.BackoffCap
		}
		if next > s.interval {
			s.logger.Info("Widening tick interval",
				zap.Duration("from", s.interval), zap.Duration("to", next))
		}
		s.interval = next
	case sawSuccess:
		if s.interval != s.opts.TickInterval {
			s.logger.Info("Backoff cleared", zap.Duration("interval", s.opts.TickInterval))
		}
		s.interval = s.opts.TickInterval
	}
}
