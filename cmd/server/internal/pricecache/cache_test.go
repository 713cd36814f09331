package pricecache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/pricecache"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/testutils"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

func quote(symbol string, price float64, at time.Time) models.Quote {
	return models.Quote{Symbol: symbol, Price: decimal.NewFromFloat(price), ObservedAt: at}
}

func TestCache_PutAndGet(t *testing.T) {
	clock := testutils.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	cache := pricecache.New(15*time.Second, 3, clock)

	if _, ok := cache.Get("AAPL"); ok {
		t.Fatal("Expected miss on empty cache")
	}

	cache.Put(quote("AAPL", 150.0, clock.Now()))

	got, ok := cache.Get("AAPL")
	if !ok {
		t.Fatal("Expected hit after put")
	}
	if !got.Price.Equal(decimal.NewFromFloat(150.0)) {
		t.Errorf("Expected price 150, got %s", got.Price)
	}
}

func TestCache_PutIgnoresOlderObservation(t *testing.T) {
	clock := testutils.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	cache := pricecache.New(15*time.Second, 3, clock)

	newer := clock.Now()
	older := newer.Add(-5 * time.Second)

	cache.Put(quote("AAPL", 150.0, newer))
	cache.Put(quote("AAPL", 140.0, older)) // out-of-order batch result

	got, _ := cache.Get("AAPL")
	if !got.Price.Equal(decimal.NewFromFloat(150.0)) {
		t.Errorf("Older observation should be a no-op, got price %s", got.Price)
	}

	// Equal timestamps are accepted (not older).
	cache.Put(quote("AAPL", 151.0, newer))
	got, _ = cache.Get("AAPL")
	if !got.Price.Equal(decimal.NewFromFloat(151.0)) {
		t.Errorf("Equal-timestamp put should overwrite, got price %s", got.Price)
	}
}

func TestCache_GetMany(t *testing.T) {
	clock := testutils.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	cache := pricecache.New(15*time.Second, 3, clock)

	cache.Put(quote("AAPL", 150.0, clock.Now()))
	cache.Put(quote("TSLA", 700.0, clock.Now()))

	got := cache.GetMany([]string{"AAPL", "TSLA", "MISSING"})
	if len(got) != 2 {
		t.Fatalf("Expected 2 quotes, got %d", len(got))
	}
	if _, ok := got["MISSING"]; ok {
		t.Error("Unknown symbol should be absent from GetMany result")
	}
}

func TestCache_StatusTransitions(t *testing.T) {
	clock := testutils.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	cache := pricecache.New(15*time.Second, 3, clock)

	cache.Put(quote("AAPL", 150.0, clock.Now()))
	if st, _ := cache.Status("AAPL"); st != models.StatusFresh {
		t.Errorf("Expected fresh, got %s", st)
	}

	// Age past maxAge: FRESH -> STALE
	clock.Advance(20 * time.Second)
	if st, _ := cache.Status("AAPL"); st != models.StatusStale {
		t.Errorf("Expected stale after aging, got %s", st)
	}
	if !cache.IsStale("AAPL") {
		t.Error("IsStale should report true after aging")
	}

	// Repeated failures: STALE -> DEGRADED
	for i := 0; i < 3; i++ {
		cache.RecordFailure("AAPL")
	}
	if st, _ := cache.Status("AAPL"); st != models.StatusDegraded {
		t.Errorf("Expected degraded after 3 failures, got %s", st)
	}

	// Stale value stays servable while degraded.
	if _, ok := cache.Get("AAPL"); !ok {
		t.Error("Degraded entry should still serve its last quote")
	}

	// Next success: DEGRADED -> FRESH
	cache.Put(quote("AAPL", 152.0, clock.Now()))
	if st, _ := cache.Status("AAPL"); st != models.StatusFresh {
		t.Errorf("Expected fresh after successful refresh, got %s", st)
	}
}

func TestCache_TrackedSymbolCountsFailuresBeforeFirstQuote(t *testing.T) {
	clock := testutils.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	cache := pricecache.New(15*time.Second, 2, clock)

	cache.Track("NEWCO")
	if _, ok := cache.Get("NEWCO"); ok {
		t.Fatal("Tracked-but-unpriced symbol should read as not found")
	}
	if st, known := cache.Status("NEWCO"); !known || st != models.StatusStale {
		t.Errorf("Expected known+stale for unpriced entry, got known=%v st=%s", known, st)
	}

	cache.RecordFailure("NEWCO")
	cache.RecordFailure("NEWCO")
	if st, _ := cache.Status("NEWCO"); st != models.StatusDegraded {
		t.Errorf("Expected degraded without ever having a quote, got %s", st)
	}
}

func TestCache_EvictIdle(t *testing.T) {
	clock := testutils.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	cache := pricecache.New(15*time.Second, 3, clock)

	cache.Put(quote("AAPL", 150.0, clock.Now()))
	cache.Put(quote("TSLA", 700.0, clock.Now()))

	clock.Advance(5 * time.Minute)
	cache.MarkWanted([]string{"AAPL"}) // TSLA goes unwatched

	clock.Advance(6 * time.Minute)
	evicted := cache.EvictIdle(10 * time.Minute)

	if len(evicted) != 1 || evicted[0] != "TSLA" {
		t.Fatalf("Expected [TSLA] evicted, got %v", evicted)
	}
	if _, ok := cache.Get("TSLA"); ok {
		t.Error("Evicted symbol should be gone")
	}
	if _, ok := cache.Get("AAPL"); !ok {
		t.Error("Wanted symbol should survive the sweep")
	}
}

func TestCache_ConcurrentReadersAndWriter(t *testing.T) {
	// Run with `go test -race ./...`
	clock := testutils.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	cache := pricecache.New(15*time.Second, 3, clock)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Get("AAPL")
				cache.GetMany([]string{"AAPL", "TSLA"})
				cache.Lookup("AAPL")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			cache.Put(quote("AAPL", 150.0+float64(j), clock.Now().Add(time.Duration(j)*time.Millisecond)))
		}
	}()
	wg.Wait()
}
