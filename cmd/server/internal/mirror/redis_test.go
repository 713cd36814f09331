package mirror_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/mirror"
	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

func setupFeed(t *testing.T) (*mirror.RedisFeed, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	feed := mirror.NewRedisFeed(client)
	t.Cleanup(func() { feed.Close() })
	return feed, mr
}

func sampleQuote(symbol string, price int64) models.Quote {
	return models.Quote{
		Symbol:     symbol,
		Price:      decimal.NewFromInt(price),
		ObservedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRedisFeed_PublishQuoteStoresSnapshot(t *testing.T) {
	feed, mr := setupFeed(t)
	ctx := context.Background()

	if err := feed.PublishQuote(ctx, sampleQuote("AAPL", 150)); err != nil {
		t.Fatalf("PublishQuote failed: %v", err)
	}

	raw, err := mr.Get("quote:AAPL")
	if err != nil {
		t.Fatalf("Snapshot key missing: %v", err)
	}

	var q models.Quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		t.Fatalf("Snapshot is not valid JSON: %v", err)
	}
	if q.Symbol != "AAPL" || !q.Price.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Snapshot mismatch: %+v", q)
	}
}

func TestRedisFeed_PublishOverwritesSnapshot(t *testing.T) {
	feed, mr := setupFeed(t)
	ctx := context.Background()

	feed.PublishQuote(ctx, sampleQuote("AAPL", 150))
	feed.PublishQuote(ctx, sampleQuote("AAPL", 155))

	raw, _ := mr.Get("quote:AAPL")
	var q models.Quote
	json.Unmarshal([]byte(raw), &q)
	if !q.Price.Equal(decimal.NewFromInt(155)) {
		t.Errorf("Expected latest price 155 in snapshot, got %s", q.Price)
	}
}

func TestRedisFeed_GetSnapshots(t *testing.T) {
	feed, _ := setupFeed(t)
	ctx := context.Background()

	feed.PublishQuote(ctx, sampleQuote("AAPL", 150))
	feed.PublishQuote(ctx, sampleQuote("TSLA", 700))

	snaps, err := feed.GetSnapshots(ctx, []string{"AAPL", "TSLA", "MISSING"})
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("Expected 2 snapshots, unknown symbol skipped, got %d", len(snaps))
	}

	snaps, err = feed.GetSnapshots(ctx, nil)
	if err != nil || snaps != nil {
		t.Errorf("Empty symbol list should return nothing, got %v (err %v)", snaps, err)
	}
}

func TestRedisFeed_PubSubDeliversToSubscribedSymbol(t *testing.T) {
	feed, _ := setupFeed(t)
	ctx := context.Background()

	if err := feed.SubscribeToFeed(ctx, "AAPL"); err != nil {
		t.Fatalf("SubscribeToFeed failed: %v", err)
	}

	type msg struct {
		symbol  string
		payload string
	}
	got := make(chan msg, 4)
	go feed.RunPubSub(ctx, func(symbol, payload string) {
		got <- msg{symbol, payload}
	})

	// Published on an unsubscribed channel: must not arrive.
	feed.PublishQuote(ctx, sampleQuote("TSLA", 700))
	feed.PublishQuote(ctx, sampleQuote("AAPL", 150))

	select {
	case m := <-got:
		if m.symbol != "AAPL" {
			t.Fatalf("Expected AAPL delivery, got %s", m.symbol)
		}
		var q models.Quote
		if err := json.Unmarshal([]byte(m.payload), &q); err != nil {
			t.Fatalf("Delivered payload not valid JSON: %v", err)
		}
		if !q.Price.Equal(decimal.NewFromInt(150)) {
			t.Errorf("Expected price 150 in payload, got %s", q.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No pub/sub delivery within 2s")
	}

	if err := feed.UnsubscribeFromFeed(ctx, "AAPL"); err != nil {
		t.Fatalf("UnsubscribeFromFeed failed: %v", err)
	}
}
