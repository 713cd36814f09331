package mirror

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

const (
	keyPrefix     = "quote:"
	channelPrefix = "prices."
	snapshotTTL   = 1 * time.Hour
)

// Compile-time check to ensure RedisFeed implements PriceFeed
var _ PriceFeed = (*RedisFeed)(nil)

// RedisFeed mirrors accepted quotes into Redis: a snapshot key per symbol
// plus a pub/sub channel per symbol. It is a read replica for external
// consumers; the in-process cache stays authoritative.
type RedisFeed struct {
	client *redis.Client
	pubsub *redis.PubSub
	mu     sync.Mutex // protects pubsub subscribe/unsubscribe
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	ps := client.Subscribe(context.Background())
	return &RedisFeed{
		client: client,
		pubsub: ps,
	}
}

// PublishQuote writes the snapshot and fans the update out, atomically via
// pipeline.
func (r *RedisFeed) PublishQuote(ctx context.Context, q models.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, keyPrefix+q.Symbol, payload, snapshotTTL)
	pipe.Publish(ctx, channelPrefix+q.Symbol, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// GetSnapshots fetches the latest stored payload for a list of symbols (MGET)
func (r *RedisFeed) GetSnapshots(ctx context.Context, symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = keyPrefix + sym
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, val := range results {
		if payload, ok := val.(string); ok && payload != "" {
			snapshots = append(snapshots, payload)
		}
	}
	return snapshots, nil
}

// SubscribeToFeed tells Redis we want to listen to this symbol's channel
func (r *RedisFeed) SubscribeToFeed(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Subscribe(ctx, channelPrefix+symbol)
}

// UnsubscribeFromFeed tells Redis to stop sending messages for this symbol
func (r *RedisFeed) UnsubscribeFromFeed(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Unsubscribe(ctx, channelPrefix+symbol)
}

// RunPubSub is a blocking loop that reads messages from Redis and triggers
// the callback with the bare symbol and the raw payload.
func (r *RedisFeed) RunPubSub(ctx context.Context, onMessage func(symbol string, payload string)) {
	ch := r.pubsub.Channel()

	for msg := range ch {
		symbol := strings.TrimPrefix(msg.Channel, channelPrefix)
		if symbol == msg.Channel {
			continue
		}
		onMessage(symbol, msg.Payload)
	}
}

func (r *RedisFeed) Close() error {
	if err := r.pubsub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
