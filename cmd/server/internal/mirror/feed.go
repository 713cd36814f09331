package mirror

import (
	"context"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// PriceFeed is the external read replica of the price cache: snapshot reads
// plus a pub/sub stream for websocket subscribers.
type PriceFeed interface {
	PublishQuote(ctx context.Context, q models.Quote) error
	GetSnapshots(ctx context.Context, symbols []string) ([]string, error)
	SubscribeToFeed(ctx context.Context, symbol string) error
	UnsubscribeFromFeed(ctx context.Context, symbol string) error
	RunPubSub(ctx context.Context, onMessage func(symbol string, payload string))
	Close() error
}
