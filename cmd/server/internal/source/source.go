package source

import (
	"context"
	"errors"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// ErrRateLimited signals the upstream quote API refused the request for rate
// reasons. The scheduler reacts by widening its tick interval; it is never
// surfaced to ledger callers.
var ErrRateLimited = errors.New("quote source rate limited")

// QuoteSource is the capability the refresh scheduler pulls prices through.
// Implementations are expected to be unreliable and rate limited; symbols
// the upstream could not price are simply absent from the result map.
type QuoteSource interface {
	Fetch(ctx context.Context, symbols []string) (map[string]models.Quote, error)
}
