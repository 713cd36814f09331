package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a priced observation of a symbol at a point in time. One quote per
// symbol is current; older observations are discarded.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// QuoteStatus classifies how much a cached quote can be trusted.
type QuoteStatus int

const (
	// StatusFresh means the quote is younger than the configured max age.
	StatusFresh QuoteStatus = iota
	// StatusStale means the quote is older than the max age but refreshes
	// have not been failing.
	StatusStale
	// StatusDegraded means refreshes have failed repeatedly; the price is
	// still servable but must not be used to execute trades.
	StatusDegraded
)

func (s QuoteStatus) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Transaction is an immutable, append-only audit record of an executed trade.
type Transaction struct {
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Cash       decimal.Decimal `json:"cash"` // balance after execution
	ExecutedAt time.Time       `json:"executed_at"`
}

// Account holds a participant's simulated cash and positions.
type Account struct {
	ID        string                     `json:"id"`
	Cash      decimal.Decimal            `json:"cash"`
	Holdings  map[string]decimal.Decimal `json:"holdings"`
	CreatedAt time.Time                  `json:"created_at"`
}

// Clone returns a deep copy so callers can mutate safely.
func (a Account) Clone() Account {
	cp := a
	cp.Holdings = make(map[string]decimal.Decimal, len(a.Holdings))
	for sym, qty := range a.Holdings {
		cp.Holdings[sym] = qty
	}
	return cp
}

// Valuation is a point-in-time mark of an account. Approximate is set when
// any component was priced from a stale or degraded quote (or a held symbol
// had no quote at all).
type Valuation struct {
	AccountID   string          `json:"account_id"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Cash        decimal.Decimal `json:"cash"`
	Approximate bool            `json:"approximate"`
	ComputedAt  time.Time       `json:"computed_at"`
}

// LeaderboardEntry is a derived, ephemeral ranking row. Never persisted.
type LeaderboardEntry struct {
	AccountID   string          `json:"account_id"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Rank        int             `json:"rank"`
	Approximate bool            `json:"approximate,omitempty"`
}
