package ledger

import (
	"context"
	"errors"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

var (
	// ErrNoAccount is returned for operations against an unknown account.
	ErrNoAccount = errors.New("account not found")
	// ErrAccountExists is returned when registering a duplicate account id.
	ErrAccountExists = errors.New("account already exists")
	// ErrPriceUnavailable rejects a trade that cannot be priced from a
	// current, trustworthy quote.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrInsufficientFunds rejects a buy that would overdraw cash.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientHoldings rejects a sell for more than is held.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrInvalidQuantity rejects non-positive trade quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Store is the system of record for accounts and the append-only transaction
// log. Implementations must apply a trade (account state + transaction
// append) atomically; serialization of trades per account is the service
// layer's job.
type Store interface {
	CreateAccount(ctx context.Context, acct models.Account) error
	Account(ctx context.Context, id string) (models.Account, error)
	Accounts(ctx context.Context) ([]models.Account, error)
	SaveAccount(ctx context.Context, acct models.Account) error
	ApplyTrade(ctx context.Context, acct models.Account, tx models.Transaction) error
	Transactions(ctx context.Context, accountID string) ([]models.Transaction, error)
	HeldSymbols(ctx context.Context) ([]string, error)
}
