package ranking

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Valuator marks accounts to market. Satisfied by the ledger service.
type Valuator interface {
	Valuate(ctx context.Context, accountID string) (models.Valuation, error)
}

// AccountLister enumerates registered accounts. Satisfied by the ledger store.
type AccountLister interface {
	Accounts(ctx context.Context) ([]models.Account, error)
}

// Engine computes leaderboard snapshots. Every request is a full recompute:
// the account universe is small next to the symbol count, and correctness
// beats incrementality here.
type Engine struct {
	valuator Valuator
	accounts AccountLister
	logger   *zap.Logger
}

func NewEngine(valuator Valuator, accounts AccountLister, logger *zap.Logger) *Engine {
	return &Engine{valuator: valuator, accounts: accounts, logger: logger}
}

// Leaderboard ranks the given accounts by total value descending, ties broken
// by earlier registration. An empty accountIDs ranks every registered
// account. topN <= 0 means no truncation. Partially unpriceable portfolios
// rank with their approximate valuation rather than failing.
func (e *Engine) Leaderboard(ctx context.Context, accountIDs []string, topN int) ([]models.LeaderboardEntry, error) {
	accounts, err := e.accounts.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	if len(accountIDs) > 0 {
		requested := make(map[string]bool, len(accountIDs))
		for _, id := range accountIDs {
			requested[id] = true
		}
		filtered := accounts[:0]
		for _, acct := range accounts {
			if requested[acct.ID] {
				filtered = append(filtered, acct)
			}
		}
		accounts = filtered
	}

	type row struct {
		entry     models.LeaderboardEntry
		createdAt time.Time
	}
	rows := make([]row, 0, len(accounts))
	for _, acct := range accounts {
		val, err := e.valuator.Valuate(ctx, acct.ID)
		if err != nil {
			// An account that vanished mid-compute is dropped, not fatal.
			e.logger.Warn("Skipping unvaluable account",
				zap.String("account", acct.ID), zap.Error(err))
			continue
		}
		rows = append(rows, row{
			entry: models.LeaderboardEntry{
				AccountID:   acct.ID,
				TotalValue:  val.TotalValue,
				Approximate: val.Approximate,
			},
			createdAt: acct.CreatedAt,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		cmp := rows[i].entry.TotalValue.Cmp(rows[j].entry.TotalValue)
		if cmp != 0 {
			return cmp > 0
		}
		return rows[i].createdAt.Before(rows[j].createdAt)
	})

	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}

	out := make([]models.LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		r.entry.Rank = i + 1
		out = append(out, r.entry)
	}
	return out, nil
}
