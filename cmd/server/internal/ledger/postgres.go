package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Compile-time check to ensure PostgresStore implements Store
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists accounts, holdings and the append-only transaction
// log so they survive a process restart. The price cache is deliberately not
// persisted; it is rebuilt by the scheduler.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			cash       NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS holdings (
			account_id TEXT NOT NULL REFERENCES accounts (id),
			symbol     TEXT NOT NULL,
			quantity   NUMERIC NOT NULL,
			PRIMARY KEY (account_id, symbol)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id          BIGSERIAL PRIMARY KEY,
			account_id  TEXT NOT NULL REFERENCES accounts (id),
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			quantity    NUMERIC NOT NULL,
			price       NUMERIC NOT NULL,
			cash        NUMERIC NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_account_idx
			ON transactions (account_id, id);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct models.Account) error {
	query := `
		INSERT INTO accounts (id, cash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, acct.ID, acct.Cash.String(), acct.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to create account", zap.String("account", acct.ID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountExists
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, id string) (models.Account, error) {
	var acct models.Account
	var cash string
	query := `SELECT id, cash, created_at FROM accounts WHERE id = $1`
	err := s.db.QueryRow(ctx, query, id).Scan(&acct.ID, &cash, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrNoAccount
	}
	if err != nil {
		return models.Account{}, err
	}
	if acct.Cash, err = decimal.NewFromString(cash); err != nil {
		return models.Account{}, fmt.Errorf("account %s: bad cash value: %w", id, err)
	}

	acct.Holdings, err = s.holdings(ctx, id)
	if err != nil {
		return models.Account{}, err
	}
	return acct, nil
}

func (s *PostgresStore) holdings(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	rows, err := s.db.Query(ctx,
		`SELECT symbol, quantity FROM holdings WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var symbol, qty string
		if err := rows.Scan(&symbol, &qty); err != nil {
			return nil, err
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("holding %s/%s: bad quantity: %w", accountID, symbol, err)
		}
		out[symbol] = q
	}
	return out, rows.Err()
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		acct, err := s.Account(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, acct models.Account) error {
	return s.applyAccount(ctx, acct, nil)
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, acct models.Account, tx models.Transaction) error {
	return s.applyAccount(ctx, acct, &tx)
}

// applyAccount writes account state (cash + holdings) and optionally appends
// a transaction, all in one SQL transaction.
func (s *PostgresStore) applyAccount(ctx context.Context, acct models.Account, trade *models.Transaction) error {
	dbtx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbtx.Rollback(ctx)

	tag, err := dbtx.Exec(ctx,
		`UPDATE accounts SET cash = $2 WHERE id = $1`, acct.ID, acct.Cash.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoAccount
	}

	if _, err := dbtx.Exec(ctx,
		`DELETE FROM holdings WHERE account_id = $1`, acct.ID); err != nil {
		return err
	}
	for symbol, qty := range acct.Holdings {
		if _, err := dbtx.Exec(ctx,
			`INSERT INTO holdings (account_id, symbol, quantity) VALUES ($1, $2, $3)`,
			acct.ID, symbol, qty.String()); err != nil {
			return err
		}
	}

	if trade != nil {
		if _, err := dbtx.Exec(ctx, `
			INSERT INTO transactions (account_id, symbol, side, quantity, price, cash, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			trade.AccountID, trade.Symbol, string(trade.Side),
			trade.Quantity.String(), trade.Price.String(),
			trade.Cash.String(), trade.ExecutedAt); err != nil {
			return err
		}
	}

	return dbtx.Commit(ctx)
}

func (s *PostgresStore) Transactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	query := `
		SELECT account_id, symbol, side, quantity, price, cash, executed_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var side, qty, price, cash string
		if err := rows.Scan(&tx.AccountID, &tx.Symbol, &side, &qty, &price, &cash, &tx.ExecutedAt); err != nil {
			return nil, err
		}
		tx.Side = models.Side(side)
		if tx.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if tx.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if tx.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HeldSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT symbol FROM holdings WHERE quantity > 0 ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
