package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/leosinghh/crypto-trading-simulator/pkg/models"
)

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the ledger in process memory. Used in tests and when
// running without Postgres; state does not survive a restart.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]models.Account
	transactions map[string][]models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]models.Account),
		transactions: make(map[string][]models.Transaction),
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, acct models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; ok {
		return ErrAccountExists
	}
	m.accounts[acct.ID] = acct.Clone()
	return nil
}

func (m *MemoryStore) Account(_ context.Context, id string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return models.Account{}, ErrNoAccount
	}
	return acct.Clone(), nil
}

func (m *MemoryStore) Accounts(_ context.Context) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		out = append(out, acct.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveAccount(_ context.Context, acct models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; !ok {
		return ErrNoAccount
	}
	m.accounts[acct.ID] = acct.Clone()
	return nil
}

func (m *MemoryStore) ApplyTrade(_ context.Context, acct models.Account, tx models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; !ok {
		return ErrNoAccount
	}
	m.accounts[acct.ID] = acct.Clone()
	m.transactions[acct.ID] = append(m.transactions[acct.ID], tx)
	return nil
}

func (m *MemoryStore) Transactions(_ context.Context, accountID string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := m.transactions[accountID]
	out := make([]models.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

func (m *MemoryStore) HeldSymbols(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]bool)
	for _, acct := range m.accounts {
		for sym, qty := range acct.Holdings {
			if qty.IsPositive() {
				set[sym] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}
