package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"boostpanel/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "boostpanel/contexts/finance-core/ledger-service/domain/errors"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.RWMutex

	accounts map[string]entities.Account
	entries  []entities.Entry
	byKey    map[string]entities.Entry
}

func NewStore(seed []entities.Account) *Store {
	accounts := make(map[string]entities.Account, len(seed))
	for _, account := range seed {
		accounts[account.UserID] = account
	}
	return &Store{
		accounts: accounts,
		byKey:    make(map[string]entities.Entry),
	}
}

func (s *Store) CreateAccount(_ context.Context, account entities.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.UserID]; exists {
		return domainerrors.ErrAccountExists
	}
	s.accounts[account.UserID] = account
	return nil
}

func (s *Store) GetAccount(_ context.Context, userID string) (entities.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[strings.TrimSpace(userID)]
	if !exists {
		return entities.Account{}, domainerrors.ErrAccountNotFound
	}
	return account, nil
}

func (s *Store) SaveAccountWithEntry(
	_ context.Context,
	account entities.Account,
	expectedVersion int64,
	entry entities.Entry,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.accounts[account.UserID]
	if !exists {
		return domainerrors.ErrAccountNotFound
	}
	if current.Version != expectedVersion {
		return domainerrors.ErrVersionConflict
	}
	if entry.IdempotencyKey != "" {
		if _, used := s.byKey[entry.IdempotencyKey]; used {
			return domainerrors.ErrIdempotencyConflict
		}
	}

	s.accounts[account.UserID] = account
	s.entries = append(s.entries, entry)
	if entry.IdempotencyKey != "" {
		s.byKey[entry.IdempotencyKey] = entry
	}
	return nil
}

func (s *Store) GetEntryByKey(_ context.Context, idempotencyKey string) (entities.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, found := s.byKey[strings.TrimSpace(idempotencyKey)]
	return entry, found, nil
}

func (s *Store) ListEntriesByUser(_ context.Context, userID string, limit int, offset int) ([]entities.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]entities.Entry, 0)
	for _, entry := range s.entries {
		if entry.UserID == strings.TrimSpace(userID) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if offset >= len(entries) {
		return []entities.Entry{}, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}
