package memory

import (
	"context"
	"sync"

	"boxoffice/internal/service/booking/domain"
)

// LedgerStore 单进程内存实现，供本地开发和测试使用。一把锁保证每个条件更新的原子性。
type LedgerStore struct {
	mu      sync.Mutex
	entries map[string]*domain.LedgerEntry
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{entries: make(map[string]*domain.LedgerEntry)}
}

func (s *LedgerStore) Create(_ context.Context, entry domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.EventID]; ok {
		return domain.ErrEventExists
	}
	e := entry
	s.entries[entry.EventID] = &e
	return nil
}

func (s *LedgerStore) Get(_ context.Context, eventID string) (domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[eventID]
	if !ok {
		return domain.LedgerEntry{}, domain.ErrEventNotFound
	}
	return *e, nil
}

func (s *LedgerStore) TryHold(_ context.Context, eventID string, seats int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[eventID]
	if !ok || e.Quarantined || e.Confirmed+e.Held+seats > e.TotalCapacity {
		return false, nil
	}
	e.Held += seats
	return true, nil
}

func (s *LedgerStore) ConfirmHeld(_ context.Context, eventID string, seats int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[eventID]
	if !ok || e.Held < seats {
		return false, nil
	}
	e.Held -= seats
	e.Confirmed += seats
	return true, nil
}

func (s *LedgerStore) ReleaseHeld(_ context.Context, eventID string, seats int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[eventID]
	if !ok || e.Held < seats {
		return false, nil
	}
	e.Held -= seats
	return true, nil
}

func (s *LedgerStore) Quarantine(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[eventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	e.Quarantined = true
	return nil
}

// Corrupt 直接改写计数，仅用于测试账本不一致的处理
func (s *LedgerStore) Corrupt(eventID string, fn func(e *domain.LedgerEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[eventID]; ok {
		fn(e)
	}
}
