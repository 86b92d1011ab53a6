package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an AccountStore kept in process memory. Every operation
// runs under one mutex, which makes the counter operations atomic.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*Account
	byUsername map[string]uuid.UUID
	byEmail    map[string]uuid.UUID
	now        func() time.Time
}

var _ AccountStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       map[uuid.UUID]*Account{},
		byUsername: map[string]uuid.UUID{},
		byEmail:    map[string]uuid.UUID{},
		now:        time.Now,
	}
}

// WithClock sets the clock used for UpdatedAt stamps
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[strings.TrimSpace(username)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, account *Account) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := account.Clone()
	prepareAccountDefaults(record, s.now())

	if _, ok := s.byID[record.ID]; ok {
		return nil, ErrAccountConflict
	}
	if _, ok := s.byUsername[record.Username]; ok {
		return nil, ErrAccountConflict
	}
	if _, ok := s.byEmail[record.Email]; ok {
		return nil, ErrAccountConflict
	}

	s.byID[record.ID] = record
	s.byUsername[record.Username] = record.ID
	s.byEmail[record.Email] = record.ID

	return record.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[account.ID]
	if !ok {
		return ErrAccountNotFound
	}

	email := strings.ToLower(strings.TrimSpace(account.Email))
	if email != current.Email {
		if owner, taken := s.byEmail[email]; taken && owner != current.ID {
			return ErrAccountConflict
		}
		delete(s.byEmail, current.Email)
		s.byEmail[email] = current.ID
	}

	current.Email = email
	current.FullName = account.FullName
	current.PasswordHash = account.PasswordHash
	current.Role = account.Role
	current.IsActive = account.IsActive
	current.MustChangePassword = account.MustChangePassword
	current.PasswordLastChanged = cloneTime(account.PasswordLastChanged)
	current.UpdatedAt = s.now()

	return nil
}

func (s *MemoryStore) RecordFailedLogin(_ context.Context, id uuid.UUID, policy LockoutPolicy, now time.Time) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if account.LockoutUntil != nil {
		return nil, ErrAccountLocked
	}

	attempts, until := policy.ApplyFailure(account.FailedLoginAttempts, now)
	account.FailedLoginAttempts = attempts
	if until != nil {
		account.LockoutUntil = until
		account.LockVersion++
	}
	account.UpdatedAt = s.now()

	return account.Clone(), nil
}

func (s *MemoryStore) ClearLockout(_ context.Context, id uuid.UUID, lockVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return false, ErrAccountNotFound
	}
	if account.LockoutUntil == nil || account.LockVersion != lockVersion {
		return false, nil
	}

	account.FailedLoginAttempts = 0
	account.LockoutUntil = nil
	account.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) ResetLockout(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.FailedLoginAttempts = 0
	account.LockoutUntil = nil
	account.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RevokeSessions(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.SessionVersion++
	account.LastActivity = nil
	account.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RecordSuccessfulLogin(_ context.Context, id uuid.UUID, at time.Time, sourceAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	if account.LockoutUntil != nil {
		return ErrAccountLocked
	}

	account.FailedLoginAttempts = 0
	account.LastLogin = cloneTime(&at)
	account.LastActivity = cloneTime(&at)
	account.LastLoginIP = sourceAddress
	account.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) TouchActivity(_ context.Context, id uuid.UUID, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.LastActivity = cloneTime(at)
	return nil
}
