package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AccountStore is the persistence contract of the auth core. Lookups return
// ErrAccountNotFound when no row matches.
//
// RecordFailedLogin, ClearLockout and RecordSuccessfulLogin must be atomic
// per account: concurrent calls never lose an update.
type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// Create inserts a new account, ErrAccountConflict when the username or
	// email is taken.
	Create(ctx context.Context, account *Account) (*Account, error)
	// Save persists profile, status and password columns. Lockout columns
	// are never written through Save.
	Save(ctx context.Context, account *Account) error

	// RecordFailedLogin increments the failure counter and locks the account
	// when the policy threshold is reached. It returns the updated row, or
	// ErrAccountLocked when the account was already locked.
	RecordFailedLogin(ctx context.Context, id uuid.UUID, policy LockoutPolicy, now time.Time) (*Account, error)
	// ClearLockout resets the counter and lockout only if the row is still
	// locked under the same lock version. It reports whether the row was
	// changed.
	ClearLockout(ctx context.Context, id uuid.UUID, lockVersion int) (bool, error)
	// ResetLockout unconditionally resets the counter and lockout
	ResetLockout(ctx context.Context, id uuid.UUID) error
	// RevokeSessions bumps the session version and clears last activity, so
	// every token minted before the call stops resolving.
	RevokeSessions(ctx context.Context, id uuid.UUID) error
	// RecordSuccessfulLogin resets the counter and stamps the login. It
	// returns ErrAccountLocked if a concurrent failure locked the account.
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time, sourceAddress string) error
	// TouchActivity sets last activity, a nil value clears it.
	TouchActivity(ctx context.Context, id uuid.UUID, at *time.Time) error
}

// FindByIdentifier resolves an identifier by username first, then email
func FindByIdentifier(ctx context.Context, store AccountStore, identifier string) (*Account, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, ErrAccountNotFound
	}

	account, err := store.FindByUsername(ctx, trimmed)
	if err == nil {
		return account, nil
	}
	if !IsAccountNotFound(err) {
		return nil, err
	}

	if !strings.Contains(trimmed, "@") {
		return nil, ErrAccountNotFound
	}
	return store.FindByEmail(ctx, strings.ToLower(trimmed))
}

// IsAccountNotFound reports a missing account
func IsAccountNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeAccountNotFound
	}
	return false
}

func prepareAccountDefaults(account *Account, now time.Time) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Role == "" {
		account.Role = RoleStaff
	}
	account.Username = strings.TrimSpace(account.Username)
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
}
