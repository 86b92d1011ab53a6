package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// RecordFailedLoginSQL increments the counter and sets the lockout in a
// single statement. Rows that are already locked are left untouched, so no
// row comes back. The %s verb takes the lockout deadline placeholder.
var RecordFailedLoginSQL = `UPDATE "accounts"
SET
	"failed_login_attempts" = "failed_login_attempts" + 1,
	"lockout_until" = CASE WHEN "failed_login_attempts" + 1 >= ? THEN %s ELSE NULL END,
	"lock_version" = "lock_version" + CASE WHEN "failed_login_attempts" + 1 >= ? THEN 1 ELSE 0 END,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "lockout_until" IS NULL
RETURNING *;`

// ClearLockoutSQL resets an expired lockout. The row must still carry the
// lock that was read: a row unlocked by someone else keeps its new counter.
var ClearLockoutSQL = `UPDATE "accounts"
SET
	"failed_login_attempts" = 0,
	"lockout_until" = NULL,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "lockout_until" IS NOT NULL
	AND "lock_version" = ?;`

// ResetLockoutSQL is the administrative unlock
var ResetLockoutSQL = `UPDATE "accounts"
SET
	"failed_login_attempts" = 0,
	"lockout_until" = NULL,
	"updated_at" = ?
WHERE
	"id" = ?;`

// RevokeSessionsSQL invalidates every token minted for the account so far
var RevokeSessionsSQL = `UPDATE "accounts"
SET
	"session_version" = "session_version" + 1,
	"last_activity" = NULL,
	"updated_at" = ?
WHERE
	"id" = ?;`

// RecordSuccessfulLoginSQL stamps a login on a row that is not locked
var RecordSuccessfulLoginSQL = `UPDATE "accounts"
SET
	"failed_login_attempts" = 0,
	"last_login" = ?,
	"last_activity" = ?,
	"last_login_ip" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "lockout_until" IS NULL;`

// BunStore is the AccountStore backed by uptrace/bun. It works with the
// sqlite and postgres dialects.
type BunStore struct {
	repo repository.Repository[*Account]
	db   *bun.DB
	now  func() time.Time
}

var _ AccountStore = (*BunStore)(nil)

// NewBunStore wires the account repository on db
func NewBunStore(db *bun.DB) *BunStore {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	return &BunStore{
		repo: repo,
		db:   db,
		now:  time.Now,
	}
}

// WithClock sets the clock used for UpdatedAt stamps
func (s *BunStore) WithClock(now func() time.Time) *BunStore {
	if now != nil {
		s.now = now
	}
	return s
}

// EnsureSchema creates the accounts table when missing
func (s *BunStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*Account)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return internalError(err, "failed to create accounts table")
	}
	return nil
}

func (s *BunStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return s.findBy(ctx, "username", strings.TrimSpace(username))
}

func (s *BunStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.findBy(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *BunStore) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := s.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, s.mapError(err, "failed to load account")
	}
	return account, nil
}

func (s *BunStore) findBy(ctx context.Context, column, value string) (*Account, error) {
	record := &Account{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, s.mapError(err, "failed to load account")
	}
	return record, nil
}

func (s *BunStore) Create(ctx context.Context, account *Account) (*Account, error) {
	record := account.Clone()
	prepareAccountDefaults(record, s.now())

	var created *Account
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*Account)(nil)).
			Where("?TableAlias.username = ?", record.Username).
			WhereOr("?TableAlias.email = ?", record.Email).
			WhereOr("?TableAlias.id = ?", record.ID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return ErrAccountConflict
		}

		created, err = s.repo.CreateTx(ctx, tx, record)
		return err
	})
	if errors.Is(err, ErrAccountConflict) {
		return nil, ErrAccountConflict
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAccountConflict
		}
		return nil, internalError(err, "failed to create account")
	}
	return created, nil
}

func (s *BunStore) Save(ctx context.Context, account *Account) error {
	record := account.Clone()
	record.Email = strings.ToLower(strings.TrimSpace(record.Email))
	record.UpdatedAt = s.now()

	res, err := s.db.NewUpdate().
		Model(record).
		Column(
			"email",
			"full_name",
			"password_hash",
			"role",
			"is_active",
			"must_change_password",
			"password_last_changed",
			"updated_at",
		).
		WherePK().
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountConflict
		}
		return internalError(err, "failed to save account")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *BunStore) RecordFailedLogin(ctx context.Context, id uuid.UUID, policy LockoutPolicy, now time.Time) (*Account, error) {
	until := now.Add(policy.duration())
	max := policy.maxAttempts()

	record := &Account{}
	query := fmt.Sprintf(RecordFailedLoginSQL, s.timestampPlaceholder())
	err := s.db.NewRaw(query, max, until, max, s.now(), id).Scan(ctx, record)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, internalError(err, "failed to record failed login")
	}

	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrAccountLocked
}

func (s *BunStore) ClearLockout(ctx context.Context, id uuid.UUID, lockVersion int) (bool, error) {
	res, err := s.db.NewRaw(ClearLockoutSQL, s.now(), id, lockVersion).Exec(ctx)
	if err != nil {
		return false, internalError(err, "failed to clear lockout")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, internalError(err, "failed to clear lockout")
	}
	return n > 0, nil
}

func (s *BunStore) ResetLockout(ctx context.Context, id uuid.UUID) error {
	return s.execByID(ctx, ResetLockoutSQL, id, "failed to reset lockout")
}

func (s *BunStore) RevokeSessions(ctx context.Context, id uuid.UUID) error {
	return s.execByID(ctx, RevokeSessionsSQL, id, "failed to revoke sessions")
}

func (s *BunStore) execByID(ctx context.Context, query string, id uuid.UUID, msg string) error {
	res, err := s.db.NewRaw(query, s.now(), id).Exec(ctx)
	if err != nil {
		return internalError(err, msg)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *BunStore) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time, sourceAddress string) error {
	res, err := s.db.NewRaw(RecordSuccessfulLoginSQL, at, at, sourceAddress, s.now(), id).Exec(ctx)
	if err != nil {
		return internalError(err, "failed to record login")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		return ErrAccountLocked
	}
	return nil
}

func (s *BunStore) TouchActivity(ctx context.Context, id uuid.UUID, at *time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*Account)(nil)).
		Set("last_activity = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return internalError(err, "failed to update session activity")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// postgres resolves an untyped CASE branch as text
func (s *BunStore) timestampPlaceholder() string {
	if s.db.Dialect().Name() == dialect.PG {
		return "CAST(? AS TIMESTAMPTZ)"
	}
	return "?"
}

func (s *BunStore) mapError(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return ErrAccountNotFound
	}
	return internalError(err, msg)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}
