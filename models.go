package auth

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the account role
type Role = string

const (
	// RoleAdmin can manage accounts and every record
	RoleAdmin Role = "admin"
	// RoleStaff is a regular clinic operator
	RoleStaff Role = "staff"
)

// ValidRole reports whether role belongs to the closed role set
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleStaff
}

// Account is the persisted identity checked by the auth core
type Account struct {
	bun.BaseModel       `bun:"table:accounts,alias:acct"`
	ID                  uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Username            string     `bun:"username,notnull,unique" json:"username"`
	Email               string     `bun:"email,notnull,unique" json:"email"`
	FullName            string     `bun:"full_name,notnull" json:"full_name"`
	PasswordHash        string     `bun:"password_hash,notnull" json:"-"`
	Role                Role       `bun:"role,notnull" json:"role"`
	IsActive            bool       `bun:"is_active,notnull" json:"is_active"`
	FailedLoginAttempts int        `bun:"failed_login_attempts,notnull" json:"failed_login_attempts"`
	LockoutUntil        *time.Time `bun:"lockout_until,nullzero" json:"lockout_until,omitempty"`
	LockVersion         int        `bun:"lock_version,notnull" json:"-"`
	SessionVersion      int        `bun:"session_version,notnull,default:0" json:"-"`
	PasswordLastChanged *time.Time `bun:"password_last_changed,nullzero" json:"password_last_changed,omitempty"`
	MustChangePassword  bool       `bun:"must_change_password,notnull" json:"must_change_password"`
	LastActivity        *time.Time `bun:"last_activity,nullzero" json:"last_activity,omitempty"`
	LastLogin           *time.Time `bun:"last_login,nullzero" json:"last_login,omitempty"`
	LastLoginIP         string     `bun:"last_login_ip" json:"last_login_ip,omitempty"`
	CreatedAt           time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt           time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Clone returns a deep copy so callers never share time pointers with a store
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.LockoutUntil = cloneTime(a.LockoutUntil)
	out.PasswordLastChanged = cloneTime(a.PasswordLastChanged)
	out.LastActivity = cloneTime(a.LastActivity)
	out.LastLogin = cloneTime(a.LastLogin)
	return &out
}

// PublicAccount is the view of an account safe to hand to API clients
type PublicAccount struct {
	ID                 uuid.UUID  `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	FullName           string     `json:"full_name"`
	Role               Role       `json:"role"`
	IsActive           bool       `json:"is_active"`
	MustChangePassword bool       `json:"must_change_password"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Public returns the exported view of the account
func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:                 a.ID,
		Username:           a.Username,
		Email:              a.Email,
		FullName:           a.FullName,
		Role:               a.Role,
		IsActive:           a.IsActive,
		MustChangePassword: a.MustChangePassword,
		LastLogin:          cloneTime(a.LastLogin),
		CreatedAt:          a.CreatedAt,
	}
}

// AccountUpdate lists the profile fields a caller may change. Nil fields are
// left untouched.
type AccountUpdate struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

// Empty reports whether the update carries no change
func (u AccountUpdate) Empty() bool {
	return u.Email == nil && u.FullName == nil
}

// Validate checks the values present in the update
func (u AccountUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Email, validation.NilOrNotEmpty, is.Email, validation.Length(3, 254)),
		validation.Field(&u.FullName, validation.NilOrNotEmpty, validation.Length(1, 200)),
	)
}

// ApplyUpdate validates the update and copies the allowed fields. Credential,
// lockout, role and status fields are never reachable from here.
func (a *Account) ApplyUpdate(u AccountUpdate) error {
	if err := u.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid account update")
	}
	if u.Email != nil {
		a.Email = strings.ToLower(strings.TrimSpace(*u.Email))
	}
	if u.FullName != nil {
		a.FullName = strings.TrimSpace(*u.FullName)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
