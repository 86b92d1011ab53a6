package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// NewAccount is the input for CreateAccount
type NewAccount struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	// DeterministicID derives the account id from the email
	DeterministicID bool `json:"-"`
}

// Validate checks the shape of the input, the password policy runs apart
func (n NewAccount) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.Username, validation.Required, validation.Length(3, 64)),
		validation.Field(&n.Email, validation.Required, is.Email),
		validation.Field(&n.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&n.Password, validation.Required),
		validation.Field(&n.Role, validation.In(RoleAdmin, RoleStaff)),
	)
}

// CreateAccount registers a new account. Only admins may create accounts, a
// nil actor is reserved for bootstrap code.
func (s *Service) CreateAccount(ctx context.Context, actor *Account, input NewAccount, source string) (AuthResult, error) {
	if actor != nil {
		if res := s.Authorize(ctx, actor, source, RoleAdmin); !res.OK() {
			return res, nil
		}
	}

	if err := input.Validate(); err != nil {
		return invalidInput(err), nil
	}

	if violation := s.policy.Validate(input.Password); violation != nil {
		return AuthResult{Outcome: OutcomeWeakPassword, Violation: violation}, nil
	}

	digest, err := s.hasher.Hash(input.Password)
	if err != nil {
		return AuthResult{}, err
	}

	now := s.now()
	account := &Account{
		Username:            strings.TrimSpace(input.Username),
		Email:               strings.ToLower(strings.TrimSpace(input.Email)),
		FullName:            strings.TrimSpace(input.FullName),
		PasswordHash:        digest,
		Role:                input.Role,
		IsActive:            true,
		PasswordLastChanged: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if account.Role == "" {
		account.Role = RoleStaff
	}
	if input.DeterministicID {
		if id, err := hashid.NewUUID(account.Email); err == nil {
			account.ID = id
		}
	}

	created, err := s.store.Create(ctx, account)
	if err != nil {
		if isConflict(err) {
			return failed(OutcomeConflict), nil
		}
		return AuthResult{}, err
	}

	s.emit(ctx, EventAccountCreated, created.Username, source, "", map[string]any{
		"role":  created.Role,
		"actor": actorName(actor),
	})
	return success(created), nil
}

// ResetPassword sets a new password for another account. The owner must
// change it on next login, any lockout is cleared and open sessions end.
func (s *Service) ResetPassword(ctx context.Context, actor *Account, id uuid.UUID, password, source string) (AuthResult, error) {
	if res := s.Authorize(ctx, actor, source, RoleAdmin); !res.OK() {
		return res, nil
	}

	if violation := s.policy.Validate(password); violation != nil {
		return AuthResult{Outcome: OutcomeWeakPassword, Violation: violation}, nil
	}

	account, res, err := s.findTarget(ctx, id)
	if account == nil {
		return res, err
	}

	if err := s.setPassword(ctx, account, password, true); err != nil {
		return AuthResult{}, err
	}
	if err := s.store.RevokeSessions(ctx, account.ID); err != nil {
		return AuthResult{}, err
	}
	account.SessionVersion++
	account.LastActivity = nil
	if account, err = s.clearLockout(ctx, account); err != nil {
		return AuthResult{}, err
	}

	s.emit(ctx, EventPasswordReset, account.Username, source, ReasonAdmin, map[string]any{
		"actor": actorName(actor),
	})
	return success(account), nil
}

// SetActive enables or disables an account. Admins cannot disable their own
// account.
func (s *Service) SetActive(ctx context.Context, actor *Account, id uuid.UUID, active bool, source string) (AuthResult, error) {
	if res := s.Authorize(ctx, actor, source, RoleAdmin); !res.OK() {
		return res, nil
	}
	if actor.ID == id && !active {
		return rejectField("is_active", "cannot deactivate your own account"), nil
	}

	account, res, err := s.findTarget(ctx, id)
	if account == nil {
		return res, err
	}

	if account.IsActive == active {
		return success(account), nil
	}

	account.IsActive = active
	if err := s.store.Save(ctx, account); err != nil {
		return AuthResult{}, err
	}

	s.emit(ctx, EventAccountStatusChanged, account.Username, source, ReasonAdmin, map[string]any{
		"actor":     actorName(actor),
		"is_active": active,
	})
	return success(account), nil
}

// ToggleActive flips the active flag of an account, see SetActive
func (s *Service) ToggleActive(ctx context.Context, actor *Account, id uuid.UUID, source string) (AuthResult, error) {
	if res := s.Authorize(ctx, actor, source, RoleAdmin); !res.OK() {
		return res, nil
	}

	account, res, err := s.findTarget(ctx, id)
	if account == nil {
		return res, err
	}
	return s.SetActive(ctx, actor, id, !account.IsActive, source)
}

// Unlock clears the failure counter and lockout of an account
func (s *Service) Unlock(ctx context.Context, actor *Account, id uuid.UUID, source string) (AuthResult, error) {
	if res := s.Authorize(ctx, actor, source, RoleAdmin); !res.OK() {
		return res, nil
	}

	account, res, err := s.findTarget(ctx, id)
	if account == nil {
		return res, err
	}

	if account, err = s.clearLockout(ctx, account); err != nil {
		return AuthResult{}, err
	}

	s.emit(ctx, EventAccountUnlocked, account.Username, source, ReasonAdmin, map[string]any{
		"actor": actorName(actor),
	})
	return success(account), nil
}

// UpdateAccount changes profile fields. Accounts may update themselves,
// admins may update anyone.
func (s *Service) UpdateAccount(ctx context.Context, actor *Account, id uuid.UUID, update AccountUpdate, source string) (AuthResult, error) {
	if actor == nil {
		return failed(OutcomeInvalidToken), nil
	}
	if actor.ID != id {
		if res := s.Authorize(ctx, actor, source, RoleAdmin); !res.OK() {
			return res, nil
		}
	}

	account, res, err := s.findTarget(ctx, id)
	if account == nil {
		return res, err
	}

	if update.Empty() {
		return success(account), nil
	}

	if err := account.ApplyUpdate(update); err != nil {
		return invalidInput(err), nil
	}

	if err := s.store.Save(ctx, account); err != nil {
		if isConflict(err) {
			return failed(OutcomeConflict), nil
		}
		return AuthResult{}, err
	}

	fields := make([]string, 0, 2)
	if update.Email != nil {
		fields = append(fields, "email")
	}
	if update.FullName != nil {
		fields = append(fields, "full_name")
	}
	s.emit(ctx, EventAccountUpdated, account.Username, source, "", map[string]any{
		"actor":  actorName(actor),
		"fields": fields,
	})
	return success(account), nil
}

// EnsureAdmin creates the first admin account when username is not taken.
// The account must change its password on first login.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (AuthResult, error) {
	existing, err := s.store.FindByUsername(ctx, username)
	if err == nil {
		return success(existing), nil
	}
	if !IsAccountNotFound(err) {
		return AuthResult{}, err
	}

	res, err := s.CreateAccount(ctx, nil, NewAccount{
		Username: username,
		Email:    email,
		FullName: "System Administrator",
		Password: password,
		Role:     RoleAdmin,
	}, "bootstrap")
	if err != nil || !res.OK() {
		return res, err
	}

	account := res.Account
	account.MustChangePassword = true
	if err := s.store.Save(ctx, account); err != nil {
		return AuthResult{}, err
	}
	s.logger.Info("bootstrap admin account created", "username", account.Username)
	return success(account), nil
}

func (s *Service) findTarget(ctx context.Context, id uuid.UUID) (*Account, AuthResult, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		if IsAccountNotFound(err) {
			return nil, failed(OutcomeNotFound), nil
		}
		return nil, AuthResult{}, err
	}
	return account, AuthResult{}, nil
}

func (s *Service) clearLockout(ctx context.Context, account *Account) (*Account, error) {
	if err := s.store.ResetLockout(ctx, account.ID); err != nil {
		return nil, err
	}
	account.FailedLoginAttempts = 0
	account.LockoutUntil = nil
	return account, nil
}

func isConflict(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeAccountConflict
	}
	return false
}

func actorName(actor *Account) string {
	if actor == nil {
		return "system"
	}
	return actor.Username
}
