package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type rehasher interface {
	NeedsRehash(digest string) bool
}

// Service is the authentication service. It owns the login flow, token
// resolution, session idle checks and the audit trail around them.
type Service struct {
	store       AccountStore
	hasher      PasswordHasher
	policy      PasswordPolicy
	lockout     LockoutPolicy
	sessions    SessionTracker
	tokens      *TokenService
	sink        AuditSink
	logger      Logger
	now         func() time.Time
	auditAccess bool

	dummyOnce sync.Once
	dummy     string
}

// NewService builds the service from configuration. The token service and
// hasher are derived from cfg unless replaced with the With methods.
func NewService(store AccountStore, cfg Config) *Service {
	s := &Service{
		store:       store,
		hasher:      NewBcryptHasher(cfg.BcryptCost),
		policy:      NewPasswordPolicy(cfg.MinPasswordLength),
		lockout:     NewLockoutPolicy(cfg.MaxLoginAttempts, cfg.LockoutDuration),
		sessions:    NewSessionTracker(cfg.SessionTimeout()),
		sink:        noopAuditSink{},
		logger:      defLogger{},
		now:         time.Now,
		auditAccess: cfg.AuditAccess,
	}
	s.tokens = NewTokenService(cfg, WithTokenClock(s.clock), WithTokenLogger(s.logger))
	return s
}

// WithLogger sets the logger, the token service logs through it as well
func (s *Service) WithLogger(logger Logger) *Service {
	s.logger = normalizeLogger(logger)
	s.tokens.logger = s.logger
	return s
}

// WithAuditSink configures where audit events go
func (s *Service) WithAuditSink(sink AuditSink) *Service {
	s.sink = normalizeAuditSink(sink)
	return s
}

// WithHasher replaces the bcrypt hasher
func (s *Service) WithHasher(hasher PasswordHasher) *Service {
	if hasher != nil {
		s.hasher = hasher
		s.dummyOnce = sync.Once{}
	}
	return s
}

// WithClock injects the clock used for lockout, sessions and tokens
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// TokenService returns the token codec used by the service
func (s *Service) TokenService() *TokenService {
	return s.tokens
}

// PasswordPolicy returns the policy enforced on new passwords
func (s *Service) PasswordPolicy() PasswordPolicy {
	return s.policy
}

// SessionTracker returns the idle timeout tracker
func (s *Service) SessionTracker() SessionTracker {
	return s.sessions
}

func (s *Service) clock() time.Time {
	return s.now()
}

// Login verifies identifier and password. The identifier is tried as a
// username first and then as an email.
func (s *Service) Login(ctx context.Context, identifier, password, source string) (AuthResult, error) {
	now := s.now()

	account, err := FindByIdentifier(ctx, s.store, identifier)
	if err != nil {
		if !IsAccountNotFound(err) {
			return AuthResult{}, err
		}
		// keep timing close to the known account path
		s.hasher.Verify(password, s.dummyDigest())
		s.emit(ctx, EventLoginFailure, identifier, source, ReasonNotFound, nil)
		return failed(OutcomeInvalidCredential), nil
	}

	if s.lockout.State(account, now) == LockStateLocked {
		s.emit(ctx, EventLoginFailure, account.Username, source, ReasonLocked, map[string]any{
			"locked_until": account.LockoutUntil.UTC(),
		})
		return AuthResult{Outcome: OutcomeAccountLocked, LockedUntil: cloneTime(account.LockoutUntil)}, nil
	}

	if s.lockout.Expired(account, now) {
		if account, err = s.expireLockout(ctx, account, source); err != nil {
			return AuthResult{}, err
		}
		if s.lockout.State(account, now) == LockStateLocked {
			s.emit(ctx, EventLoginFailure, account.Username, source, ReasonLocked, nil)
			return AuthResult{Outcome: OutcomeAccountLocked, LockedUntil: cloneTime(account.LockoutUntil)}, nil
		}
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		return s.recordFailure(ctx, account, source, now)
	}

	if !account.IsActive {
		s.emit(ctx, EventLoginFailure, account.Username, source, ReasonDisabled, nil)
		return failed(OutcomeAccountDisabled), nil
	}

	if err := s.store.RecordSuccessfulLogin(ctx, account.ID, now, source); err != nil {
		if errors.Is(err, ErrAccountLocked) {
			return s.lockedResult(ctx, account, source)
		}
		return AuthResult{}, err
	}
	account.FailedLoginAttempts = 0
	account.LastLogin = cloneTime(&now)
	account.LastActivity = cloneTime(&now)
	account.LastLoginIP = source

	s.maybeRehash(ctx, account, password)

	pair, err := s.tokens.IssuePair(account)
	if err != nil {
		return AuthResult{}, err
	}

	s.emit(ctx, EventLoginSuccess, account.Username, source, "", nil)

	result := success(account)
	result.Tokens = &pair
	return result, nil
}

func (s *Service) recordFailure(ctx context.Context, account *Account, source string, now time.Time) (AuthResult, error) {
	updated, err := s.store.RecordFailedLogin(ctx, account.ID, s.lockout, now)
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			return s.lockedResult(ctx, account, source)
		}
		return AuthResult{}, err
	}

	s.emit(ctx, EventLoginFailure, account.Username, source, ReasonBadCredential, map[string]any{
		"failed_attempts": updated.FailedLoginAttempts,
	})

	if updated.LockoutUntil != nil {
		s.logger.Warn("account locked after failed logins", "username", account.Username, "attempts", updated.FailedLoginAttempts)
		s.emit(ctx, EventAccountLocked, account.Username, source, "", map[string]any{
			"failed_attempts": updated.FailedLoginAttempts,
			"locked_until":    updated.LockoutUntil.UTC(),
		})
		return AuthResult{Outcome: OutcomeAccountLocked, LockedUntil: cloneTime(updated.LockoutUntil)}, nil
	}

	return failed(OutcomeInvalidCredential), nil
}

// lockedResult handles an account that was locked by a concurrent request
func (s *Service) lockedResult(ctx context.Context, account *Account, source string) (AuthResult, error) {
	current, err := s.store.FindByID(ctx, account.ID)
	if err != nil {
		return AuthResult{}, err
	}
	s.emit(ctx, EventLoginFailure, account.Username, source, ReasonLocked, nil)
	return AuthResult{Outcome: OutcomeAccountLocked, LockedUntil: cloneTime(current.LockoutUntil)}, nil
}

// expireLockout clears a lockout whose window has passed. When the clear
// loses a race the fresh row is returned so the caller sees the new lock.
func (s *Service) expireLockout(ctx context.Context, account *Account, source string) (*Account, error) {
	cleared, err := s.store.ClearLockout(ctx, account.ID, account.LockVersion)
	if err != nil {
		return nil, err
	}
	if !cleared {
		return s.store.FindByID(ctx, account.ID)
	}

	s.emit(ctx, EventAccountUnlocked, account.Username, source, ReasonLockExpired, nil)
	account.FailedLoginAttempts = 0
	account.LockoutUntil = nil
	return account, nil
}

func (s *Service) maybeRehash(ctx context.Context, account *Account, password string) {
	r, ok := s.hasher.(rehasher)
	if !ok || !r.NeedsRehash(account.PasswordHash) {
		return
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("password rehash failed", "username", account.Username, "error", err)
		return
	}
	account.PasswordHash = digest
	if err := s.store.Save(ctx, account); err != nil {
		s.logger.Warn("password rehash save failed", "username", account.Username, "error", err)
	}
}

// ResolveCurrentUser maps an access token to its account. The session idle
// timeout is enforced and activity is advanced on success.
func (s *Service) ResolveCurrentUser(ctx context.Context, token, source string) (AuthResult, error) {
	now := s.now()

	claims, err := s.tokens.Verify(token, TokenClassAccess)
	if err != nil {
		s.emit(ctx, EventUnauthorizedAccess, "", source, ReasonInvalidToken, nil)
		return failed(OutcomeInvalidToken), nil
	}

	account, res, err := s.loadSession(ctx, claims, source, now)
	if err != nil || account == nil {
		return res, err
	}

	if s.auditAccess {
		s.emit(ctx, EventAccessGranted, account.Username, source, "", nil)
	}
	return success(account), nil
}

// Refresh exchanges a refresh token for a new access token. The account
// must still be active and its session must not have idled out.
func (s *Service) Refresh(ctx context.Context, refreshToken, source string) (AuthResult, error) {
	now := s.now()

	claims, err := s.tokens.Verify(refreshToken, TokenClassRefresh)
	if err != nil {
		s.emit(ctx, EventUnauthorizedAccess, "", source, ReasonInvalidToken, map[string]any{
			"token_class": TokenClassRefresh,
		})
		return failed(OutcomeInvalidToken), nil
	}

	account, res, err := s.loadSession(ctx, claims, source, now)
	if err != nil || account == nil {
		return res, err
	}

	access, err := s.tokens.issue(account.Username, account.Role, account.SessionVersion, TokenClassAccess, 0)
	if err != nil {
		return AuthResult{}, err
	}

	s.emit(ctx, EventTokenRefreshed, account.Username, source, "", nil)

	result := success(account)
	result.AccessToken = &access
	return result, nil
}

// loadSession resolves the token subject and applies the disabled and idle
// checks. A nil account means res holds the failure.
func (s *Service) loadSession(ctx context.Context, claims *TokenClaims, source string, now time.Time) (*Account, AuthResult, error) {
	account, err := s.store.FindByUsername(ctx, claims.Username())
	if err != nil {
		if IsAccountNotFound(err) {
			s.emit(ctx, EventUnauthorizedAccess, claims.Username(), source, ReasonUnknownUser, nil)
			return nil, failed(OutcomeInvalidToken), nil
		}
		return nil, AuthResult{}, err
	}

	if !account.IsActive {
		s.emit(ctx, EventUnauthorizedAccess, account.Username, source, ReasonDisabled, nil)
		return nil, failed(OutcomeAccountDisabled), nil
	}

	if claims.Session != account.SessionVersion {
		s.emit(ctx, EventSessionExpired, account.Username, source, ReasonRevoked, map[string]any{
			"token_session": claims.Session,
		})
		return nil, failed(OutcomeSessionExpired), nil
	}

	if !s.sessions.Check(account.LastActivity, now) {
		detail := map[string]any{}
		if account.LastActivity != nil {
			detail["last_activity"] = account.LastActivity.UTC()
		}
		s.emit(ctx, EventSessionExpired, account.Username, source, ReasonExpired, detail)
		return nil, failed(OutcomeSessionExpired), nil
	}

	touched := s.sessions.Touch(now)
	if err := s.store.TouchActivity(ctx, account.ID, touched); err != nil {
		return nil, AuthResult{}, err
	}
	account.LastActivity = touched

	return account, AuthResult{}, nil
}

// ChangePassword replaces the password of account after checking the
// current one. A wrong current password does not count toward lockout.
func (s *Service) ChangePassword(ctx context.Context, account *Account, current, next, source string) (AuthResult, error) {
	if account == nil {
		return failed(OutcomeInvalidToken), nil
	}

	fresh, err := s.store.FindByID(ctx, account.ID)
	if err != nil {
		if IsAccountNotFound(err) {
			return failed(OutcomeInvalidToken), nil
		}
		return AuthResult{}, err
	}

	if !s.hasher.Verify(current, fresh.PasswordHash) {
		s.emit(ctx, EventPasswordChangeFailed, fresh.Username, source, ReasonWrongPassword, nil)
		return failed(OutcomeInvalidCredential), nil
	}

	violation := s.policy.Validate(next)
	if violation == nil && current == next {
		violation = &PolicyViolation{Rule: RuleReuse, Message: "new password must be different from the current one"}
	}
	if violation != nil {
		s.emit(ctx, EventPasswordChangeFailed, fresh.Username, source, ReasonWeakPassword, map[string]any{
			"rule": violation.Rule,
		})
		return AuthResult{Outcome: OutcomeWeakPassword, Violation: violation}, nil
	}

	if err := s.setPassword(ctx, fresh, next, false); err != nil {
		return AuthResult{}, err
	}

	s.emit(ctx, EventPasswordChanged, fresh.Username, source, "", nil)
	return success(fresh), nil
}

func (s *Service) setPassword(ctx context.Context, account *Account, plaintext string, mustChange bool) error {
	digest, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	now := s.now()
	account.PasswordHash = digest
	account.PasswordLastChanged = &now
	account.MustChangePassword = mustChange
	return s.store.Save(ctx, account)
}

// Logout ends every session of account. Tokens minted before the call stop
// resolving, including after a later login.
func (s *Service) Logout(ctx context.Context, account *Account, source string) (AuthResult, error) {
	if account == nil {
		return failed(OutcomeInvalidToken), nil
	}
	if err := s.store.RevokeSessions(ctx, account.ID); err != nil {
		if IsAccountNotFound(err) {
			return failed(OutcomeInvalidToken), nil
		}
		return AuthResult{}, err
	}
	account.SessionVersion++
	account.LastActivity = nil
	s.emit(ctx, EventLogout, account.Username, source, ReasonLogout, nil)
	return success(account), nil
}

// Authorize checks the account role against the allowed roles
func (s *Service) Authorize(ctx context.Context, account *Account, source string, roles ...Role) AuthResult {
	if account == nil {
		return failed(OutcomeInvalidToken)
	}
	for _, role := range roles {
		if account.Role == role {
			return success(account)
		}
	}
	s.emit(ctx, EventAccessDenied, account.Username, source, ReasonRole, map[string]any{
		"role":     account.Role,
		"required": strings.Join(roles, ","),
	})
	return failed(OutcomeAccessDenied)
}

func (s *Service) dummyDigest() string {
	s.dummyOnce.Do(func() {
		s.dummy = dummyDigest(s.hasher)
	})
	return s.dummy
}

func (s *Service) emit(ctx context.Context, eventType AuditEventType, subject, source, reason string, detail map[string]any) {
	sink := normalizeAuditSink(s.sink)
	event := AuditEvent{
		Type:          eventType,
		Subject:       subject,
		SourceAddress: source,
		Reason:        reason,
		Detail:        detail,
		OccurredAt:    s.now(),
	}

	if event.Detail == nil {
		event.Detail = map[string]any{}
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("audit sink record error", "event", eventType, "error", err)
	}
}
