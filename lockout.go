package auth

import "time"

// LockState is the brute force state of an account. Disabled is tracked
// separately on Account.IsActive.
type LockState string

const (
	LockStateActive LockState = "active"
	LockStateLocked LockState = "locked"
)

// LockoutPolicy decides when repeated failures lock an account
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// NewLockoutPolicy builds a policy, non positive values use the defaults
func NewLockoutPolicy(maxAttempts int, duration time.Duration) LockoutPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return LockoutPolicy{MaxAttempts: maxAttempts, Duration: duration}
}

// State returns LOCKED while the lockout window is open. An account whose
// window has passed is reported ACTIVE, see Expired.
func (p LockoutPolicy) State(account *Account, now time.Time) LockState {
	if account == nil || account.LockoutUntil == nil {
		return LockStateActive
	}
	if now.Before(*account.LockoutUntil) {
		return LockStateLocked
	}
	return LockStateActive
}

// Expired reports an account still carrying a lockout whose window passed.
// Such accounts must be reset before the password is checked.
func (p LockoutPolicy) Expired(account *Account, now time.Time) bool {
	if account == nil || account.LockoutUntil == nil {
		return false
	}
	return !now.Before(*account.LockoutUntil)
}

// ApplyFailure returns the counter after one more failure and the lockout
// deadline when that failure reaches the threshold.
func (p LockoutPolicy) ApplyFailure(attempts int, now time.Time) (int, *time.Time) {
	attempts++
	if attempts >= p.maxAttempts() {
		until := now.Add(p.duration())
		return attempts, &until
	}
	return attempts, nil
}

func (p LockoutPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxLoginAttempts
	}
	return p.MaxAttempts
}

func (p LockoutPolicy) duration() time.Duration {
	if p.Duration <= 0 {
		return DefaultLockoutDuration
	}
	return p.Duration
}
