package auth_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutPolicyApplyFailure(t *testing.T) {
	policy := auth.NewLockoutPolicy(3, 15*time.Minute)

	attempts, until := policy.ApplyFailure(0, baseTime)
	assert.Equal(t, 1, attempts)
	assert.Nil(t, until)

	attempts, until = policy.ApplyFailure(attempts, baseTime)
	assert.Equal(t, 2, attempts)
	assert.Nil(t, until)

	attempts, until = policy.ApplyFailure(attempts, baseTime)
	assert.Equal(t, 3, attempts)
	require.NotNil(t, until)
	assert.Equal(t, baseTime.Add(15*time.Minute), *until)
}

func TestLockoutPolicyState(t *testing.T) {
	policy := auth.NewLockoutPolicy(3, 15*time.Minute)
	until := baseTime.Add(15 * time.Minute)

	tests := []struct {
		name    string
		account *auth.Account
		now     time.Time
		state   auth.LockState
		expired bool
	}{
		{name: "nil account", account: nil, now: baseTime, state: auth.LockStateActive},
		{name: "never locked", account: &auth.Account{}, now: baseTime, state: auth.LockStateActive},
		{name: "inside window", account: &auth.Account{LockoutUntil: &until}, now: baseTime.Add(14 * time.Minute), state: auth.LockStateLocked},
		{name: "at deadline", account: &auth.Account{LockoutUntil: &until}, now: until, state: auth.LockStateActive, expired: true},
		{name: "after deadline", account: &auth.Account{LockoutUntil: &until}, now: baseTime.Add(16 * time.Minute), state: auth.LockStateActive, expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.state, policy.State(tt.account, tt.now))
			assert.Equal(t, tt.expired, policy.Expired(tt.account, tt.now))
		})
	}
}

func TestNewLockoutPolicyDefaults(t *testing.T) {
	policy := auth.NewLockoutPolicy(0, 0)
	assert.Equal(t, auth.DefaultMaxLoginAttempts, policy.MaxAttempts)
	assert.Equal(t, auth.DefaultLockoutDuration, policy.Duration)

	var zero auth.LockoutPolicy
	attempts, until := zero.ApplyFailure(2, baseTime)
	assert.Equal(t, 3, attempts)
	require.NotNil(t, until)
	assert.Equal(t, baseTime.Add(auth.DefaultLockoutDuration), *until)
}
