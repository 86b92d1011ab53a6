package auth_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTrackerCheck(t *testing.T) {
	tracker := auth.NewSessionTracker(60 * time.Minute)
	last := baseTime

	tests := []struct {
		name  string
		last  *time.Time
		now   time.Time
		alive bool
	}{
		{name: "no activity", last: nil, now: baseTime, alive: false},
		{name: "fresh", last: &last, now: baseTime.Add(time.Minute), alive: true},
		{name: "exactly at timeout", last: &last, now: baseTime.Add(60 * time.Minute), alive: true},
		{name: "past timeout", last: &last, now: baseTime.Add(60*time.Minute + time.Second), alive: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.alive, tracker.Check(tt.last, tt.now))
		})
	}
}

func TestSessionTrackerTouch(t *testing.T) {
	tracker := auth.NewSessionTracker(10 * time.Minute)

	touched := tracker.Touch(baseTime)
	require.NotNil(t, touched)
	assert.Equal(t, baseTime, *touched)
	assert.Equal(t, baseTime.Add(10*time.Minute), tracker.ExpiresAt(touched))
	assert.True(t, tracker.ExpiresAt(nil).IsZero())
}

func TestNewSessionTrackerDefault(t *testing.T) {
	tracker := auth.NewSessionTracker(0)
	assert.Equal(t, time.Duration(auth.DefaultSessionTimeout)*time.Minute, tracker.Timeout())
}
