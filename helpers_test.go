package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/stretchr/testify/require"
)

const (
	testSigningKey = "test-signing-key-0123456789abcdef0123"
	strongPassword = "Str0ng!Passw0rd"
	otherPassword  = "An0ther$ecretPw"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.AuditEvent
}

func (s *capturingSink) Record(_ context.Context, event auth.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) Events() []auth.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.AuditEvent(nil), s.events...)
}

func (s *capturingSink) OfType(eventType auth.AuditEventType) []auth.AuditEvent {
	var out []auth.AuditEvent
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *capturingSink) Last() auth.AuditEvent {
	events := s.Events()
	if len(events) == 0 {
		return auth.AuditEvent{}
	}
	return events[len(events)-1]
}

// countingHasher records how often a password comparison ran
type countingHasher struct {
	auth.PasswordHasher
	verifies atomic.Int32
}

func (h *countingHasher) Verify(plaintext, digest string) bool {
	h.verifies.Add(1)
	return h.PasswordHasher.Verify(plaintext, digest)
}

func testConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.SigningKey = testSigningKey
	cfg.Issuer = "patient-portal"
	cfg.BcryptCost = 4
	return cfg
}

type testEnv struct {
	service *auth.Service
	store   auth.AccountStore
	clock   *fakeClock
	sink    *capturingSink
	hasher  *countingHasher
}

func newTestEnv(t *testing.T, cfg auth.Config, store auth.AccountStore) *testEnv {
	t.Helper()
	if store == nil {
		store = auth.NewMemoryStore()
	}
	clock := newFakeClock()
	if ms, ok := store.(*auth.MemoryStore); ok {
		ms.WithClock(clock.Now)
	}
	if bs, ok := store.(*auth.BunStore); ok {
		bs.WithClock(clock.Now)
	}

	sink := &capturingSink{}
	hasher := &countingHasher{PasswordHasher: auth.NewBcryptHasher(cfg.BcryptCost)}
	service := auth.NewService(store, cfg).
		WithClock(clock.Now).
		WithAuditSink(sink).
		WithHasher(hasher)

	return &testEnv{
		service: service,
		store:   store,
		clock:   clock,
		sink:    sink,
		hasher:  hasher,
	}
}

func (e *testEnv) seed(t *testing.T, username, role string) *auth.Account {
	t.Helper()
	res, err := e.service.CreateAccount(context.Background(), nil, auth.NewAccount{
		Username: username,
		Email:    username + "@clinic.test",
		FullName: "Test " + username,
		Password: strongPassword,
		Role:     role,
	}, "127.0.0.1")
	require.NoError(t, err)
	require.True(t, res.OK(), "seed %s: %s", username, res.Outcome)
	return res.Account
}

func (e *testEnv) reload(t *testing.T, username string) *auth.Account {
	t.Helper()
	account, err := e.store.FindByUsername(context.Background(), username)
	require.NoError(t, err)
	return account
}
