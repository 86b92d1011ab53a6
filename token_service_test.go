package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-patient-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(cfg auth.Config, clock *fakeClock) *auth.TokenService {
	return auth.NewTokenService(cfg, auth.WithTokenClock(clock.Now))
}

func TestTokenServiceAccessTokenExpires(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokenService(testConfig(), clock)

	token, err := ts.Issue("bob", auth.TokenClassAccess, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(30*time.Minute), token.ExpiresAt)

	claims, err := ts.Verify(token.Value, auth.TokenClassAccess)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Username())
	assert.Equal(t, auth.TokenClassAccess, claims.Class)
	assert.True(t, baseTime.Equal(claims.IssuedAtTime()))
	assert.NotEmpty(t, claims.TokenID())

	clock.Advance(31 * time.Minute)

	_, err = ts.Verify(token.Value, auth.TokenClassAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenServiceRejectsClassMismatch(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokenService(testConfig(), clock)

	refresh, err := ts.Issue("bob", auth.TokenClassRefresh, 0)
	require.NoError(t, err)
	access, err := ts.Issue("bob", auth.TokenClassAccess, 0)
	require.NoError(t, err)

	_, err = ts.Verify(refresh.Value, auth.TokenClassAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = ts.Verify(access.Value, auth.TokenClassRefresh)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = ts.Verify(refresh.Value, auth.TokenClassRefresh)
	assert.NoError(t, err)
}

func TestTokenServiceDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokenService(testConfig(), clock)

	access, err := ts.Issue("bob", auth.TokenClassAccess, 0)
	require.NoError(t, err)
	refresh, err := ts.Issue("bob", auth.TokenClassRefresh, -time.Minute)
	require.NoError(t, err)

	assert.Equal(t, baseTime.Add(auth.DefaultAccessTokenTTL), access.ExpiresAt)
	assert.Equal(t, baseTime.Add(auth.DefaultRefreshTokenTTL), refresh.ExpiresAt)
	assert.Equal(t, auth.DefaultAccessTokenTTL, ts.TTL(auth.TokenClassAccess))
	assert.Equal(t, auth.DefaultRefreshTokenTTL, ts.TTL(auth.TokenClassRefresh))
}

func TestTokenServiceUniqueTokenIDs(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokenService(testConfig(), clock)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		token, err := ts.Issue("bob", auth.TokenClassAccess, 0)
		require.NoError(t, err)
		claims, err := ts.Verify(token.Value, auth.TokenClassAccess)
		require.NoError(t, err)
		require.False(t, seen[claims.TokenID()], "duplicate jti")
		seen[claims.TokenID()] = true
	}
}

func TestTokenServiceRejectsTampering(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	ts := newTestTokenService(cfg, clock)

	token, err := ts.Issue("bob", auth.TokenClassAccess, 0)
	require.NoError(t, err)

	otherCfg := cfg
	otherCfg.SigningKey = "another-signing-key-0123456789abcdef"
	other := newTestTokenService(otherCfg, clock)

	otherIssuerCfg := cfg
	otherIssuerCfg.Issuer = "someone-else"
	otherIssuer := newTestTokenService(otherIssuerCfg, clock)

	audienceCfg := cfg
	audienceCfg.Audience = []string{"portal-api"}
	withAudience := newTestTokenService(audienceCfg, clock)

	sign := func(method jwt.SigningMethod, claims *auth.TokenClaims) string {
		signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(cfg.SigningKey))
		require.NoError(t, err)
		return signed
	}
	claimsFor := func(subject, id string) *auth.TokenClaims {
		return &auth.TokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    cfg.Issuer,
				Subject:   subject,
				ID:        id,
				IssuedAt:  jwt.NewNumericDate(baseTime),
				ExpiresAt: jwt.NewNumericDate(baseTime.Add(time.Hour)),
			},
			Class: auth.TokenClassAccess,
		}
	}

	tests := []struct {
		name  string
		ts    *auth.TokenService
		token string
	}{
		{name: "wrong key", ts: other, token: token.Value},
		{name: "wrong issuer", ts: otherIssuer, token: token.Value},
		{name: "missing audience", ts: withAudience, token: token.Value},
		{name: "garbage", ts: ts, token: "not.a.token"},
		{name: "empty", ts: ts, token: ""},
		{name: "truncated signature", ts: ts, token: token.Value[:len(token.Value)-4]},
		{name: "unexpected algorithm", ts: ts, token: sign(jwt.SigningMethodHS512, claimsFor("bob", uuid.NewString()))},
		{name: "missing jti", ts: ts, token: sign(jwt.SigningMethodHS256, claimsFor("bob", ""))},
		{name: "missing subject", ts: ts, token: sign(jwt.SigningMethodHS256, claimsFor("", uuid.NewString()))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.ts.Verify(tt.token, auth.TokenClassAccess)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}

	t.Run("unsigned", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claimsFor("bob", uuid.NewString())).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = ts.Verify(unsigned, auth.TokenClassAccess)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestTokenServiceAudience(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Audience = []string{"portal-api", "portal-web"}
	ts := newTestTokenService(cfg, clock)

	token, err := ts.Issue("bob", auth.TokenClassAccess, 0)
	require.NoError(t, err)

	claims, err := ts.Verify(token.Value, auth.TokenClassAccess)
	require.NoError(t, err)
	assert.Equal(t, jwt.ClaimStrings{"portal-api", "portal-web"}, claims.Audience)
	assert.Equal(t, "patient-portal", claims.Issuer)
}

func TestTokenServiceIssuePair(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokenService(testConfig(), clock)

	pair, err := ts.IssuePair(&auth.Account{Username: "carol", Role: auth.RoleAdmin})
	require.NoError(t, err)

	access, err := ts.Verify(pair.Access.Value, auth.TokenClassAccess)
	require.NoError(t, err)
	refresh, err := ts.Verify(pair.Refresh.Value, auth.TokenClassRefresh)
	require.NoError(t, err)

	assert.Equal(t, "carol", access.Username())
	assert.Equal(t, auth.RoleAdmin, access.Role)
	assert.NotEqual(t, access.TokenID(), refresh.TokenID())
	assert.True(t, pair.Refresh.ExpiresAt.After(pair.Access.ExpiresAt))

	_, err = ts.IssuePair(nil)
	assert.Error(t, err)
}

func TestTokenServiceIssueValidation(t *testing.T) {
	ts := newTestTokenService(testConfig(), newFakeClock())

	_, err := ts.Issue("  ", auth.TokenClassAccess, 0)
	assert.Error(t, err)

	_, err = ts.Issue("bob", auth.TokenClass("id"), 0)
	assert.Error(t, err)
}
