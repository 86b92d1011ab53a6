package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// IssuedToken is a signed token plus its expiry
type IssuedToken struct {
	Value     string     `json:"token"`
	Class     TokenClass `json:"token_type"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// TokenPair is handed out on login
type TokenPair struct {
	Access  IssuedToken `json:"access"`
	Refresh IssuedToken `json:"refresh"`
}

// TokenService mints and verifies HS256 tokens
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     Logger
}

// TokenServiceOption configures a TokenService
type TokenServiceOption func(*TokenService)

// WithTokenClock overrides the clock used for iat, exp and validation
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		ts.logger = normalizeLogger(logger)
	}
}

// NewTokenService creates a token service from the auth configuration
func NewTokenService(cfg Config, opts ...TokenServiceOption) *TokenService {
	ts := &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        time.Now,
		logger:     defLogger{},
	}
	if len(cfg.Audience) > 0 {
		ts.audience = append(jwt.ClaimStrings{}, cfg.Audience...)
	}
	if ts.accessTTL <= 0 {
		ts.accessTTL = DefaultAccessTokenTTL
	}
	if ts.refreshTTL <= 0 {
		ts.refreshTTL = DefaultRefreshTokenTTL
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// TTL returns the default lifetime of a token class
func (ts *TokenService) TTL(class TokenClass) time.Duration {
	if class == TokenClassRefresh {
		return ts.refreshTTL
	}
	return ts.accessTTL
}

// Issue signs a token for subject. A non positive ttl uses the class default.
func (ts *TokenService) Issue(subject string, class TokenClass, ttl time.Duration) (IssuedToken, error) {
	return ts.issue(subject, "", 0, class, ttl)
}

// IssuePair mints an access and a refresh token for the account
func (ts *TokenService) IssuePair(account *Account) (TokenPair, error) {
	if account == nil {
		return TokenPair{}, goerrors.New("account is required", goerrors.CategoryBadInput)
	}
	access, err := ts.issue(account.Username, account.Role, account.SessionVersion, TokenClassAccess, 0)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := ts.issue(account.Username, account.Role, account.SessionVersion, TokenClassRefresh, 0)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (ts *TokenService) issue(subject, role string, session int, class TokenClass, ttl time.Duration) (IssuedToken, error) {
	if strings.TrimSpace(subject) == "" {
		return IssuedToken{}, goerrors.New("token subject is required", goerrors.CategoryBadInput)
	}
	if !class.Valid() {
		return IssuedToken{}, goerrors.New("unknown token class", goerrors.CategoryBadInput)
	}
	if ttl <= 0 {
		ttl = ts.TTL(class)
	}

	now := ts.now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   subject,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Class:   class,
		Role:    role,
		Session: session,
	}
	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return IssuedToken{}, internalError(err, "failed to sign JWT")
	}

	return IssuedToken{Value: signed, Class: class, ExpiresAt: claims.Expires()}, nil
}

// Verify checks signature, algorithm, expiry, issuer, audience and class.
// Every failure is reported as ErrInvalidToken.
func (ts *TokenService) Verify(tokenString string, expected TokenClass) (*TokenClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)
	if err != nil {
		ts.logger.Debug("token rejected", "error", err)
		return nil, ErrInvalidToken
	}

	switch {
	case !token.Valid:
		ts.logger.Debug("token rejected", "error", "invalid")
	case claims.Subject == "":
		ts.logger.Debug("token rejected", "error", "missing subject")
	case claims.ID == "":
		ts.logger.Debug("token rejected", "error", "missing jti")
	case claims.Class != expected:
		ts.logger.Debug("token rejected", "error", "class mismatch", "class", claims.Class, "expected", expected)
	default:
		return claims, nil
	}
	return nil, ErrInvalidToken
}
