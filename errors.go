package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredential = "AUTH_INVALID_CREDENTIAL"
	TextCodeAccountLocked     = "AUTH_ACCOUNT_LOCKED"
	TextCodeAccountDisabled   = "AUTH_ACCOUNT_DISABLED"
	TextCodeInvalidToken      = "AUTH_INVALID_TOKEN"
	TextCodeSessionExpired    = "AUTH_SESSION_EXPIRED"
	TextCodeWeakPassword      = "AUTH_WEAK_PASSWORD"
	TextCodeAccessDenied      = "AUTH_ACCESS_DENIED"
	TextCodeAccountConflict   = "AUTH_ACCOUNT_CONFLICT"
	TextCodeAccountNotFound   = "AUTH_ACCOUNT_NOT_FOUND"
	TextCodeInvalidInput      = "AUTH_INVALID_INPUT"
	TextCodeEmptyPassword     = "AUTH_EMPTY_PASSWORD"
)

// ErrInvalidCredential covers unknown identifiers and wrong passwords alike
var ErrInvalidCredential = goerrors.New("incorrect username or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredential).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountLocked is returned while a brute force lockout is in effect
var ErrAccountLocked = goerrors.New("account is temporarily locked", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(http.StatusLocked)

// ErrAccountDisabled is returned for administratively disabled accounts
var ErrAccountDisabled = goerrors.New("account is disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidToken is the single failure for every token verification problem
var ErrInvalidToken = goerrors.New("could not validate credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionExpired is returned when the idle timeout elapsed
var ErrSessionExpired = goerrors.New("session expired due to inactivity", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrWeakPassword is returned when a password fails the policy
var ErrWeakPassword = goerrors.New("password does not meet the password policy", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrAccessDenied is returned when the role does not allow the operation
var ErrAccessDenied = goerrors.New("not enough permissions", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccessDenied).
	WithCode(goerrors.CodeForbidden)

// ErrAccountConflict is returned when username or email are taken
var ErrAccountConflict = goerrors.New("username or email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeAccountConflict).
	WithCode(goerrors.CodeConflict)

// ErrAccountNotFound is returned by stores when no account matches
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidInput is returned when account input fails validation
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can not be an empty string", goerrors.CategoryBadInput).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

func internalError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
