package auth

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Outcome tags the result of an auth operation
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeInvalidCredential
	OutcomeAccountLocked
	OutcomeAccountDisabled
	OutcomeInvalidToken
	OutcomeSessionExpired
	OutcomeWeakPassword
	OutcomeAccessDenied
	OutcomeConflict
	OutcomeNotFound
	OutcomeInvalidInput
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:           "success",
	OutcomeInvalidCredential: "invalid_credential",
	OutcomeAccountLocked:     "account_locked",
	OutcomeAccountDisabled:   "account_disabled",
	OutcomeInvalidToken:      "invalid_token",
	OutcomeSessionExpired:    "session_expired",
	OutcomeWeakPassword:      "weak_password",
	OutcomeAccessDenied:      "access_denied",
	OutcomeConflict:          "conflict",
	OutcomeNotFound:          "not_found",
	OutcomeInvalidInput:      "invalid_input",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// AuthResult is what every Service operation returns. Only the fields that
// make sense for the outcome are set.
type AuthResult struct {
	Outcome     Outcome
	Account     *Account
	Tokens      *TokenPair
	AccessToken *IssuedToken
	LockedUntil *time.Time
	Violation   *PolicyViolation
	// Fields maps rejected input fields to their message
	Fields map[string]string
}

// OK reports a successful outcome
func (r AuthResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Err maps the outcome to its sentinel error, nil on success
func (r AuthResult) Err() error {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeInvalidCredential:
		return ErrInvalidCredential
	case OutcomeAccountLocked:
		return ErrAccountLocked
	case OutcomeAccountDisabled:
		return ErrAccountDisabled
	case OutcomeInvalidToken:
		return ErrInvalidToken
	case OutcomeSessionExpired:
		return ErrSessionExpired
	case OutcomeWeakPassword:
		return ErrWeakPassword
	case OutcomeAccessDenied:
		return ErrAccessDenied
	case OutcomeConflict:
		return ErrAccountConflict
	case OutcomeNotFound:
		return ErrAccountNotFound
	case OutcomeInvalidInput:
		return ErrInvalidInput
	}
	return ErrInvalidCredential
}

func success(account *Account) AuthResult {
	return AuthResult{Outcome: OutcomeSuccess, Account: account}
}

func failed(outcome Outcome) AuthResult {
	return AuthResult{Outcome: outcome}
}

// invalidInput turns a validation failure into a tagged result
func invalidInput(err error) AuthResult {
	fields := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
	} else if err != nil {
		fields["input"] = err.Error()
	}
	return AuthResult{Outcome: OutcomeInvalidInput, Fields: fields}
}

func rejectField(field, message string) AuthResult {
	return AuthResult{Outcome: OutcomeInvalidInput, Fields: map[string]string{field: message}}
}
