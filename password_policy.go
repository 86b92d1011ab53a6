package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// PasswordSymbols is the punctuation set accepted by the symbol rule
const PasswordSymbols = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// bcrypt ignores everything past 72 bytes
const maxPasswordBytes = 72

const (
	RuleLength    = "length"
	RuleMaxLength = "max_length"
	RuleUppercase = "uppercase"
	RuleLowercase = "lowercase"
	RuleDigit     = "digit"
	RuleSymbol    = "symbol"
	RuleReuse     = "reuse"
)

// PolicyViolation names the first rule a password failed
type PolicyViolation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v *PolicyViolation) Error() string {
	return v.Message
}

// PasswordPolicy holds the complexity rules applied to new passwords. It is
// not applied to existing digests.
type PasswordPolicy struct {
	MinLength int
}

// NewPasswordPolicy returns a policy with the given minimum length
func NewPasswordPolicy(minLength int) PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLen
	}
	return PasswordPolicy{MinLength: minLength}
}

// Validate returns nil when plaintext satisfies every rule
func (p PasswordPolicy) Validate(plaintext string) *PolicyViolation {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = DefaultMinPasswordLen
	}

	if len([]rune(plaintext)) < minLength {
		return &PolicyViolation{
			Rule:    RuleLength,
			Message: fmt.Sprintf("password must be at least %d characters long", minLength),
		}
	}

	if len(plaintext) > maxPasswordBytes {
		return &PolicyViolation{
			Rule:    RuleMaxLength,
			Message: fmt.Sprintf("password must be at most %d bytes long", maxPasswordBytes),
		}
	}

	var upper, lower, digit, symbol bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return &PolicyViolation{Rule: RuleUppercase, Message: "password must contain at least one uppercase letter"}
	case !lower:
		return &PolicyViolation{Rule: RuleLowercase, Message: "password must contain at least one lowercase letter"}
	case !digit:
		return &PolicyViolation{Rule: RuleDigit, Message: "password must contain at least one digit"}
	case !symbol:
		return &PolicyViolation{Rule: RuleSymbol, Message: "password must contain at least one special character"}
	}

	return nil
}
