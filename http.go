package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrMissingCredential is returned when no lookup source carried a token
var ErrMissingCredential = goerrors.New("missing or malformed bearer token", goerrors.CategoryAuth).
	WithTextCode("AUTH_MISSING_CREDENTIAL").
	WithCode(goerrors.CodeUnauthorized)

const defaultAuthScheme = "Bearer"

// credentialSource is the part of a request the extractors read
type credentialSource interface {
	GetString(key, def string) string
	Cookies(key string, def ...string) string
}

// TokenExtractor pulls a raw token out of a request
type TokenExtractor func(c credentialSource) (string, error)

// GetExtractors parses a lookup list such as
// "header:Authorization,cookie:session_token". Extractors run in list order.
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	authScheme := defaultAuthScheme
	if len(authSchemes) > 0 && strings.TrimSpace(authSchemes[0]) != "" {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	entries, err := parseTokenLookup(tokenLookup)
	if err != nil {
		entries, _ = parseTokenLookup(DefaultTokenLookup)
	}

	extractors := make([]TokenExtractor, 0, len(entries))
	for _, entry := range entries {
		switch entry[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(entry[1], authScheme))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(entry[1]))
		}
	}
	return extractors
}

// ExtractToken returns the first token found by the extractors
func ExtractToken(c credentialSource, extractors []TokenExtractor) (string, error) {
	for _, extractor := range extractors {
		raw, err := extractor(c)
		if raw != "" && err == nil {
			return raw, nil
		}
	}
	return "", ErrMissingCredential
}

// tokenFromHeader reads "<scheme> <token>" from the named header
func tokenFromHeader(header, authScheme string) TokenExtractor {
	return func(c credentialSource) (string, error) {
		value := strings.TrimSpace(c.GetString(header, ""))
		l := len(authScheme)
		if len(value) > l+1 && strings.EqualFold(value[:l], authScheme) && value[l] == ' ' {
			if token := strings.TrimSpace(value[l:]); token != "" {
				return token, nil
			}
		}
		return "", ErrMissingCredential
	}
}

// tokenFromCookie reads the named cookie, an optional scheme prefix is
// stripped
func tokenFromCookie(name string) TokenExtractor {
	return func(c credentialSource) (string, error) {
		token := strings.TrimSpace(c.Cookies(name))
		if len(token) > len(defaultAuthScheme)+1 && strings.EqualFold(token[:len(defaultAuthScheme)+1], defaultAuthScheme+" ") {
			token = strings.TrimSpace(token[len(defaultAuthScheme)+1:])
		}
		if token == "" {
			return "", ErrMissingCredential
		}
		return token, nil
	}
}
