// Package auth guards the meshbridge API with shared bearer tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a bearer token.
type Validator interface {
	Validate(token string) error
}

// Tokens accepts any one of a set of shared API tokens. Listing two lets a
// new token roll out before the old one is retired.
type Tokens []string

// ParseTokens splits a comma separated token list and drops blank entries.
func ParseTokens(raw string) Tokens {
	var out Tokens
	for _, part := range strings.Split(raw, ",") {
		if tok := strings.TrimSpace(part); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Validate compares token against every entry in constant time per entry.
func (ts Tokens) Validate(token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	match := 0
	for _, want := range ts {
		if want == "" {
			continue
		}
		match |= subtle.ConstantTimeCompare([]byte(want), []byte(token))
	}
	if match != 1 {
		return ErrUnauthorized
	}
	return nil
}
