// Package token generates and syntactically validates login link tokens.
package token

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

const (
	// Prefix marks the token format version.
	Prefix = "tl_"

	// 43 base62 characters carry just over 256 bits of entropy.
	bodyLength = 43

	// Length is the exact length of a well-formed token.
	Length = len(Prefix) + bodyLength
)

// ErrInvalidFormat is returned for input that cannot be a token.
var ErrInvalidFormat = errors.New("invalid token format")

// Codec mints and validates tokens. It is safe for concurrent use.
type Codec struct {
	random func(length int) (string, error)
}

// Option configures a Codec.
type Option func(*Codec)

// WithRandom replaces the random base62 source. Intended for tests.
func WithRandom(fn func(length int) (string, error)) Option {
	return func(c *Codec) {
		if fn != nil {
			c.random = fn
		}
	}
}

// NewCodec returns a Codec backed by crypto/rand.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{random: base62.Random}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns a fresh token. Uniqueness is still enforced by the store.
func (c *Codec) Generate() (string, error) {
	body, err := c.random(bodyLength)
	if err != nil {
		return "", fmt.Errorf("token: generate: %w", err)
	}
	if len(body) != bodyLength {
		return "", fmt.Errorf("token: generate: got %d characters, want %d", len(body), bodyLength)
	}
	return Prefix + body, nil
}

// Validate checks that raw is well formed and returns it unchanged.
// Every byte is inspected regardless of where the first mismatch occurs.
func (c *Codec) Validate(raw string) (string, error) {
	if len(raw) != Length {
		return "", ErrInvalidFormat
	}

	bad := subtle.ConstantTimeCompare([]byte(raw[:len(Prefix)]), []byte(Prefix)) ^ 1
	for i := len(Prefix); i < len(raw); i++ {
		bad |= invalidChar(raw[i])
	}
	if bad != 0 {
		return "", ErrInvalidFormat
	}
	return raw, nil
}

func invalidChar(b byte) int {
	digit := subtle.ConstantTimeLessOrEq(int('0'), int(b)) & subtle.ConstantTimeLessOrEq(int(b), int('9'))
	upper := subtle.ConstantTimeLessOrEq(int('A'), int(b)) & subtle.ConstantTimeLessOrEq(int(b), int('Z'))
	lower := subtle.ConstantTimeLessOrEq(int('a'), int(b)) & subtle.ConstantTimeLessOrEq(int(b), int('z'))
	return (digit | upper | lower) ^ 1
}

// Redact shortens a token for logs, keeping the prefix and the last four characters.
func Redact(tok string) string {
	if len(tok) <= len(Prefix)+4 {
		return "***"
	}
	return tok[:len(Prefix)] + "…" + tok[len(tok)-4:]
}
