package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid or expired confirmation")
	ErrMissingSecret    = errors.New("confirm secret is not configured")
)

const (
	payloadSize   = 12 // 4 bytes expiry + 8 random bytes
	signatureSize = 16
)

// ConfirmSigner issues short-lived HMAC signatures that bind the status page to
// the confirm request.
//
// Presenting a login link is a two-step exchange. GET /login/:token only renders
// the link status and a signed form; it never consumes an access. Mail scanners
// and link unfurlers issue exactly that GET, so without the extra step they would
// burn single-use links before the recipient clicks. The POST carrying a valid
// signature is the only request that consumes an access. A signature is bound to
// one token and holds no link state: it only proves the POST follows a page this
// server rendered for that link recently.
type ConfirmSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewConfirmSigner returns a signer whose signatures expire after ttl.
func NewConfirmSigner(secret []byte, ttl time.Duration) *ConfirmSigner {
	return &ConfirmSigner{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the signer's time source.
func (s *ConfirmSigner) WithClock(now func() time.Time) *ConfirmSigner {
	s.now = now
	return s
}

// Issue mints a signature for the provided login token.
func (s *ConfirmSigner) Issue(token string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	payload := make([]byte, payloadSize)
	binary.BigEndian.PutUint32(payload[:4], uint32(s.now().Add(s.ttl).Unix()))
	if _, err := rand.Read(payload[4:]); err != nil {
		return "", fmt.Errorf("confirm signer: %w", err)
	}

	mac := s.sign(token, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(mac[:signatureSize]), nil
}

// Validate checks the signature belongs to token and has not expired.
func (s *ConfirmSigner) Validate(token, signature string) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}

	payloadEnc, sigEnc, ok := strings.Cut(signature, ".")
	if !ok {
		return ErrInvalidSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) != payloadSize {
		return ErrInvalidSignature
	}
	provided, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil || len(provided) != signatureSize {
		return ErrInvalidSignature
	}

	expected := s.sign(token, payload)
	if !hmac.Equal(provided, expected[:signatureSize]) {
		return ErrInvalidSignature
	}

	expires := binary.BigEndian.Uint32(payload[:4])
	if s.now().Unix() > int64(expires) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *ConfirmSigner) sign(token string, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
