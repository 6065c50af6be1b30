package service

import (
	"errors"

	"github.com/sifan077/TempLogin/internal/app/repository"
)

var (
	// ErrInvalidSubject signals an empty or oversized subject identity.
	ErrInvalidSubject = errors.New("subject identity is required and must be at most 255 characters")
	// ErrInvalidNote signals an oversized note.
	ErrInvalidNote = errors.New("note must be at most 255 characters")
	// ErrInvalidExpiry signals an expiry that is not in the future.
	ErrInvalidExpiry = errors.New("expiry must be in the future")
	// ErrInvalidMaxAccesses signals a negative access ceiling.
	ErrInvalidMaxAccesses = errors.New("max accesses must not be negative")
	// ErrExhaustedRetries signals that every generated token collided. It points at a
	// broken entropy source rather than bad luck.
	ErrExhaustedRetries = errors.New("could not generate a unique token")
	// ErrInvalidExtension is shared with the store so callers can match either layer.
	ErrInvalidExtension = repository.ErrInvalidExtension
)
