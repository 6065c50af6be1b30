// Package access decides whether a login link may be used at a given instant.
//
// Classify is a pure function. The authoritative grant path runs the same check
// inside the store's consume transaction; calling Classify on its own is only
// suitable for read-only status display.
package access

import (
	"time"

	"github.com/sifan077/TempLogin/internal/app/model"
)

// Reason explains why a presentation was denied. The zero value means granted.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonDeactivated   Reason = "deactivated"
	ReasonExpired       Reason = "expired"
	ReasonMaxedOut      Reason = "maxed_out"
	ReasonNotFound      Reason = "not_found"
	ReasonInvalidFormat Reason = "invalid_format"
)

// Verdict is the outcome of classifying a link.
type Verdict struct {
	Granted bool
	Reason  Reason
}

// Granted is the verdict for a usable link.
func Granted() Verdict {
	return Verdict{Granted: true}
}

// Denied builds a denial verdict.
func Denied(reason Reason) Verdict {
	return Verdict{Reason: reason}
}

// Classify maps a link and the current time to a verdict.
// Deactivated takes precedence over Expired, which takes precedence over MaxedOut.
func Classify(link model.Link, now time.Time) Verdict {
	if !link.IsActive {
		return Denied(ReasonDeactivated)
	}
	if !link.ExpiresAt.After(now) {
		return Denied(ReasonExpired)
	}
	if link.MaxAccesses != 0 && link.AccessCount >= link.MaxAccesses {
		return Denied(ReasonMaxedOut)
	}
	return Granted()
}

// RemainingAccesses returns how many grants are left, or -1 for unlimited links.
func RemainingAccesses(link model.Link) int {
	if link.Unlimited() {
		return -1
	}
	if link.AccessCount >= link.MaxAccesses {
		return 0
	}
	return link.MaxAccesses - link.AccessCount
}
