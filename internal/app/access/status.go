package access

import (
	"time"

	"github.com/sifan077/TempLogin/internal/app/model"
)

// DisplayStatus is the read-only status shown on the login page.
type DisplayStatus string

const (
	StatusActive      DisplayStatus = "active"
	StatusExpired     DisplayStatus = "expired"
	StatusDeactivated DisplayStatus = "deactivated"
	StatusMaxedOut    DisplayStatus = "maxed_out"
	StatusNotFound    DisplayStatus = "not_found"
)

// StatusOf reports the display status of link at now.
func StatusOf(link model.Link, now time.Time) DisplayStatus {
	return StatusFromVerdict(Classify(link, now))
}

// StatusFromVerdict converts a verdict into a display status.
func StatusFromVerdict(v Verdict) DisplayStatus {
	if v.Granted {
		return StatusActive
	}
	switch v.Reason {
	case ReasonDeactivated:
		return StatusDeactivated
	case ReasonExpired:
		return StatusExpired
	case ReasonMaxedOut:
		return StatusMaxedOut
	default:
		return StatusNotFound
	}
}

// ParseStatus parses a list filter status. Unknown values return false.
func ParseStatus(s string) (DisplayStatus, bool) {
	switch DisplayStatus(s) {
	case StatusActive, StatusExpired, StatusDeactivated, StatusMaxedOut:
		return DisplayStatus(s), true
	}
	return "", false
}
