package model

import "time"

// Access outcomes recorded in the access log.
const (
	OutcomeGranted = "granted"
	OutcomeDenied  = "denied"
)

// AccessLogEntry records a single presentation of a login token. Entries are
// append-only.
type AccessLogEntry struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	LinkID      string    `json:"link_id" gorm:"size:36;index"`
	Outcome     string    `json:"outcome" gorm:"size:16;not null"`
	Reason      string    `json:"reason,omitempty" gorm:"size:32;not null;default:''"`
	RequesterIP string    `json:"requester_ip" gorm:"size:64;not null;default:''"`
	UserAgent   string    `json:"user_agent" gorm:"type:text"`
	RequestID   string    `json:"request_id,omitempty" gorm:"size:64"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;index"`
}

const (
	AccessStreamName     = "ACCESS"
	AccessStreamSubject  = "access.events"
	AccessConsumerName   = "access-logger"
	AccessStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
