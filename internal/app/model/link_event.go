package model

import "time"

// Link lifecycle event types published for notification collaborators.
const (
	EventLinkIssued  = "link.issued"
	EventLinkExpired = "link.expired"
)

// LinkEvent is emitted when a link is issued or torn down.
type LinkEvent struct {
	Type            string    `json:"type"`
	LinkID          string    `json:"link_id"`
	SubjectIdentity string    `json:"subject_identity"`
	Reason          string    `json:"reason,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	OccurredAt      time.Time `json:"occurred_at"`
	// Link is only set on issue events so a mailer can build the login URL.
	Link *Link `json:"link,omitempty"`
}

const (
	LinkStreamName     = "LINKS"
	LinkStreamSubjects = "links.>"
	LinkIssuedSubject  = "links.issued"
	LinkExpiredSubject = "links.expired"
	LinkStreamMaxBytes = 1024 * 1024 * 50 // 50MB
)
