package model

import "time"

// Link is an issued temporary login link stored in Postgres.
type Link struct {
	ID              string     `db:"id" gorm:"primaryKey;size:36"`
	Token           string     `db:"token" gorm:"size:64;not null;uniqueIndex"`
	SubjectIdentity string     `db:"subject_identity" gorm:"size:255;not null;index"`
	Note            string     `db:"note" gorm:"size:255;not null;default:''"`
	MaxAccesses     int        `db:"max_accesses" gorm:"not null;default:0"`
	AccessCount     int        `db:"access_count" gorm:"not null;default:0"`
	IsActive        bool       `db:"is_active" gorm:"not null;index"`
	ExpiresAt       time.Time  `db:"expires_at" gorm:"not null;index"`
	LastAccessedAt  *time.Time `db:"last_accessed_at"`
	TornDownAt      *time.Time `db:"torn_down_at" gorm:"index"`
	CreatedAt       time.Time  `db:"created_at" gorm:"not null"`
	UpdatedAt       time.Time  `db:"updated_at" gorm:"autoUpdateTime"`
}

// Unlimited reports whether the link has no access ceiling.
func (l Link) Unlimited() bool {
	return l.MaxAccesses == 0
}
