package models

import "time"

// User represents the user model in the database.
//
// Password is redacted in the change log and the login bookkeeping columns
// are never tracked.
type User struct {
	Base
	Email               string     `gorm:"uniqueIndex;not null" json:"email"`
	Password            string     `gorm:"not null" json:"-" audit:"mask"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	IsActive            bool       `gorm:"not null" json:"is_active"`
	RefreshTokenHash    string     `gorm:"size:64" json:"-" audit:"ignore"`
	FailedLoginAttempts int        `gorm:"not null" json:"-" audit:"ignore"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty" audit:"ignore"`
}
