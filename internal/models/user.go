package models

import "time"

// User is an account allowed to authenticate. Registration happens outside
// the HTTP surface, so the service only reads these rows.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
}
