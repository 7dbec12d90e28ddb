package types

import "time"

// User represents an account in the system. The core never mutates a
// user record; it is created by registration and referenced as the
// owner of bids and as an auction winner.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's unique email address.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level (e.g. "admin", "user").
	// Used only to gate the auction media upload endpoint.
	Role string `json:"role" db:"role"`

	// PasswordHash stores the salted hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
