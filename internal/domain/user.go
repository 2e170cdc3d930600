// Package domain contains core domain types for the web SSH client.
package domain

import (
	"strings"
	"time"
)

// User represents a browser identity. Anonymous users get a generated
// username; claiming a username turns the identity into an account whose
// connections live in the account catalog.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Account    bool      `json:"account"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LoggedIn reports whether the user has claimed an account name.
func (u *User) LoggedIn() bool {
	return u != nil && u.Account && strings.TrimSpace(u.Username) != ""
}

// IdleFor returns how long the user has been inactive.
func (u *User) IdleFor(now time.Time) time.Duration {
	if u.LastSeenAt.IsZero() {
		return 0
	}
	d := now.Sub(u.LastSeenAt)
	if d < 0 {
		return 0
	}
	return d
}
