package models

import "time"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is an account allowed to subscribe to job streams.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether the user may use the admin control plane.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Project is the minimal ownership record jobs are submitted against.
type Project struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
