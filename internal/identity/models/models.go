package models

import (
	"time"

	"commandbridge/pkg/domain"
)

// User is a portal account. The user store is the only authority for a
// user's role; token claims never set it.
type User struct {
	Email     domain.Email `json:"email"`
	Name      string       `json:"name"`
	Role      domain.Role  `json:"role"`
	Team      string       `json:"team"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	UpdatedBy domain.Email `json:"updated_by,omitempty"`
}

// Touch records who changed the user and when.
func (u *User) Touch(by domain.Email, at time.Time) {
	u.UpdatedAt = at
	u.UpdatedBy = by
}
