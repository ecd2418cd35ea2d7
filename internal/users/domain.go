// Package users holds catalog accounts and the identity claims derived from them.
package users

import (
	"time"

	"github.com/google/uuid"
)

// User represents a catalog account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SetAdminInput toggles the admin flag.
type SetAdminInput struct {
	Admin *bool `json:"admin" validate:"required"`
}
