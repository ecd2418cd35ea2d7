// Package auth signs users in with email and password and issues the Redis
// session the rest of the service reads principals from.
package auth

import (
	"fmt"

	"github.com/opencatalog/catalog/internal/shared"
)

// ErrInvalidCredentials hides whether the email or the password was wrong.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", shared.ErrUnauthenticated)

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}
