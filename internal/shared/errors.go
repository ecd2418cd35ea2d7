package shared

import (
	"errors"

	"github.com/opencatalog/catalog/internal/platform/db"
)

var (
	// ErrUnauthenticated indicates the action requires a principal and none is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the principal lacks the required permission or ownership.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates resource not found or soft deleted.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent writer changed the record first.
	ErrConflict = db.ErrConflict
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)
