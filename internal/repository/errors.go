package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Common repository errors
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned when trying to create a user with an existing email
	ErrDuplicateEmail = errors.New("user with this email already exists")

	// ErrDuplicateProviderID is returned when a google account is already linked to another user
	ErrDuplicateProviderID = errors.New("google account already linked to another user")

	// ErrInvalidSteps is returned when a negative step count is written
	ErrInvalidSteps = errors.New("steps must not be negative")
)

const (
	pqUniqueViolation    = "23505"
	pqInvalidTextRepr    = "22P02"
	providerIDConstraint = "users_provider_id_key"
)

func pqCode(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// isUniqueViolation reports a unique_violation and the constraint it hit
func isUniqueViolation(err error) (string, bool) {
	if pqErr, ok := pqCode(err); ok && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// isInvalidID reports a malformed uuid parameter, which can never match a row
func isInvalidID(err error) bool {
	pqErr, ok := pqCode(err)
	return ok && pqErr.Code == pqInvalidTextRepr
}
