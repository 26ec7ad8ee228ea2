// Package faults classifies persistence failures into the three outcomes
// the coordinator cares about: recoverable, permission denied, or conflict.
// Callers match with errors.Is and never see driver-specific shapes.
package faults

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrPermissionDenied means the persistence layer's access policy
	// rejected the write. Surfaced as a distinct, actionable message.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict means a uniqueness constraint fired. Captain re-adds
	// treat this as benign re-assignment, not failure.
	ErrConflict = errors.New("conflict")
)

// Postgres SQLSTATE codes worth distinguishing.
const (
	codeUniqueViolation       = "23505"
	codeInsufficientPrivilege = "42501"
	codeInvalidAuthorization  = "28000"
)

// Classify wraps a persistence error with the matching sentinel. Errors that
// are neither permission nor conflict pass through unchanged and count as
// transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case codeInsufficientPrivilege, codeInvalidAuthorization:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, pgErr.Message)
		}
	}
	return err
}
