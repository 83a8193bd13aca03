package library

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrValidation marks caller-supplied data that violates a precondition.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an operation whose target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when a book has no copies left to lend.
	ErrUnavailable = errors.New("no copies available")
	// ErrDuplicate marks a uniqueness violation.
	ErrDuplicate = fmt.Errorf("%w: already exists", ErrValidation)
	// ErrInvalidReference marks a loan pointing at a record that does not exist.
	ErrInvalidReference = fmt.Errorf("%w: invalid reference", ErrValidation)
)

// ValidationError describes which field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// translateStoreErr maps SQLite constraint failures onto the package's
// error conditions so callers never see driver-specific errors.
func translateStoreErr(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w (%s)", ErrDuplicate, sqliteErr.Error())
	case sqlite3.ErrConstraintForeignKey:
		return ErrInvalidReference
	case sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintCheck:
		return fmt.Errorf("%w: %s", ErrValidation, sqliteErr.Error())
	}
	return err
}
