package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is the expected-absence result. Callers branch on it; it never
// reaches a log as an error.
var ErrNotFound = errors.New("record not found")

type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
)

// ConstraintError surfaces database constraint violations as data the
// provisioning paths can branch on: unique violations mean "lost a creation
// race", foreign key violations mean "parent row missing".
type ConstraintError struct {
	Kind ConstraintKind
	Err  error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation (%s): %v", e.Kind, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// translate maps gorm's driver-translated errors into the store's stable
// error set. Relies on TranslateError being enabled on the gorm config.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &ConstraintError{Kind: ConstraintUnique, Err: err}
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return &ConstraintError{Kind: ConstraintForeignKey, Err: err}
	default:
		return err
	}
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsUniqueViolation(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Kind == ConstraintUnique
}

func IsForeignKeyViolation(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Kind == ConstraintForeignKey
}
