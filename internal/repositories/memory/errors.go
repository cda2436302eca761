package memory

import (
	"fmt"

	"github.com/hanko-field/orderflow/internal/repositories"
)

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
)

// Error implements repositories.RepositoryError for the in-memory backend.
type Error struct {
	kind    errorKind
	message string
}

var _ repositories.RepositoryError = (*Error)(nil)

func (e *Error) Error() string       { return e.message }
func (e *Error) IsNotFound() bool    { return e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(format string, args ...any) error {
	return &Error{kind: kindNotFound, message: "memory: " + fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &Error{kind: kindConflict, message: "memory: " + fmt.Sprintf(format, args...)}
}
