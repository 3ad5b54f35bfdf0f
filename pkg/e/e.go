package e

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// kind is a sentinel that can refine a broader sentinel, so
// errors.Is(ErrInvalidStatus, ErrInvalidArgument) holds.
type kind struct {
	msg    string
	parent error
}

func (k *kind) Error() string { return k.msg }
func (k *kind) Unwrap() error { return k.parent }

func newKind(msg string, parent error) error {
	return &kind{msg: msg, parent: parent}
}

var (
	ErrInvalidArgument  = stderrors.New("invalid argument")
	ErrPermissionDenied = stderrors.New("permission denied")
	ErrNotFound         = stderrors.New("not found")
	ErrConflict         = stderrors.New("conflict")
	ErrStore            = stderrors.New("store failure")
	ErrUnauthenticated  = stderrors.New("unauthenticated")
	ErrQueueEmpty       = stderrors.New("queue is empty")
	ErrDeadline         = stderrors.New("deadline exceeded")
	ErrCanceled         = stderrors.New("context canceled")

	ErrInvalidCoordinates = newKind("invalid coordinates", ErrInvalidArgument)
	ErrInvalidRadius      = newKind("invalid radius", ErrInvalidArgument)
	ErrInvalidStatus      = newKind("invalid status", ErrInvalidArgument)
	ErrInvalidTransition  = newKind("invalid status transition", ErrInvalidArgument)
)

func Wrap(message string, err error) error {
	return errors.Wrap(err, message)
}

// WrapError normalizes storage and context errors into the sentinels above,
// prefixed with op. Errors that already carry a sentinel keep it.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(ErrDeadline, op)
	case stderrors.Is(err, context.Canceled):
		return errors.Wrap(ErrCanceled, op)
	case stderrors.Is(err, sql.ErrNoRows):
		return errors.Wrap(ErrNotFound, op)
	}

	var sqErr *sqlite.Error
	if stderrors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return errors.Wrap(ErrConflict, op)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return errors.Wrap(ErrInvalidArgument, op)
		}
	}

	for _, known := range []error{ErrInvalidArgument, ErrPermissionDenied, ErrNotFound, ErrConflict, ErrStore, ErrQueueEmpty} {
		if stderrors.Is(err, known) {
			return errors.Wrap(err, op)
		}
	}
	return errors.Wrapf(ErrStore, "%s: %v", op, err)
}
