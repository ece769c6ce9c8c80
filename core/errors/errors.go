package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrStorage wraps failures of the underlying database connection or I/O.
	ErrStorage = stderrors.New("vault: storage failure")
	// ErrNotFound is returned when a targeted update addresses a record that does not exist.
	ErrNotFound = stderrors.New("vault: record not found")
	// ErrCodec is returned when a stored identity payload cannot be decoded.
	ErrCodec = stderrors.New("vault: malformed identity payload")
	// ErrValidation is returned when a validator rejects caller supplied input.
	ErrValidation = stderrors.New("vault: validation failed")
)

// ErrorKind classifies failures so callers can choose user facing messaging.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindStorage
	KindNotFound
	KindCodec
	KindValidation
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindStorage:
		return "storage"
	case KindNotFound:
		return "not_found"
	case KindCodec:
		return "codec"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Kind reports which taxonomy bucket err belongs to.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case stderrors.Is(err, ErrNotFound):
		return KindNotFound
	case stderrors.Is(err, ErrValidation):
		return KindValidation
	case stderrors.Is(err, ErrCodec):
		return KindCodec
	case stderrors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}

// DecodeError names the identity whose stored payload failed to decode.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode identity %s: %v", e.ID, e.Err)
}

// Unwrap exposes ErrCodec alongside the underlying cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCodec}
	}
	return []error{ErrCodec, e.Err}
}

// Storage wraps err as a storage failure annotated with the operation name.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Validation wraps a validator message as ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
