package k8serrors

import (
	"errors"
	"fmt"

	xe "github.com/sievelab/podgen/pkg/errors"
)

type wrappingError struct {
	message  string
	causedBy error
}

func as[E error](err error) bool {
	if err == nil {
		return false
	}
	p := new(E)
	return errors.As(err, p)
}

func format(e struct {
	message  string
	causedBy error
}) string {
	if e.causedBy == nil {
		return e.message
	}
	if e.message == "" {
		return fmt.Sprintf("caused by: %+v", e.causedBy)
	}

	return fmt.Sprintf("%s / caused by: %+v", e.message, e.causedBy)
}

// Requested resource does not exists.
type ErrMissing wrappingError

var AsMissingError = as[*ErrMissing]

func NewMissing(message string) error {
	return xe.WrapAsOuter(&ErrMissing{message: message}, 1)
}

func NewMissingCausedBy(message string, err error) error {
	return xe.WrapAsOuter(&ErrMissing{message: message, causedBy: err}, 1)
}

func (e *ErrMissing) Error() string {
	return format(*e)
}

func (e *ErrMissing) Unwrap() error {
	return e.causedBy
}

// Failed to provision a pod since it already exists.
type ErrConflict wrappingError

var AsConflict = as[*ErrConflict]

func NewConflict(message string) error {
	return xe.WrapAsOuter(&ErrConflict{message: message}, 1)
}

func NewConflictCausedBy(message string, err error) error {
	return xe.WrapAsOuter(&ErrConflict{message: message, causedBy: err}, 1)
}

func (e *ErrConflict) Error() string {
	return format(*e)
}

func (e *ErrConflict) Unwrap() error {
	return e.causedBy
}

// The platform rejected the pod spec permanently
// (quota exceeded, invalid image reference, forbidden).
// Creating the same pod again would be rejected again: do not retry.
type ErrRejected wrappingError

var AsRejected = as[*ErrRejected]

func NewRejected(message string) error {
	return xe.WrapAsOuter(&ErrRejected{message: message}, 1)
}

func NewRejectedCausedBy(message string, err error) error {
	return xe.WrapAsOuter(&ErrRejected{message: message, causedBy: err}, 1)
}

func (e *ErrRejected) Error() string {
	return format(*e)
}

func (e *ErrRejected) Unwrap() error {
	return e.causedBy
}

// Transient connectivity or API failure. Retried with backoff.
type ErrUnavailable wrappingError

var AsUnavailable = as[*ErrUnavailable]

func NewUnavailable(message string) error {
	return xe.WrapAsOuter(&ErrUnavailable{message: message}, 1)
}

func NewUnavailableCausedBy(message string, err error) error {
	return xe.WrapAsOuter(&ErrUnavailable{message: message, causedBy: err}, 1)
}

func (e *ErrUnavailable) Error() string {
	return format(*e)
}

func (e *ErrUnavailable) Unwrap() error {
	return e.causedBy
}
