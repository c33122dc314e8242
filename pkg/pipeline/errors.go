package pipeline

import (
	"errors"
	"fmt"
)

// ErrProcessingError

type ErrProcessingError struct {
	error
	Category string
}

const (
	UnknownCategory = "unknown"
	DecodeCategory  = "decode"
	PanicCategory   = "panic"
)

func NewErrProcessingError(err error, category string) ErrProcessingError {
	return ErrProcessingError{
		error:    err,
		Category: category,
	}
}

func (e ErrProcessingError) Unwrap() error {
	return e.error
}

// ErrRetryableError

var ErrRetryableError = errors.New("retryable error")

func NewErrRetryableError(err error) error {
	return fmt.Errorf("%w: %w", ErrRetryableError, err)
}

func NewRetryableErrProcessingError(err error, category string) ErrProcessingError {
	return NewErrProcessingError(NewErrRetryableError(err), category)
}
