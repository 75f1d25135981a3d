package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNoItems is returned for a checkout request with an empty cart.
	ErrNoItems = errors.New("no items")
	// ErrInvalidItem is returned for a cart line that cannot be priced.
	ErrInvalidItem = errors.New("invalid item")

	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrPersistence is returned when the order could not be recorded.
	ErrPersistence = errors.New("order persistence failed")

	ErrMissingParams = errors.New("missing params")
	ErrOrderNotFound = errors.New("order not found")
	ErrForbidden     = errors.New("forbidden")
)

// UpstreamError wraps a failure reported by an external provider.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
