package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error so the boundary can tell stock problems apart from
// permission problems without string matching.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindEmptyCart         Kind = "EMPTY_CART"
	KindOrderNotPending   Kind = "ORDER_NOT_PENDING"
	KindValidation        Kind = "VALIDATION"
	KindConflict          Kind = "CONFLICT"
	KindExternalProvider  Kind = "EXTERNAL_PROVIDER"
)

// Error is the single error type returned by the core.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
	// Shortage is set on INSUFFICIENT_STOCK errors raised by the inventory pool.
	Shortage *StockShortage
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works for every not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock, Message: "insufficient stock", Retryable: true}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Message: "not allowed"}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated, Message: "actor not identified"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrEmptyCart         = &Error{Kind: KindEmptyCart, Message: "cart is empty"}
	ErrOrderNotPending   = &Error{Kind: KindOrderNotPending, Message: "order is not pending"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "concurrent modification", Retryable: true}
	ErrExternalProvider  = &Error{Kind: KindExternalProvider, Message: "payment provider error", Retryable: true}
)

// E builds an error of the given kind with a formatted message.
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable(kind)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable(kind), Err: err}
}

// KindOf returns the kind of err, or "" for errors that did not originate in the core.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func retryable(kind Kind) bool {
	switch kind {
	case KindInsufficientStock, KindConflict, KindExternalProvider:
		return true
	}
	return false
}

// StockShortage describes which counter could not satisfy a request.
type StockShortage struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// InsufficientStock builds a retryable stock error carrying the shortage details.
func InsufficientStock(s StockShortage) error {
	msg := fmt.Sprintf("insufficient stock for product %s: required %d, available %d", s.ProductID, s.Required, s.Available)
	if s.VariantID != "" {
		msg = fmt.Sprintf("insufficient stock for variant %s of product %s: required %d, available %d",
			s.VariantID, s.ProductID, s.Required, s.Available)
	}
	return &Error{Kind: KindInsufficientStock, Message: msg, Retryable: true, Shortage: &s}
}
