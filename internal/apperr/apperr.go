// Package apperr is the closed set of error kinds returned across the checkout
// core. Every failure that leaves a component is one of ValidationError,
// ConflictError, ProviderError or IntegrityError, each tagged with a Reason.
package apperr

import (
	"errors"
	"fmt"
)

type Reason string

const (
	ReasonCouponNotFound     Reason = "COUPON_NOT_FOUND"
	ReasonCouponExpired      Reason = "COUPON_EXPIRED"
	ReasonUsageLimitExceeded Reason = "USAGE_LIMIT_EXCEEDED"
	ReasonNotApplicable      Reason = "NOT_APPLICABLE"
	ReasonInvalidCart        Reason = "INVALID_CART"
	ReasonInvalidInput       Reason = "INVALID_INPUT"
	ReasonUnknownProduct     Reason = "UNKNOWN_PRODUCT"
	ReasonOrderNotFound      Reason = "ORDER_NOT_FOUND"
	ReasonTokenNotFound      Reason = "TOKEN_NOT_FOUND"

	ReasonInsufficientStock Reason = "INSUFFICIENT_STOCK"
	ReasonStaleState        Reason = "STALE_STATE"
	ReasonDuplicate         Reason = "DUPLICATE"
	ReasonRequestInFlight   Reason = "REQUEST_IN_FLIGHT"

	ReasonDeclined            Reason = "DECLINED"
	ReasonProviderUnavailable Reason = "PROVIDER_UNAVAILABLE"
	ReasonTimeout             Reason = "TIMEOUT"
	ReasonAlreadyRefunded     Reason = "ALREADY_REFUNDED"

	ReasonIntegrity Reason = "INTEGRITY"
)

// ValidationError is user-correctable input: bad coupon, bad cart.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %s: %s", e.Reason, e.Message) }

// ConflictError means the caller may retry with fresh data.
type ConflictError struct {
	Reason    Reason
	Message   string
	ProductID string
	OrderID   string
	Requested int
	Available int
}

func (e *ConflictError) Error() string { return fmt.Sprintf("conflict: %s: %s", e.Reason, e.Message) }

// ProviderError is a failure reported by (or while talking to) the payment provider.
type ProviderError struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("provider: %s: %s", e.Reason, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the coordinator may retry the call.
func (e *ProviderError) Transient() bool {
	return e.Reason == ReasonProviderUnavailable || e.Reason == ReasonTimeout
}

// IntegrityError is an inconsistency that needs manual intervention.
type IntegrityError struct {
	OrderID string
	Message string
	Err     error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity: order %s: %s: %v", e.OrderID, e.Message, e.Err)
	}
	return fmt.Sprintf("integrity: order %s: %s", e.OrderID, e.Message)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func Validation(reason Reason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Conflict(reason Reason, format string, args ...any) error {
	return &ConflictError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func InsufficientStock(productID string, requested, available int) error {
	return &ConflictError{
		Reason:    ReasonInsufficientStock,
		Message:   fmt.Sprintf("product %s: requested %d, available %d", productID, requested, available),
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

func StaleState(orderID, format string, args ...any) error {
	return &ConflictError{Reason: ReasonStaleState, Message: fmt.Sprintf(format, args...), OrderID: orderID}
}

func Provider(reason Reason, err error, format string, args ...any) error {
	return &ProviderError{Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

func Integrity(orderID string, err error, format string, args ...any) error {
	return &IntegrityError{OrderID: orderID, Message: fmt.Sprintf(format, args...), Err: err}
}

// ReasonOf returns the reason carried by the first taxonomy error in err's
// chain, or "" when err is not classified.
func ReasonOf(err error) Reason {
	var (
		ve *ValidationError
		ce *ConflictError
		pe *ProviderError
		ie *IntegrityError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Reason
	case errors.As(err, &ce):
		return ce.Reason
	case errors.As(err, &pe):
		return pe.Reason
	case errors.As(err, &ie):
		return ReasonIntegrity
	}
	return ""
}

func Is(err error, reason Reason) bool { return err != nil && ReasonOf(err) == reason }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient()
}
