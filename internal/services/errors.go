package services

import (
	"context"
	"errors"

	"github.com/nimasrn/drone-dispatch/internal/auth"
)

// Kind groups domain errors by how callers should react.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindUnauthenticated  Kind = "unauthenticated"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindForbidden        Kind = "forbidden"
	KindInvalidState     Kind = "invalid_state"
	KindUnavailable      Kind = "unavailable"
	KindUpstreamDegraded Kind = "upstream_degraded"
	KindInternal         Kind = "internal"
)

// Error is a domain error with a stable code. Two errors match under
// errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy of e carrying cause.
func (e *Error) With(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrUnauthenticated = newError(KindUnauthenticated, "unauthenticated", "authentication required")
	ErrForbidden       = newError(KindForbidden, "forbidden", "not allowed to act on this resource")

	ErrOrderNotFound      = newError(KindNotFound, "order_not_found", "order not found")
	ErrDroneOrderNotFound = newError(KindNotFound, "drone_order_not_found", "drone order not found")
	ErrDroneNotFound      = newError(KindNotFound, "drone_not_found", "drone not found")
	ErrDroneNotAssigned   = newError(KindNotFound, "drone_not_assigned", "no drone is assigned to this order")

	ErrNoDroneAvailable     = newError(KindConflict, "no_drone_available", "no drones available")
	ErrDroneOrderExists     = newError(KindConflict, "drone_order_exists", "a drone order already exists for this order")
	ErrDroneExists          = newError(KindConflict, "drone_exists", "drone already registered")
	ErrAlreadyAssigned      = newError(KindConflict, "already_assigned", "order already has an active drone assignment")
	ErrDroneBusy            = newError(KindConflict, "drone_busy", "drone is not idle")
	ErrConcurrentTransition = newError(KindConflict, "concurrent_transition", "drone order changed concurrently, retry")

	ErrDroneOrderTerminal = newError(KindInvalidState, "drone_order_terminal", "drone order is already delivered or cancelled")
	ErrAlreadyDelivered   = newError(KindInvalidState, "already_delivered", "order is already delivered")
	ErrQRInvalid          = newError(KindInvalidState, "qr_invalid", "QR code is invalid")
	ErrQRExpired          = newError(KindInvalidState, "qr_expired", "QR code has expired")
	ErrNotDroneDelivery   = newError(KindInvalidState, "not_drone_delivery", "order is not a drone delivery")
	ErrNotReadyForPickup  = newError(KindInvalidState, "not_ready_for_pickup", "shop has not marked the order ready")
	ErrInvalidTransition  = newError(KindInvalidState, "invalid_transition", "transition not allowed from the current state")
	ErrHandoffInvalid     = newError(KindInvalidState, "handoff_invalid", "handoff token is invalid")
	ErrHandoffExpired     = newError(KindInvalidState, "handoff_expired", "handoff token has expired")

	ErrNoDroneForPickup = newError(KindUnavailable, "no_drone_available", "no drones available for pickup")
)

// Validation wraps a request validation failure.
func Validation(err error) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_request", Message: err.Error()}
}

// KindOf reports the kind of err, KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// actor resolves the caller and translates auth guard failures.
func actor(ctx context.Context, kinds ...auth.Kind) (auth.Actor, error) {
	a, err := auth.Require(ctx, kinds...)
	switch {
	case errors.Is(err, auth.ErrMissingActor):
		return auth.Actor{}, ErrUnauthenticated
	case errors.Is(err, auth.ErrForbidden):
		return auth.Actor{}, ErrForbidden
	}
	return a, err
}
