// Package apperr defines the error kinds surfaced by the checkout and order
// core. Every error returned to a caller carries a stable machine-readable
// Kind plus a human-readable message.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindEmptyCart         Kind = "empty_cart"
	KindCouponInvalid     Kind = "coupon_invalid"
	KindInsufficientStock Kind = "insufficient_stock"
	KindInvalidTransition Kind = "invalid_transition"
	KindAuthorization     Kind = "authorization"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Kinder is implemented by every error that belongs to the taxonomy.
type Kinder interface {
	error
	Kind() Kind
}

// Error is the generic taxonomy error. Domain packages define richer typed
// errors (InsufficientStockError, CouponInvalidError, ...) for kinds that
// carry structured data.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// Kind returns the error category.
func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.err.Error()
	}
	return e.msg + ": " + e.err.Error()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.err }

// Is reports a match against another *Error of the same kind and message,
// which lets package-level sentinels such as ErrEmptyCart work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kind == e.kind && t.msg == e.msg
}

// ErrEmptyCart is returned when checkout is attempted on a cart with no lines.
var ErrEmptyCart = &Error{kind: KindEmptyCart, msg: "cart is empty"}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// NotFound creates a not_found error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Validation creates a validation error for malformed input.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// Authorization creates an authorization error.
func Authorization(format string, args ...any) *Error {
	return New(KindAuthorization, format, args...)
}

// Conflict wraps a lost race (order number, coupon limit) that is safe to retry.
func Conflict(err error, format string, args ...any) *Error {
	return &Error{kind: KindConflict, msg: fmt.Sprintf(format, args...), err: err}
}

// Internal wraps a storage or transaction failure.
func Internal(err error, msg string) *Error {
	return &Error{kind: KindInternal, msg: msg, err: err}
}

// KindOf returns the taxonomy kind of err. Errors outside the taxonomy are
// reported as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// Is reports whether err belongs to the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify returns err unchanged when it already belongs to the taxonomy and
// wraps it as internal otherwise.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var k Kinder
	if errors.As(err, &k) {
		return err
	}
	return Internal(err, msg)
}
