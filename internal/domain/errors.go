package domain

import "errors"

// Kind classifies a rejected operation. Every kind except transient is
// terminal for the triggering request.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindIllegalMove  Kind = "illegal_move"
	KindUnauthorized Kind = "unauthorized"
	KindTransient    Kind = "transient"
)

// Error carries a classification and a reason string the client can display.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return string(e.Kind)
}

func NotFound(reason string) error     { return &Error{Kind: KindNotFound, Reason: reason} }
func InvalidState(reason string) error { return &Error{Kind: KindInvalidState, Reason: reason} }
func IllegalMove(reason string) error  { return &Error{Kind: KindIllegalMove, Reason: reason} }
func Unauthorized(reason string) error { return &Error{Kind: KindUnauthorized, Reason: reason} }
func Transient(reason string) error    { return &Error{Kind: KindTransient, Reason: reason} }

// KindOf returns the classification of err, defaulting to transient for
// anything that is not a domain error (storage, connection failures).
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// Reason returns the user-displayable reason of err.
func Reason(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return "internal error, please retry"
}

func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsInvalidState(err error) bool { return KindOf(err) == KindInvalidState }
func IsIllegalMove(err error) bool  { return KindOf(err) == KindIllegalMove }
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }
func IsTransient(err error) bool    { return KindOf(err) == KindTransient }
