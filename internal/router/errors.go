package router

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindValidation: a required field is empty or malformed.
	KindValidation Kind = iota + 1
	// KindNotFound: a room or recipient does not resolve.
	KindNotFound
	// KindState: the request is not valid for the connection's current state.
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error is what every router operation returns on failure. Message is safe to
// show to the requester.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func validationError(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

func notFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrNotInRoom         = &Error{Kind: KindState, Message: "not in a room"}
	ErrUnknownConnection = &Error{Kind: KindState, Message: "connection is not registered"}
	ErrRoomNameRequired  = &Error{Kind: KindValidation, Message: "room name is required"}
	ErrUsernameRequired  = &Error{Kind: KindValidation, Message: "username is required"}
	ErrRecipientRequired = &Error{Kind: KindValidation, Message: "recipient is required"}
)

// KindOf returns the kind of a router error, or 0 for anything else.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return 0
}
