// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by where it originates and how it should be surfaced.
type Kind string

const (
	KindUnknown       Kind = ""
	KindDevice        Kind = "device"
	KindConfig        Kind = "config"
	KindUpstream      Kind = "upstream"
	KindParse         Kind = "parse"
	KindDecode        Kind = "decode"
	KindValidation    Kind = "validation"
	KindShareTooLarge Kind = "share_too_large"
	KindEmptyResponse Kind = "empty_response"
)

// Error carries a Kind together with the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by Kind so sentinel values such as ErrDevice work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Op == "" && other.Msg == "" && other.Err == nil && other.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrDevice        = &Error{Kind: KindDevice}
	ErrConfig        = &Error{Kind: KindConfig}
	ErrUpstream      = &Error{Kind: KindUpstream}
	ErrParse         = &Error{Kind: KindParse}
	ErrDecode        = &Error{Kind: KindDecode}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrShareTooLarge = &Error{Kind: KindShareTooLarge}
	ErrEmptyResponse = &Error{Kind: KindEmptyResponse}
)

// New builds an error of the given kind.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Device reports an unavailable or denied microphone.
func Device(op string, err error) error { return &Error{Kind: KindDevice, Op: op, Msg: "microphone unavailable", Err: err} }

// Decode reports malformed codec input.
func Decode(op, msg string) error { return &Error{Kind: KindDecode, Op: op, Msg: msg} }

// WithMsg wraps err under kind with a user-facing message.
func WithMsg(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Message returns the user-facing text of err: the outermost Msg when set, otherwise err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}
