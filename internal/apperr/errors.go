// Package apperr classifies failures of racer operations into the kinds
// surfaced by the HTTP API and the command-line tools.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a failure category.
type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindNotFound    Kind = "not_found"
	KindAmbiguous   Kind = "ambiguous_reference"
	KindRuntime     Kind = "external_runtime_error"
	KindSource      Kind = "source_error"
	KindConsistency Kind = "consistency_error"
	KindInternal    Kind = "internal_error"
)

// Sentinels allow errors.Is(err, apperr.ErrNotFound) style checks.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrAmbiguous   = &Error{Kind: KindAmbiguous}
	ErrRuntime     = &Error{Kind: KindRuntime}
	ErrSource      = &Error{Kind: KindSource}
	ErrConsistency = &Error{Kind: KindConsistency}
)

// Error carries the operation and reference that failed alongside the cause.
type Error struct {
	Kind Kind
	Op   string
	Ref  string
	Msg  string
	Err  error
}

// Error renders "op ref: msg: cause".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Ref != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%q", e.Ref)
	}
	msg := e.Msg
	if msg == "" && e.Err == nil {
		msg = strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	if msg != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(msg)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Ref == "" && t.Msg == "" && t.Err == nil
}

// New builds an error of the given kind with a message.
func New(kind Kind, op, ref, msg string) *Error {
	return &Error{Kind: kind, Op: op, Ref: ref, Msg: msg}
}

// Wrap builds an error of the given kind around cause. A nil cause returns nil.
func Wrap(kind Kind, op, ref string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Ref: ref, Err: cause}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns a human readable message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
