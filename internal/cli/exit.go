package cli

import (
	"errors"

	"github.com/jnoller/racer/internal/apperr"
	"github.com/jnoller/racer/pkg/api/client"
)

// Exit codes shared by both command lines.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitValidation  = 2
	ExitNotFound    = 3
	ExitAmbiguous   = 4
	ExitRuntime     = 5
	ExitSource      = 6
	ExitConsistency = 7
)

// UsageError marks a bad invocation caught before any request is sent.
type UsageError struct{ Msg string }

func (e UsageError) Error() string { return e.Msg }

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var usage UsageError
	if errors.As(err, &usage) {
		return ExitValidation
	}
	kind := client.KindOf(err)
	if kind == "" {
		kind = apperr.KindOf(err)
	}
	switch kind {
	case apperr.KindValidation:
		return ExitValidation
	case apperr.KindNotFound:
		return ExitNotFound
	case apperr.KindAmbiguous:
		return ExitAmbiguous
	case apperr.KindRuntime:
		return ExitRuntime
	case apperr.KindSource:
		return ExitSource
	case apperr.KindConsistency:
		return ExitConsistency
	default:
		return ExitFailure
	}
}
