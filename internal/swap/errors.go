package swap

import (
	"context"
	"errors"
)

// Failure kinds reported on a Result. Each maps to one sentinel below.
const (
	KindNone                = ""
	KindInvalidInput        = "InvalidInput"
	KindInsufficientFunds   = "InsufficientFunds"
	KindNoRoute             = "NoRoute"
	KindQuoteUnavailable    = "QuoteUnavailable"
	KindSubmissionFailed    = "SubmissionFailed"
	KindConfirmationTimeout = "ConfirmationTimeout"
	KindUnknown             = "Unknown"
	KindReverted            = "Reverted"
)

var (
	ErrInvalidInput        = errors.New("invalid swap input")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrNoRoute             = errors.New("no route for pair")
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrSubmissionFailed    = errors.New("transaction rejected before inclusion")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrOutcomeUnknown      = errors.New("transaction outcome unknown")
	ErrReverted            = errors.New("transaction reverted")
)

// KindOf maps an error from the pipeline to its failure kind.
func KindOf(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrNoRoute):
		return KindNoRoute
	case errors.Is(err, ErrQuoteUnavailable):
		return KindQuoteUnavailable
	case errors.Is(err, ErrConfirmationTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindConfirmationTimeout
	case errors.Is(err, ErrOutcomeUnknown):
		return KindUnknown
	case errors.Is(err, ErrReverted):
		return KindReverted
	case errors.Is(err, ErrSubmissionFailed):
		return KindSubmissionFailed
	default:
		return KindSubmissionFailed
	}
}
