package fep

import (
	"errors"
	"fmt"
)

// TransactionError is a business decline: a handler or processor determined
// the request must not proceed, and carries the response code to return.
// It is an explicit result, not an exceptional condition; the pipeline maps it
// to a clean decline and still runs its AUDIT stage.
type TransactionError struct {
	// Code is the ISO response code, e.g. "61".
	Code string
	// Reason is a machine-readable detail, e.g. "DAILY_LIMIT_EXCEEDED".
	Reason string
	// Detail is an optional human-oriented elaboration.
	Detail string
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Reason, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Reason, e.Code)
}

// NewTransactionError returns a TransactionError with the given code and
// reason, and a formatted detail.
func NewTransactionError(code, reason, format string, args ...interface{}) *TransactionError {
	return &TransactionError{
		Code:   code,
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// AsTransactionError unwraps a TransactionError from |err|, if present.
func AsTransactionError(err error) (*TransactionError, bool) {
	var te *TransactionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
