package types

import (
	"fmt"
)

// ErrorCode is the stable identifier consumed by the UI to render error
// messaging. Codes never change once shipped; the front end keys its
// translations off them.
type ErrorCode string

const (
	CodeAuthenticationRequired ErrorCode = "AUTHENTICATION_REQUIRED"
	CodeInvalidCredentials     ErrorCode = "INVALID_CREDENTIALS"
	CodeDecryptionFailed       ErrorCode = "DECRYPTION_FAILED"
	CodeDuplicateAccount       ErrorCode = "DUPLICATE_ACCOUNT"
	CodeNotFound               ErrorCode = "NOT_FOUND"
	CodeUserRejected           ErrorCode = "USER_REJECTED"
	CodeRequestTimeout         ErrorCode = "REQUEST_TIMEOUT"
	CodeUpstreamFailure        ErrorCode = "UPSTREAM_FAILURE"
)

// WalletError is a typed protocol failure. The cause, when present, is kept
// for diagnostics only and is never sent across the protocol boundary.
type WalletError struct {
	Code  ErrorCode
	cause error
}

func (e *WalletError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.cause)
	}
	return string(e.Code)
}

func (e *WalletError) Unwrap() error { return e.cause }

// Is matches on code so wrapped upstream causes still compare equal to the
// package sentinels below.
func (e *WalletError) Is(target error) bool {
	t, ok := target.(*WalletError)
	return ok && t.Code == e.Code
}

var (
	ErrAuthenticationRequired = &WalletError{Code: CodeAuthenticationRequired}
	ErrInvalidCredentials     = &WalletError{Code: CodeInvalidCredentials}
	ErrDecryptionFailed       = &WalletError{Code: CodeDecryptionFailed}
	ErrDuplicateAccount       = &WalletError{Code: CodeDuplicateAccount}
	ErrNotFound               = &WalletError{Code: CodeNotFound}
	ErrUserRejected           = &WalletError{Code: CodeUserRejected}
	ErrRequestTimeout         = &WalletError{Code: CodeRequestTimeout}
)

// UpstreamFailure wraps a signing/broadcast provider error. The opaque cause
// survives for logs; the wire only ever sees the code.
func UpstreamFailure(cause error) *WalletError {
	return &WalletError{Code: CodeUpstreamFailure, cause: cause}
}
