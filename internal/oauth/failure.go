package oauth

import (
	"errors"
	"fmt"

	"github.com/ieraasyl/ConnectService/internal/session"
)

// Reason is why a flow ended in FAILED. It is surfaced to the UI as the
// error query parameter of the callback redirect.
type Reason string

const (
	ReasonNotAuthenticated    Reason = "not_authenticated"
	ReasonUnknownProvider     Reason = "unknown_provider"
	ReasonUserDenied          Reason = "user_denied"
	ReasonMissingParameters   Reason = "missing_parameters"
	ReasonInvalidState        Reason = "invalid_state"
	ReasonTokenMismatch       Reason = "token_mismatch"
	ReasonOAuthFailed         Reason = "oauth_failed"
	ReasonUserInfoFailed      Reason = "user_info_failed"
	ReasonPersistFailed       Reason = "persist_failed"
	ReasonAccountMismatch     Reason = "account_mismatch"
	ReasonSessionUpdateFailed Reason = "session_update_failed"
)

// Kind maps a reason onto the error taxonomy used in logs and metrics.
func (r Reason) Kind() string {
	switch r {
	case ReasonNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case ReasonUserDenied:
		return "USER_DENIED"
	case ReasonMissingParameters:
		return "MISSING_PARAMETERS"
	case ReasonInvalidState, ReasonTokenMismatch:
		return "INVALID_STATE"
	case ReasonOAuthFailed:
		return "TOKEN_EXCHANGE_FAILED"
	case ReasonUserInfoFailed:
		return "USER_INFO_FAILED"
	case ReasonPersistFailed, ReasonAccountMismatch:
		return "PERSIST_FAILED"
	case ReasonSessionUpdateFailed:
		return "SESSION_UPDATE_FAILED"
	}
	return "UNKNOWN"
}

// Failure is a flow that ended in FAILED.
type Failure struct {
	Reason   Reason
	Provider string
	Intent   session.Intent
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("oauth %s: %s: %v", f.Provider, f.Reason, f.Err)
	}
	return fmt.Sprintf("oauth %s: %s", f.Provider, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// ReasonOf returns the failure reason carried by err, or oauth_failed.
func ReasonOf(err error) Reason {
	if f, ok := AsFailure(err); ok {
		return f.Reason
	}
	return ReasonOAuthFailed
}
