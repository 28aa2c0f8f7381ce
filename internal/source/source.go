package source

import (
	"context"
	"errors"
	"fmt"
)

// Placeholder is rendered in place of a header field that is missing or
// cannot be decoded.
const Placeholder = "-"

// AuthError indicates that the mail server rejected the credentials.
// Message is a user-actionable hint suitable for showing verbatim.
type AuthError struct {
	Account string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Account, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// NetworkError covers connection, timeout and protocol-level failures.
// Op names the step that failed (dial, select, search, fetch).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err (or any error in its chain) is a
// NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// Header holds the decoded header metadata of one message.
type Header struct {
	UID     string
	Subject string
	From    string
	Date    string
}

// Session is an authenticated connection with the monitored mailbox
// selected.
type Session interface {
	// ListUIDs returns every message UID in the mailbox, oldest first.
	ListUIDs(ctx context.Context) ([]string, error)

	// FetchHeader returns the header of one message, or nil with a nil
	// error if the message no longer exists.
	FetchHeader(ctx context.Context, uid string) (*Header, error)

	// Close releases the session. It is always safe to call.
	Close() error
}

// Dialer opens sessions against a mail server.
type Dialer interface {
	Open(ctx context.Context, account, secret string) (Session, error)
}
