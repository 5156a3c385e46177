package uploader

import (
	"errors"
	"fmt"
)

var (
	// ErrDryRun is returned by Upload when the object was stored and then
	// discarded instead of published.
	ErrDryRun = errors.New("dry run: upload discarded before publishing")

	// ErrUnknownCategory means the category name has no numeric code.
	ErrUnknownCategory = errors.New("unknown category")
)

// AuthError indicates the mirror host refused the login.
type AuthError struct {
	Status  int
	Missing string // Name of the first expected session cookie that was absent
}

func (e *AuthError) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("login failed: cookie %q not set", e.Missing)
	}
	return fmt.Sprintf("login failed: HTTP %d", e.Status)
}

// ProtocolError indicates the remote side no longer looks the way the
// client expects, or the caller asked for something the protocol cannot
// express. These need operator attention rather than a quiet retry.
type ProtocolError struct {
	Step string
	Msg  string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Msg)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RemoteError is a transient failure reported by the mirror host: a non-2xx
// status, an undecodable body or a success flag other than 1.
type RemoteError struct {
	Step   string
	Status int
	Msg    string
}

func (e *RemoteError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Step, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Step, e.Status)
}

// IsAuthError checks if an error is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsProtocolError checks if an error is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsRemoteError checks if an error is a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
