package sync

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when a sync is triggered for a principal
// that already has a run in flight.
var ErrAlreadyRunning = errors.New("sync already running for principal")

// ErrAttachmentUnavailable indicates the provider reported no payload for
// an attachment. Per-attachment failures never fail the owning message.
var ErrAttachmentUnavailable = errors.New("attachment unavailable")

// CredentialError is terminal for a run: the token is missing, expired,
// rejected, or lacks scope. The operator must reauthenticate the principal.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential error: %s", e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// RemoteServiceError is a transport or provider failure. Terminal during
// listing; isolated and counted per item during fetch and offload.
type RemoteServiceError struct {
	Op  string
	Err error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("remote service error: %s: %v", e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// IsCredentialError reports whether any error in the chain is credential
// related.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
