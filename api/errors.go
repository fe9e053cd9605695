package api

import "fmt"

// DuplicateClientError is returned by Connect when the client id is already
// registered. The caller must pick a new id; the existing session is kept.
type DuplicateClientError struct {
	ClientID string
}

func (e *DuplicateClientError) Error() string {
	return fmt.Sprintf("client %q is already connected", e.ClientID)
}

// UnknownSessionError is returned when a message or control operation names a
// client id with no registered session
type UnknownSessionError struct {
	ClientID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("no session registered for client %q", e.ClientID)
}

// MalformedMessageError is returned when an inbound frame cannot be parsed or
// is missing required fields. No session state changes when it is returned.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}
