package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned for malformed secret or key material.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidTimestamp is returned for non-finite or negative timestamps.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrAuthentication is returned when the server rejects a credential.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTokenAlreadyUsed is returned when a claim token is presented after it was consumed.
	ErrTokenAlreadyUsed = errors.New("claim token already used")

	// ErrProtocolState is returned for a key claim call made out of order.
	ErrProtocolState = errors.New("protocol state error")

	// ErrTransport is returned for network and unexpected HTTP failures.
	ErrTransport = errors.New("transport error")

	// ErrEncryption is returned when a cipher precondition is violated
	// or authenticated decryption fails.
	ErrEncryption = errors.New("encryption error")

	// ErrDecode is returned for malformed server responses.
	ErrDecode = errors.New("decode error")

	// ErrUploadRejected is returned when the server answers an upload with an error code.
	ErrUploadRejected = errors.New("upload rejected")

	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// RequestError records the HTTP status of a failed request together with
// the classified error.
type RequestError struct {
	// StatusCode is the HTTP status code returned by the server.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
}

// Unwrap exposes the classified error to errors.Is.
func (e *RequestError) Unwrap() error {
	return e.Err
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidKey, "invalid_key"},
	{ErrInvalidTimestamp, "invalid_timestamp"},
	{ErrAuthentication, "authentication"},
	{ErrTokenAlreadyUsed, "token_already_used"},
	{ErrProtocolState, "protocol_state"},
	{ErrTransport, "transport"},
	{ErrEncryption, "encryption"},
	{ErrDecode, "decode"},
	{ErrUploadRejected, "upload_rejected"},
}

// ErrorKind returns a short label for the class of err, suitable for
// metrics and structured logs. Unclassified errors return "other".
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "other"
}
