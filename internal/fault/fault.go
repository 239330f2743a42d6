// Package fault defines the protocol-level error taxonomy shared by the
// gateway, the delivery protocol, and the call relay. Faults travel back to
// the originating connection only and never mutate other participants' state.
package fault

// Error codes carried on the wire.
const (
	CodeAuthFailed       = "auth_failed"
	CodeNotFound         = "not_found"
	CodePermissionDenied = "permission_denied"
	CodeConflict         = "conflict"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal"
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// AuthFailed rejects a connection before registration.
func AuthFailed(msg string) *Error {
	return &Error{Code: CodeAuthFailed, Message: msg}
}

// NotFound signals an unknown id.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// PermissionDenied signals a non-sender edit/delete or an edit-after-read.
func PermissionDenied(msg string) *Error {
	return &Error{Code: CodePermissionDenied, Message: msg}
}

// Conflict signals a state transition raced by another request, e.g. a second call answer.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// BadRequest signals a malformed or inconsistent payload.
func BadRequest(msg string) *Error {
	return &Error{Code: CodeBadRequest, Message: msg}
}

// Internal signals a persistence or infrastructure failure.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}
