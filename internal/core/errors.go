package core

import "errors"

// Error codes carried on ERROR events.
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotJoined    = "not_joined"
	ErrCodeInternal     = "internal_error"
)

// ErrAuthFailed signals the transport that authentication failed and the
// connection must be closed. Every other failure keeps the connection open.
var ErrAuthFailed = errors.New("authentication failed")
