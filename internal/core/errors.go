package core

import "errors"

// Error codes carried on live-channel error events.
const (
	ErrCodeAuthentication = "authentication_error"
	ErrCodeValidation     = "validation_error"
	ErrCodePersistence    = "persistence_error"
	ErrCodeAuthorization  = "authorization_error"
	ErrCodeAlreadyJoined  = "already_joined"
	ErrCodeNotInRoom      = "not_in_room"
	ErrCodeBadRequest     = "bad_request"
)

var (
	ErrNotInRoom     = errors.New("not in room")
	ErrAlreadyJoined = errors.New("already joined")
	ErrBadRequest    = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
