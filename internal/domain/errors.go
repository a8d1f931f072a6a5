package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrUnauthorized         = errors.New("unauthorized access")
	ErrForbidden            = errors.New("forbidden")
	ErrConflict             = errors.New("resource already exists")
	ErrInternal             = errors.New("internal server error")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotConnected         = errors.New("not connected to chat server")
	ErrNoActiveConversation = errors.New("no conversation selected")
	ErrClientClosed         = errors.New("chat client closed")
)
