// Package apperr defines the error taxonomy shared by the broadcast services.
// Components wrap these sentinels with context; callers match with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound is returned for an unknown stream, session, message or notification.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for an event the lifecycle does not allow from the current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrImmutableWhileLive is returned when a Live stream is edited.
	ErrImmutableWhileLive = errors.New("stream is live and cannot be edited")
	// ErrImmutableAfterEnd is returned when an ended or cancelled stream is edited.
	ErrImmutableAfterEnd = errors.New("stream has finished and cannot be edited")
	// ErrUnauthorized covers rejected publish attempts and missing moderation rights.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDeliveryFailed is returned by a notification channel that could not accept a message.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrConflict is returned when a create collides with a unique key.
	ErrConflict = errors.New("conflict")
	// ErrNotLive is returned by operations that need a Live stream.
	ErrNotLive = errors.New("stream is not live")
	// ErrInvalidInput is returned for validation failures.
	ErrInvalidInput = errors.New("invalid input")
)
