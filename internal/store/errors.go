package store

import "errors"

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMemoryNotFound is returned when a memory item id is unknown.
	ErrMemoryNotFound = errors.New("memory item not found")
)
