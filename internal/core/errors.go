package core

import "errors"

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrSendInFlight       = errors.New("a message is already being sent for this chat")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrNoDocumentSelected = errors.New("document mode is on but no document is selected")
	ErrDocumentModeOff    = errors.New("document mode is off")

	// ErrStaleResponse marks a result superseded by a later user action. It
	// is used internally and never returned from Store methods.
	ErrStaleResponse = errors.New("stale response")
)
