package session

import "errors"

var (
	// ErrNotReady is returned by SendMessage when no engine is committed.
	ErrNotReady = errors.New("model is not loaded yet")
	// ErrNoModel is returned by Load when no model has been requested.
	ErrNoModel = errors.New("no model requested")
	// ErrClosed is returned by Load after Close.
	ErrClosed = errors.New("session closed")
)

// IsNotReady reports whether err indicates a send without a ready engine.
func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }

// loadError wraps a factory failure for the requested model.
type loadError struct {
	modelID string
	err     error
}

func (e loadError) Error() string { return "load model " + e.modelID + ": " + e.err.Error() }
func (e loadError) Unwrap() error { return e.err }

// IsLoadFailure reports whether err came from a failed engine creation.
func IsLoadFailure(err error) bool {
	var le loadError
	return errors.As(err, &le)
}

// generationError wraps a failure to open or consume a completion stream.
type generationError struct{ err error }

func (e generationError) Error() string { return "generate response: " + e.err.Error() }
func (e generationError) Unwrap() error { return e.err }

// IsGenerationFailure reports whether err came from a failed generation.
func IsGenerationFailure(err error) bool {
	var ge generationError
	return errors.As(err, &ge)
}

// Messages recorded in the session error field.
const (
	loadFailedPrefix = "Failed to load model: "
	genFailedPrefix  = "Failed to generate response: "
)
