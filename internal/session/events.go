package session

import "time"

// Event names published by the session.
const (
	EventModelRequested        = "model_requested"
	EventLoadStart             = "load_start"
	EventLoadProgress          = "load_progress"
	EventLoadReady             = "load_ready"
	EventLoadFailed            = "load_failed"
	EventLoadDiscarded         = "load_discarded"
	EventLoadFollowUp          = "load_followup"
	EventUnloadError           = "unload_error"
	EventGenerationStart       = "generation_start"
	EventGenerationDone        = "generation_done"
	EventGenerationFailed      = "generation_failed"
	EventGenerationInterrupted = "generation_interrupted"
	EventConversationReset     = "conversation_reset"
)

// Event represents a session lifecycle event: a name, the model it concerns
// and optional key/values.
type Event struct {
	Name      string         `json:"name"`
	SessionID string         `json:"session_id"`
	ModelID   string         `json:"model_id,omitempty"`
	Time      time.Time      `json:"time"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// EventPublisher receives events from the session. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MultiPublisher fans an event out to every non-nil publisher in order.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
