package engine

import "context"

// Factory creates engines bound to a single model.
// Concrete backends (llama.cpp server, spawned llama-server, in-process
// go-llama.cpp) satisfy this interface.
type Factory interface {
	// Create loads modelID and returns a ready engine. onProgress may be
	// called any number of times before Create returns; it may be nil.
	Create(ctx context.Context, modelID string, onProgress func(ProgressReport)) (Engine, error)
}

// Engine is a loaded inference runtime for one model.
type Engine interface {
	// StreamCompletion opens a streaming chat completion over messages.
	StreamCompletion(ctx context.Context, messages []Message) (Stream, error)
	// InterruptGeneration asks the engine to stop the current generation.
	// It does not wait; the open stream ends through its own Recv path.
	InterruptGeneration() error
	// Unload releases the engine and the resources it holds.
	Unload(ctx context.Context) error
}

// Stream is a lazily consumed sequence of completion chunks.
type Stream interface {
	// Recv returns the next chunk, or io.EOF once the stream ended naturally.
	Recv() (Chunk, error)
	// Close releases the stream. Safe to call more than once.
	Close() error
}

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message sent as request payload.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ContentPart is one element of a structured content delta.
type ContentPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// Delta carries at most one content fragment. Content is either a string,
// a []ContentPart, or the decoded JSON form of either (nil when absent).
type Delta struct {
	Role    Role `json:"role,omitempty"`
	Content any  `json:"content,omitempty"`
}

// Chunk is one streamed completion event.
type Chunk struct {
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ProgressReport describes engine initialization progress.
type ProgressReport struct {
	// Progress in [0,1].
	Progress float64 `json:"progress"`
	// Text is a human readable description of the current step.
	Text string `json:"text"`
	// TimeElapsed since Create started, in seconds.
	TimeElapsed float64 `json:"time_elapsed"`
}
