package types

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelRequest selects the model for POST /model.
type ModelRequest struct {
	// Model identifier from GET /models.
	// example: tinyllama-1.1b-chat.Q4_K_M.gguf
	Model string `json:"model" example:"tinyllama-1.1b-chat.Q4_K_M.gguf"`
}

// ChatRequest is the payload for POST /chat.
type ChatRequest struct {
	// User message; surrounding whitespace is trimmed.
	// example: Write a haiku about the ocean.
	Message string `json:"message" example:"Write a haiku about the ocean."`
}

// ChatLine is one NDJSON line of a POST /chat response. Deltas arrive first;
// the final line has Done set and carries the full content or an error.
type ChatLine struct {
	// Text fragment.
	// example: Waves
	Delta string `json:"delta,omitempty" example:"Waves"`
	// Set on the final line.
	Done bool `json:"done,omitempty"`
	// Full assistant reply on the final line.
	Content string `json:"content,omitempty"`
	// Error message on a failed final line.
	Error string `json:"error,omitempty"`
}

// Message is one conversation entry.
type Message struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: hello
	Content string `json:"content" example:"hello"`
}

// Progress is the last engine initialization report.
type Progress struct {
	// Fraction in [0,1].
	// example: 0.42
	Progress float64 `json:"progress" example:"0.42"`
	// example: Waiting for http://127.0.0.1:30001
	Text string `json:"text" example:"Waiting for http://127.0.0.1:30001"`
	// Seconds since loading started.
	// example: 3.2
	TimeElapsed float64 `json:"time_elapsed" example:"3.2"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// example: 1f0c3a5e-8f5e-4f60-9a57-0c6c2f0c6d8e
	SessionID string `json:"session_id"`
	// Model the session targets.
	RequestedModel string `json:"requested_model,omitempty"`
	// Model currently being loaded.
	LoadingModel string `json:"loading_model,omitempty"`
	// Model of the committed engine.
	LoadedModel string `json:"loaded_model,omitempty"`
	// Model queued behind the running load.
	PendingModel string `json:"pending_model,omitempty"`
	Ready        bool   `json:"ready"`
	Loading      bool   `json:"loading"`
	Generating   bool   `json:"generating"`
	// Display label: Ready, Loading model or Not loaded.
	// example: Ready
	Status string `json:"status" example:"Ready"`
	// Display color: success, warning or neutral.
	// example: success
	StatusColor string    `json:"status_color" example:"success"`
	Progress    *Progress `json:"progress,omitempty"`
	// Last load or generation failure.
	Error        string    `json:"error,omitempty"`
	Conversation []Message `json:"conversation"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// AcceptedResponse acknowledges an asynchronous action.
type AcceptedResponse struct {
	// example: accepted
	Status string `json:"status" example:"accepted"`
	// example: tinyllama-1.1b-chat.Q4_K_M.gguf
	Model string `json:"model,omitempty"`
}

// Turn is one recorded user/assistant exchange.
type Turn struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
	// Finish reason reported by the engine, if any.
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Unix seconds.
	CreatedUnix int64 `json:"created_unix"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Turns []Turn `json:"turns"`
}
