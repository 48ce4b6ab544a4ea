// Package session coordinates one chat session against a swappable local
// inference engine. It is split by concern:
//
//   - session.go: Session type, constructor, Snapshot/Status and Close.
//   - coordinator.go: RequestModel and Load, the model lifecycle.
//   - conversation.go: SendMessage, Interrupt and Reset.
//   - errors.go: error values and helpers (IsNotReady, IsLoadFailure, ...).
//   - events.go, eventpub_*.go: lifecycle events and publishers.
//   - metrics.go: Prometheus collectors.
//
// All state lives behind one mutex that is never held across engine calls.
// Work that resumes after an engine call re-checks a token (the target
// sequence for loads, the generation pointer for streams) and drops its
// result when it has been superseded.
package session
