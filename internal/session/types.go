package session

import "time"

// Status is the lifecycle state of a session.
//
// Transitions: INITIALIZING -> READY|ERROR once, READY <-> EXECUTING
// repeatedly, any -> STOPPED (terminal).
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusExecuting    Status = "executing"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// Info is a point-in-time snapshot of a session's bookkeeping state.
// Returned values are copies; mutating them has no effect on the registry.
type Info struct {
	SessionID    string            `json:"session_id"`
	Bundle       string            `json:"bundle"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity,omitzero"`
	MessageCount int               `json:"message_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (i Info) clone() Info {
	cp := i
	if i.Metadata != nil {
		cp.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// CreateParams describes a session to create.
type CreateParams struct {
	// Bundle names the executor composition (model/prompt profile).
	Bundle string

	// SessionID is optional; a uuid-based id is generated when empty.
	SessionID string

	// SystemPrompt and MaxTokens override the bundle defaults.
	SystemPrompt string
	MaxTokens    int64
}
