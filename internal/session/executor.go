package session

import "context"

// Executor is the opaque backend that performs generation for one session.
// Implementations are not required to be safe for concurrent use; the
// registry serializes all calls through the session's execution lock.
type Executor interface {
	Execute(ctx context.Context, prompt string) (string, error)
	ExecuteStream(ctx context.Context, prompt string) (*Stream, error)
	Cleanup(ctx context.Context) error
}

// HistoryAppender is implemented by executors that expose their message
// history for context injection. Executors without it make InjectContext a
// logged no-op.
type HistoryAppender interface {
	AppendMessage(ctx context.Context, role, content string) error
}

// HistoryClearer is implemented by executors that can wipe conversational
// history while keeping system-level configuration.
type HistoryClearer interface {
	ClearHistory(ctx context.Context) error
}

// BundleSpec identifies an executor composition. Specs with equal cache
// keys share preparation work.
type BundleSpec struct {
	Bundle       string
	Model        string
	SystemPrompt string
	MaxTokens    int64
}

// CacheKey is the composition identity used by the prepared-bundle cache.
func (s BundleSpec) CacheKey() string {
	return s.Bundle + "|" + s.Model
}

// Builder turns a bundle spec into prepared composition state. Preparation
// is the expensive step (client setup, config resolution); the registry
// caches the result per CacheKey for the process lifetime.
type Builder interface {
	Prepare(ctx context.Context, spec BundleSpec) (Prepared, error)
}

// Prepared mints executors for individual sessions.
type Prepared interface {
	NewExecutor(ctx context.Context, sessionID string) (Executor, error)
}
