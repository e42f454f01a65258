package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthub/internal/eventbus"
	logx "agenthub/pkg/logx"
)

// Registry owns session lifecycle state and per-session mutual exclusion.
//
// One lock per session (not a global lock) maximizes cross-session
// concurrency while guaranteeing intra-session ordering; the executor behind
// a session is assumed non-reentrant. All bookkeeping (the live map, info
// records, the prepared-bundle cache) is guarded by the registry mutex and
// only mutated here.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	infos   map[string]*Info

	// prepared caches composition results per BundleSpec.CacheKey.
	// Entries are never invalidated within the process lifetime.
	prepared map[string]Prepared

	builder Builder
	log     logx.Logger
	bus     eventbus.Bus
}

type entry struct {
	executor Executor

	// execMu is the session's execution lock. Held for the full duration of
	// every execute/inject/clear call and while a stream is being drained.
	execMu sync.Mutex
}

func NewRegistry(builder Builder, log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		entries:  map[string]*entry{},
		infos:    map[string]*Info{},
		prepared: map[string]Prepared{},
		builder:  builder,
		log:      log,
		bus:      bus,
	}
}

// Create builds a session and its backing executor. On executor build
// failure the session stays listable in ERROR status with the failure
// message in metadata, and a CreationError is returned.
func (r *Registry) Create(ctx context.Context, p CreateParams) (string, error) {
	id := strings.TrimSpace(p.SessionID)
	if id == "" {
		id = "session-" + uuid.NewString()
	}

	r.mu.Lock()
	if _, live := r.entries[id]; live {
		r.mu.Unlock()
		return "", ErrAlreadyExists
	}
	if info, seen := r.infos[id]; seen && info.Status == StatusInitializing {
		r.mu.Unlock()
		return "", ErrAlreadyExists
	}
	info := &Info{
		SessionID: id,
		Bundle:    p.Bundle,
		Status:    StatusInitializing,
		CreatedAt: time.Now(),
		Metadata:  map[string]string{},
	}
	r.infos[id] = info
	r.mu.Unlock()

	r.log.Info("creating session", logx.String("session", id), logx.String("bundle", p.Bundle))

	exec, err := r.buildExecutor(ctx, id, p)
	if err != nil {
		r.mu.Lock()
		info.Status = StatusError
		info.Metadata["error"] = err.Error()
		r.mu.Unlock()
		r.log.Error("session creation failed", logx.String("session", id), logx.Err(err))
		return "", &CreationError{SessionID: id, Bundle: p.Bundle, Err: err}
	}

	r.mu.Lock()
	r.entries[id] = &entry{executor: exec}
	info.Status = StatusReady
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionCreated, Data: map[string]string{
			"session_id": id,
			"bundle":     p.Bundle,
		}})
	}
	r.log.Info("session ready", logx.String("session", id))
	return id, nil
}

func (r *Registry) buildExecutor(ctx context.Context, id string, p CreateParams) (Executor, error) {
	spec := BundleSpec{
		Bundle:       p.Bundle,
		SystemPrompt: p.SystemPrompt,
		MaxTokens:    p.MaxTokens,
	}

	r.mu.Lock()
	prep, ok := r.prepared[spec.CacheKey()]
	r.mu.Unlock()

	if !ok {
		var err error
		prep, err = r.builder.Prepare(ctx, spec)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		// A concurrent create may have prepared the same spec; first write wins.
		if existing, dup := r.prepared[spec.CacheKey()]; dup {
			prep = existing
		} else {
			r.prepared[spec.CacheKey()] = prep
		}
		r.mu.Unlock()
	}

	return prep.NewExecutor(ctx, id)
}

// Get returns the live executor handle for a session.
func (r *Registry) Get(sessionID string) (Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.executor, nil
}

// Info returns a snapshot of a session's bookkeeping state. Sessions that
// failed creation stay visible here in ERROR status.
func (r *Registry) Info(sessionID string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[sessionID]
	if !ok {
		return Info{}, ErrNotFound
	}
	return info.clone(), nil
}

// List returns snapshots of every known session, including errored and
// stopped ones.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info.clone())
	}
	return out
}

func (r *Registry) lookup(sessionID string) (*entry, *Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return e, r.infos[sessionID], nil
}

func (r *Registry) setStatus(info *Info, st Status) {
	r.mu.Lock()
	info.Status = st
	info.LastActivity = time.Now()
	r.mu.Unlock()
}

// Execute runs a prompt in the session. Calls against the same session are
// strictly serialized by the execution lock; callers block until the
// current execution completes.
func (r *Registry) Execute(ctx context.Context, sessionID, prompt string) (string, error) {
	e, info, err := r.lookup(sessionID)
	if err != nil {
		return "", err
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	r.setStatus(info, StatusExecuting)

	result, err := e.executor.Execute(ctx, prompt)
	if err != nil {
		r.mu.Lock()
		info.Status = StatusError
		info.Metadata["last_error"] = err.Error()
		r.mu.Unlock()
		return "", &ExecutionError{SessionID: sessionID, Err: err}
	}

	r.mu.Lock()
	info.MessageCount++
	info.Status = StatusReady
	info.LastActivity = time.Now()
	r.mu.Unlock()
	return result, nil
}

// ExecuteStream runs a prompt and returns the response as a lazy chunk
// sequence. The session stays EXECUTING and its lock stays held until the
// stream is fully drained or closed by the caller.
func (r *Registry) ExecuteStream(ctx context.Context, sessionID, prompt string) (*Stream, error) {
	e, info, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	e.execMu.Lock()
	r.setStatus(info, StatusExecuting)

	st, err := e.executor.ExecuteStream(ctx, prompt)
	if err != nil {
		r.mu.Lock()
		info.Status = StatusError
		info.Metadata["last_error"] = err.Error()
		r.mu.Unlock()
		e.execMu.Unlock()
		return nil, &ExecutionError{SessionID: sessionID, Err: err}
	}

	st.notifyDone(func(streamErr error) {
		r.mu.Lock()
		if streamErr != nil {
			info.Status = StatusError
			info.Metadata["last_error"] = streamErr.Error()
		} else {
			info.MessageCount++
			info.Status = StatusReady
		}
		info.LastActivity = time.Now()
		r.mu.Unlock()
		e.execMu.Unlock()
	})
	return st, nil
}

// InjectContext appends a message to the session's history without invoking
// generation. Executors without history support make this a logged no-op.
func (r *Registry) InjectContext(ctx context.Context, sessionID, role, content string) error {
	e, info, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	if app, ok := e.executor.(HistoryAppender); ok {
		if err := app.AppendMessage(ctx, role, content); err != nil {
			return &ExecutionError{SessionID: sessionID, Err: err}
		}
	} else {
		r.log.Warn("executor does not support context injection", logx.String("session", sessionID))
	}

	r.mu.Lock()
	info.LastActivity = time.Now()
	r.mu.Unlock()
	return nil
}

// ClearContext wipes conversational history while preserving system-level
// configuration. Best-effort: it never fails the caller.
func (r *Registry) ClearContext(ctx context.Context, sessionID string) error {
	e, _, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	if cl, ok := e.executor.(HistoryClearer); ok {
		if err := cl.ClearHistory(ctx); err != nil {
			r.log.Warn("clear context failed", logx.String("session", sessionID), logx.Err(err))
		}
	} else {
		r.log.Warn("executor does not support clearing context", logx.String("session", sessionID))
	}
	return nil
}

// Stop removes the session from the live map and cleans up its executor.
// An in-flight execution completes first; cleanup errors are logged, not
// propagated. A second stop reports ErrNotFound.
func (r *Registry) Stop(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.entries, sessionID)
	info := r.infos[sessionID]
	r.mu.Unlock()

	r.log.Info("stopping session", logx.String("session", sessionID))

	// Wait for any in-flight execution; no forced interruption.
	e.execMu.Lock()
	if err := e.executor.Cleanup(ctx); err != nil {
		r.log.Error("session cleanup failed", logx.String("session", sessionID), logx.Err(err))
	}
	e.execMu.Unlock()

	r.mu.Lock()
	info.Status = StatusStopped
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionStopped, Data: map[string]string{
			"session_id": sessionID,
		}})
	}
	return nil
}

// Shutdown stops every live session. Best-effort: it continues past
// individual failures.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.log.Info("shutting down sessions", logx.Int("count", len(ids)))
	for _, id := range ids {
		if err := r.Stop(ctx, id); err != nil {
			r.log.Error("error stopping session", logx.String("session", id), logx.Err(err))
		}
	}
}
