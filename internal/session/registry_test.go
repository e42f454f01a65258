package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "agenthub/pkg/logx"
)

type failingBuilder struct{}

func (failingBuilder) Prepare(context.Context, BundleSpec) (Prepared, error) {
	return nil, errors.New("bundle not found")
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(MockBuilder{}, logx.Nop(), nil)
}

func TestCreateAndExecute(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create(ctx, CreateParams{Bundle: "assistant"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "session-"), "generated id: %s", id)

	info, err := r.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, info.Status)
	assert.Equal(t, "assistant", info.Bundle)
	assert.Zero(t, info.MessageCount)

	resp, err := r.Execute(ctx, id, "hello")
	require.NoError(t, err)
	assert.Equal(t, "[mock:assistant] Received: hello", resp)

	info, err = r.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, info.Status)
	assert.Equal(t, 1, info.MessageCount)
	assert.False(t, info.LastActivity.IsZero())
}

func TestCreateExplicitIDConflict(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create(ctx, CreateParams{Bundle: "assistant", SessionID: "main"})
	require.NoError(t, err)
	assert.Equal(t, "main", id)

	_, err = r.Create(ctx, CreateParams{Bundle: "assistant", SessionID: "main"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateFailureLeavesErrorRecord(t *testing.T) {
	t.Parallel()
	r := NewRegistry(failingBuilder{}, logx.Nop(), nil)
	ctx := context.Background()

	_, err := r.Create(ctx, CreateParams{Bundle: "missing", SessionID: "broken"})
	require.Error(t, err)

	var cerr *CreationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "broken", cerr.SessionID)

	// The failed session stays listable in error state with the cause.
	info, err := r.Info("broken")
	require.NoError(t, err)
	assert.Equal(t, StatusError, info.Status)
	assert.Contains(t, info.Metadata["error"], "bundle not found")

	// But it is not live.
	_, err = r.Get("broken")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteUnknownSession(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Execute(context.Background(), "nope", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStopLifecycle(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create(ctx, CreateParams{Bundle: "assistant"})
	require.NoError(t, err)

	require.NoError(t, r.Stop(ctx, id))

	_, err = r.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)

	info, err := r.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, info.Status)

	// Stopping again reports not found.
	assert.ErrorIs(t, r.Stop(ctx, id), ErrNotFound)
}

func TestInjectAndClearContext(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create(ctx, CreateParams{Bundle: "assistant"})
	require.NoError(t, err)

	require.NoError(t, r.InjectContext(ctx, id, "user", "remember this"))

	exec, err := r.Get(id)
	require.NoError(t, err)
	mock := exec.(*MockExecutor)
	assert.Equal(t, 1, mock.MessageCount())

	require.NoError(t, r.ClearContext(ctx, id))
	assert.Zero(t, mock.MessageCount())
}

func TestStreamDrainSettlesSession(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create(ctx, CreateParams{Bundle: "assistant"})
	require.NoError(t, err)

	st, err := r.ExecuteStream(ctx, id, "stream me")
	require.NoError(t, err)

	info, err := r.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, info.Status)

	var sb strings.Builder
	for {
		chunk, ok := st.Next()
		if !ok {
			break
		}
		sb.WriteString(chunk)
	}
	require.NoError(t, st.Err())
	assert.Contains(t, sb.String(), "[mock:assistant]")

	info, err = r.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, info.Status)
	assert.Equal(t, 1, info.MessageCount)
}

func TestStreamEarlyCloseReleasesLock(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create(ctx, CreateParams{Bundle: "assistant"})
	require.NoError(t, err)

	st, err := r.ExecuteStream(ctx, id, "a long response with several words to stream")
	require.NoError(t, err)

	_, ok := st.Next()
	require.True(t, ok)
	require.NoError(t, st.Close())

	// The execution lock is free again: a plain Execute must not deadlock.
	_, err = r.Execute(ctx, id, "after close")
	require.NoError(t, err)
}

func TestShutdownStopsEverything(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	for _, sid := range []string{"a", "b", "c"} {
		_, err := r.Create(ctx, CreateParams{Bundle: "assistant", SessionID: sid})
		require.NoError(t, err)
	}

	r.Shutdown(ctx)

	for _, info := range r.List() {
		assert.Equal(t, StatusStopped, info.Status)
	}
}

// slowBuilder mints executors that take a moment per prompt and track how
// many executions run at the same time.
type slowBuilder struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (b *slowBuilder) Prepare(context.Context, BundleSpec) (Prepared, error) {
	return slowPrepared{b: b}, nil
}

type slowPrepared struct{ b *slowBuilder }

func (p slowPrepared) NewExecutor(context.Context, string) (Executor, error) {
	return &slowExecutor{b: p.b}, nil
}

type slowExecutor struct{ b *slowBuilder }

func (e *slowExecutor) Execute(context.Context, string) (string, error) {
	n := e.b.inFlight.Add(1)
	defer e.b.inFlight.Add(-1)
	for {
		cur := e.b.maxSeen.Load()
		if n <= cur || e.b.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "done", nil
}

func (e *slowExecutor) ExecuteStream(ctx context.Context, prompt string) (*Stream, error) {
	resp, err := e.Execute(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return newStream(func(ctx context.Context, emit func(string) error) error {
		return emit(resp)
	}), nil
}

func (e *slowExecutor) Cleanup(context.Context) error { return nil }

func TestExecuteSerializedPerSession(t *testing.T) {
	t.Parallel()
	b := &slowBuilder{}
	r := NewRegistry(b, logx.Nop(), nil)
	ctx := context.Background()

	id, err := r.Create(ctx, CreateParams{Bundle: "assistant"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, execErr := r.Execute(ctx, id, "ping")
			assert.NoError(t, execErr)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.maxSeen.Load(), "executions on one session overlapped")

	info, err := r.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, info.Status)
	assert.Equal(t, 8, info.MessageCount)
}
