package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDeliversChunksInOrder(t *testing.T) {
	t.Parallel()
	st := newStream(func(_ context.Context, emit func(string) error) error {
		for _, c := range []string{"a", "b", "c"} {
			if err := emit(c); err != nil {
				return err
			}
		}
		return nil
	})

	var got []string
	for {
		chunk, ok := st.Next()
		if !ok {
			break
		}
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.NoError(t, st.Err())
}

func TestStreamProducerError(t *testing.T) {
	t.Parallel()
	boom := errors.New("backend failed")
	st := newStream(func(_ context.Context, emit func(string) error) error {
		if err := emit("partial"); err != nil {
			return err
		}
		return boom
	})

	chunk, ok := st.Next()
	require.True(t, ok)
	assert.Equal(t, "partial", chunk)

	_, ok = st.Next()
	require.False(t, ok)
	assert.ErrorIs(t, st.Err(), boom)
}

func TestStreamCloseCancelsProducer(t *testing.T) {
	t.Parallel()
	stopped := make(chan struct{})
	st := newStream(func(ctx context.Context, emit func(string) error) error {
		defer close(stopped)
		for i := 0; ; i++ {
			if err := emit("x"); err != nil {
				return err
			}
		}
	})

	_, ok := st.Next()
	require.True(t, ok)
	require.NoError(t, st.Close())

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer goroutine did not exit after Close")
	}

	// Close is idempotent.
	assert.NoError(t, st.Close())
}

func TestStreamNotifyDoneFiresOnce(t *testing.T) {
	t.Parallel()
	st := newStream(func(_ context.Context, emit func(string) error) error {
		return emit("only")
	})

	calls := 0
	st.notifyDone(func(error) { calls++ })

	for {
		if _, ok := st.Next(); !ok {
			break
		}
	}
	_ = st.Close()

	assert.Equal(t, 1, calls)
}
