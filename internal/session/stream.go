package session

import (
	"context"
	"sync"
)

// Stream is a lazy, single-pass, non-restartable sequence of response
// chunks. The consumer pulls chunks with Next until it returns false, then
// checks Err. Close terminates early; it cancels the producer, drains the
// remaining chunks, and is safe to call more than once.
//
// A caller that stops pulling MUST call Close, otherwise the session lock
// backing the stream is never released.
type Stream struct {
	ch     chan string
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	finishOnce sync.Once
	onFinish   func(err error)
}

// newStream runs produce in a goroutine. Chunks emitted through emit are
// delivered to the consumer in order; emit fails once the stream is closed.
func newStream(produce func(ctx context.Context, emit func(chunk string) error) error) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		ch:     make(chan string, 16),
		cancel: cancel,
	}

	go func() {
		defer close(s.ch)
		err := produce(ctx, func(chunk string) error {
			select {
			case s.ch <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			s.setErr(err)
		}
	}()

	return s
}

// Next returns the next chunk. ok is false once the sequence is exhausted
// (or failed); check Err afterwards.
func (s *Stream) Next() (chunk string, ok bool) {
	chunk, ok = <-s.ch
	if !ok {
		s.finish()
	}
	return chunk, ok
}

// Err reports the terminal error, if any. Valid after Next returned false
// or after Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close terminates the stream early. The producer is cancelled and the
// channel drained so the producer goroutine always exits.
func (s *Stream) Close() error {
	s.cancel()
	for range s.ch {
	}
	s.finish()
	return s.Err()
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// notifyDone installs a hook invoked exactly once when the consumer is done
// with the stream (drained, failed, or closed early). The registry uses it
// to settle session status and release the execution lock.
func (s *Stream) notifyDone(fn func(err error)) {
	s.onFinish = fn
}

func (s *Stream) finish() {
	s.finishOnce.Do(func() {
		if s.onFinish != nil {
			s.onFinish(s.Err())
		}
	})
}
