package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockBuilder builds canned-response executors. It is the fallback backend
// when no model credentials are configured, and the default test double.
type MockBuilder struct{}

func (MockBuilder) Prepare(_ context.Context, spec BundleSpec) (Prepared, error) {
	return mockPrepared{spec: spec}, nil
}

type mockPrepared struct{ spec BundleSpec }

func (p mockPrepared) NewExecutor(_ context.Context, sessionID string) (Executor, error) {
	return NewMockExecutor(sessionID, p.spec.Bundle), nil
}

// MockExecutor records prompts and answers with a canned response. It
// supports the optional history interfaces so injection and clearing can be
// exercised without a real backend.
type MockExecutor struct {
	sessionID string
	bundle    string

	mu       sync.Mutex
	messages []mockMessage
}

type mockMessage struct {
	role    string
	content string
}

func NewMockExecutor(sessionID, bundle string) *MockExecutor {
	return &MockExecutor{sessionID: sessionID, bundle: bundle}
}

func (m *MockExecutor) Execute(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, mockMessage{role: "user", content: prompt})
	preview := prompt
	if len(preview) > 100 {
		preview = preview[:100]
	}
	response := fmt.Sprintf("[mock:%s] Received: %s", m.bundle, preview)
	m.messages = append(m.messages, mockMessage{role: "assistant", content: response})
	return response, nil
}

func (m *MockExecutor) ExecuteStream(ctx context.Context, prompt string) (*Stream, error) {
	response, err := m.Execute(ctx, prompt)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(response)
	return newStream(func(ctx context.Context, emit func(string) error) error {
		for _, w := range words {
			if err := emit(w + " "); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func (m *MockExecutor) AppendMessage(_ context.Context, role, content string) error {
	m.mu.Lock()
	m.messages = append(m.messages, mockMessage{role: role, content: content})
	m.mu.Unlock()
	return nil
}

func (m *MockExecutor) ClearHistory(_ context.Context) error {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
	return nil
}

func (m *MockExecutor) Cleanup(context.Context) error { return nil }

// MessageCount reports recorded history length (test hook).
func (m *MockExecutor) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
