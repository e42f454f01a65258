package scoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/store"
	logx "agenthub/pkg/logx"
)

type fakeRunner struct {
	response string
	execErr  error

	prompts []string
	clears  int
}

func (f *fakeRunner) Execute(_ context.Context, _ string, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.execErr
}

func (f *fakeRunner) ClearContext(context.Context, string) error {
	f.clears++
	return nil
}

func TestLLMScoreParsesResponse(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{response: `{"score": 0.9, "decision": "push", "rationale": "deadline from VIP", "tags": ["vip"]}`}
	s := NewLLMScorer(runner, "scorer", "", logx.Nop())

	got, err := s.Score(context.Background(), store.Notification{
		AppID: "outlook",
		Title: "Q3 numbers due today",
	}, time.Now())
	require.NoError(t, err)

	assert.InDelta(t, 0.9, got.Score, 1e-9)
	assert.Equal(t, DecisionPush, got.Decision)
	assert.Equal(t, 1, runner.clears, "context must be cleared after every call")
}

func TestLLMScoreUnparsableFallsBack(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{response: "I think you should look at this one."}
	s := NewLLMScorer(runner, "scorer", "", logx.Nop())

	got, err := s.Score(context.Background(), store.Notification{AppID: "x", Title: "t"}, time.Now())
	require.NoError(t, err)

	assert.InDelta(t, 0.5, got.Score, 1e-9)
	assert.Equal(t, DecisionSummarize, got.Decision)
	assert.True(t, strings.HasPrefix(got.Rationale, "Fallback: "))
	assert.Equal(t, []string{"llm-fallback"}, got.Tags)
}

func TestLLMScoreExecuteErrorPropagates(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{execErr: errors.New("session gone")}
	s := NewLLMScorer(runner, "scorer", "", logx.Nop())

	_, err := s.Score(context.Background(), store.Notification{AppID: "x", Title: "t"}, time.Now())
	require.Error(t, err)
	assert.Equal(t, 1, runner.clears, "context cleared even on failure")
}

func TestLLMPromptContents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rulesFile := filepath.Join(dir, "rules.md")
	require.NoError(t, os.WriteFile(rulesFile, []byte("- Always push messages from Jordan"), 0o644))

	runner := &fakeRunner{response: `{"score": 0.1, "decision": "suppress"}`}
	s := NewLLMScorer(runner, "scorer", rulesFile, logx.Nop())

	longBody := strings.Repeat("b", 600)
	_, err := s.Score(context.Background(), store.Notification{
		AppID:   "com.slack",
		AppName: "Slack",
		Title:   "standup",
		Body:    longBody,
		Sender:  "",
	}, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, runner.prompts, 1)

	prompt := runner.prompts[0]
	assert.Contains(t, prompt, "Always push messages from Jordan")
	assert.Contains(t, prompt, "2026-03-02 09:30 Monday")
	assert.Contains(t, prompt, "App: Slack")
	assert.Contains(t, prompt, "From: Unknown", "empty sender renders as Unknown")
	assert.NotContains(t, prompt, longBody, "body is truncated to 500 chars")
	assert.Contains(t, prompt, strings.Repeat("b", 500))
}
