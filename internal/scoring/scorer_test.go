package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/store"
)

func TestScoreLowPriorityAppShortCircuits(t *testing.T) {
	t.Parallel()
	s := NewScorer(Config{})

	// Even with urgent content, a low-priority app is suppressed outright.
	got := s.Score(store.Notification{
		AppID:   "com.microsoft.store",
		AppName: "Microsoft Store",
		Title:   "URGENT update available",
	})

	assert.InDelta(t, 0.1, got.Score, 1e-9)
	assert.Equal(t, DecisionSuppress, got.Decision)
	assert.Equal(t, []string{"low-priority-app"}, got.Tags)
}

func TestScoreNoSignals(t *testing.T) {
	t.Parallel()
	s := NewScorer(Config{})

	got := s.Score(store.Notification{
		AppID: "com.example.chat",
		Title: "hello there",
	})

	assert.Zero(t, got.Score)
	assert.Equal(t, DecisionSuppress, got.Decision)
	assert.Equal(t, "No special signals detected", got.Rationale)
	assert.Empty(t, got.Tags)
}

func TestScoreSignalCategoriesCountOnce(t *testing.T) {
	t.Parallel()
	s := NewScorer(Config{})

	// Two urgent keywords still contribute a single +0.3.
	got := s.Score(store.Notification{
		AppID: "com.example.chat",
		Title: "urgent and critical",
	})

	assert.InDelta(t, 0.3, got.Score, 1e-9)
	assert.Equal(t, DecisionSummarize, got.Decision)
	assert.Equal(t, []string{"urgent"}, got.Tags)
}

func TestScoreVIPUrgentActionPushes(t *testing.T) {
	t.Parallel()
	s := NewScorer(Config{VIPSenders: []string{"ceo@example.com"}})

	got := s.Score(store.Notification{
		AppID:   "outlook",
		AppName: "Outlook",
		Sender:  "CEO@example.com",
		Title:   "URGENT: please approve the release",
	})

	// vip 0.5 + priority app 0.2 + urgent 0.3 + action 0.2, clamped to 1.0.
	assert.InDelta(t, 1.0, got.Score, 1e-9)
	assert.Equal(t, DecisionPush, got.Decision)
	assert.Contains(t, got.Tags, "vip")
	assert.Contains(t, got.Tags, "priority-app")
	assert.Contains(t, got.Tags, "urgent")
	assert.Contains(t, got.Tags, "action-needed")
	assert.Contains(t, got.Rationale, "VIP sender: CEO@example.com")
}

func TestScoreUserMention(t *testing.T) {
	t.Parallel()
	s := NewScorer(Config{UserAliases: []string{"alex"}})

	got := s.Score(store.Notification{
		AppID: "com.example.chat",
		Title: "ping",
		Body:  "hey Alex, can you look at this sometime",
	})

	assert.InDelta(t, 0.3, got.Score, 1e-9)
	assert.Equal(t, DecisionSummarize, got.Decision)
	assert.Equal(t, []string{"mention"}, got.Tags)
}

func TestUpdateSwapsRules(t *testing.T) {
	t.Parallel()
	s := NewScorer(Config{})

	before := s.Score(store.Notification{AppID: "x", Sender: "boss@corp.test", Title: "hi"})
	require.Equal(t, DecisionSuppress, before.Decision)

	s.Update(Config{VIPSenders: []string{"boss@corp.test"}, PushThreshold: 0.5})

	after := s.Score(store.Notification{AppID: "x", Sender: "boss@corp.test", Title: "hi"})
	assert.Equal(t, DecisionPush, after.Decision)
	assert.InDelta(t, 0.5, after.Score, 1e-9)
}

func TestDecideThresholds(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()

	cases := []struct {
		score float64
		want  string
	}{
		{0.0, DecisionSuppress},
		{0.29, DecisionSuppress},
		{0.3, DecisionSummarize},
		{0.59, DecisionSummarize},
		{0.6, DecisionPush},
		{1.0, DecisionPush},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cfg.decide(tc.score), "score %v", tc.score)
	}
}
