package scoring

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"agenthub/internal/store"
	logx "agenthub/pkg/logx"
)

// scoringPrompt is the instruction sent to the scoring session. Custom rules
// are injected between the baseline guidelines and the notification.
const scoringPrompt = `You are an attention controller helping a busy professional manage notifications.

Given a notification, decide if it warrants immediate attention or can wait.

BASELINE PRIORITY GUIDELINES:

PRIORITIZE (score 0.7-1.0):
- Direct mentions of the user by name
- Deadlines, time-sensitive requests ("today", "ASAP", "urgent")
- Decisions being made that need input
- VIP senders (important colleagues, executives)
- Blocking issues or outages

MEDIUM PRIORITY (score 0.4-0.6):
- Work-related discussions that may need attention soon
- Meeting changes or calendar updates
- Questions that might be for the user

LOW PRIORITY (score 0.0-0.3):
- General chat/banter
- FYI messages with no action needed
- System notifications (updates, sync status)
- Marketing/promotional content

%s
CONTEXT:
- Current time: %s

NOTIFICATION:
- App: %s
- From: %s
- Title: %s
- Body: %s
- Conversation: %s

Respond with ONLY a JSON object (no markdown, no explanation):
{"score": 0.0-1.0, "decision": "push|summarize|suppress", "rationale": "brief reason", "tags": ["tag1", "tag2"]}

Rules:
- "push" = interrupt user now (score >= 0.6)
- "summarize" = include in next digest (score 0.3-0.6)
- "suppress" = don't bother user (score < 0.3)
- If content seems truncated, be conservative unless VIP or deadline signals are clear
- Custom rules above OVERRIDE baseline guidelines when they conflict`

// SessionRunner is the slice of the session registry the LLM scorer needs:
// one stateless request/response execution plus a context wipe so successive
// scoring calls don't accumulate history.
type SessionRunner interface {
	Execute(ctx context.Context, sessionID, prompt string) (string, error)
	ClearContext(ctx context.Context, sessionID string) error
}

// LLMScorer evaluates notifications with a model-backed scoring session.
// Any delegate failure is returned to the caller, which falls back to the
// heuristic scorer; unparsable model output degrades to a safe summarize
// result instead of an error.
type LLMScorer struct {
	runner    SessionRunner
	sessionID string
	log       logx.Logger

	mu        sync.Mutex
	rulesPath string
	rules     string
}

func NewLLMScorer(runner SessionRunner, sessionID, rulesPath string, log logx.Logger) *LLMScorer {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &LLMScorer{
		runner:    runner,
		sessionID: sessionID,
		rulesPath: rulesPath,
		log:       log,
	}
	s.ReloadRules()
	return s
}

// ReloadRules re-reads the custom rules file. Missing or unreadable files
// leave scoring on baseline rules only.
func (s *LLMScorer) ReloadRules() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(s.rulesPath) == "" {
		s.rules = ""
		return
	}
	b, err := os.ReadFile(s.rulesPath)
	if err != nil {
		s.log.Warn("failed to load attention rules", logx.String("path", s.rulesPath), logx.Err(err))
		s.rules = ""
		return
	}
	s.rules = string(b)
	s.log.Info("loaded attention rules", logx.String("path", s.rulesPath))
}

// SetRulesPath swaps the rules file and reloads it.
func (s *LLMScorer) SetRulesPath(path string) {
	s.mu.Lock()
	s.rulesPath = path
	s.mu.Unlock()
	s.ReloadRules()
}

// Score runs one scoring call against the session. The session context is
// cleared afterwards (also on error) to keep calls independent.
func (s *LLMScorer) Score(ctx context.Context, n store.Notification, now time.Time) (Result, error) {
	prompt := s.buildPrompt(n, now)

	response, err := s.runner.Execute(ctx, s.sessionID, prompt)

	// Always clear, even after a failed call, to prevent accumulation.
	if cerr := s.runner.ClearContext(ctx, s.sessionID); cerr != nil {
		s.log.Warn("failed to clear scorer context", logx.Err(cerr))
	}

	if err != nil {
		return Result{}, fmt.Errorf("llm scoring: %w", err)
	}
	return s.parseResponse(response), nil
}

func (s *LLMScorer) buildPrompt(n store.Notification, now time.Time) string {
	s.mu.Lock()
	rules := s.rules
	s.mu.Unlock()

	rulesSection := ""
	if rules != "" {
		rulesSection = "USER-SPECIFIC RULES (take precedence over baseline):\n\n" + rules + "\n"
	}

	body := n.Body
	if len(body) > 500 {
		body = body[:500]
	}
	sender := n.Sender
	if sender == "" {
		sender = "Unknown"
	}

	return fmt.Sprintf(scoringPrompt,
		rulesSection,
		now.Format("2006-01-02 15:04 Monday"),
		n.DisplayApp(),
		sender,
		n.Title,
		body,
		n.ConversationHint,
	)
}

func (s *LLMScorer) parseResponse(response string) Result {
	res, ok := decodeResult(response)
	if !ok {
		preview := response
		if len(preview) > 100 {
			preview = preview[:100]
		}
		s.log.Warn("unparsable scorer response", logx.String("response", preview))
		return fallbackResult("could not parse response: " + preview)
	}
	return res
}

func fallbackResult(reason string) Result {
	return Result{
		Score:     0.5,
		Decision:  DecisionSummarize,
		Rationale: "Fallback: " + reason,
		Tags:      []string{"llm-fallback"},
	}
}
