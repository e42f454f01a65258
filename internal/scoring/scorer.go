package scoring

import (
	"strings"
	"sync"

	"agenthub/internal/store"
)

// Decision is the triage outcome for a notification.
const (
	DecisionPush      = "push"
	DecisionSummarize = "summarize"
	DecisionSuppress  = "suppress"
)

// Result of scoring a notification.
type Result struct {
	Score     float64  `json:"score"`
	Decision  string   `json:"decision"`
	Rationale string   `json:"rationale"`
	Tags      []string `json:"tags,omitempty"`
}

// Config holds the scoring rules. Lists left nil fall back to the built-in
// defaults; zero thresholds fall back to 0.6 (push) and 0.3 (summarize).
type Config struct {
	VIPSenders      []string
	UserAliases     []string
	UrgentKeywords  []string
	ActionKeywords  []string
	PriorityApps    []string
	LowPriorityApps []string

	PushThreshold      float64
	SummarizeThreshold float64
}

func defaultUrgentKeywords() []string {
	return []string{
		"urgent", "asap", "immediately", "critical", "emergency",
		"deadline", "today", "now", "important", "action required",
		"blocking", "blocked", "p0", "p1", "outage", "down",
	}
}

func defaultActionKeywords() []string {
	return []string{
		"approve", "review", "sign", "decision", "confirm",
		"reply", "respond", "answer", "vote", "choose",
	}
}

func defaultPriorityApps() []string {
	return []string{"Microsoft Teams", "Outlook", "Microsoft Outlook"}
}

func defaultLowPriorityApps() []string {
	return []string{
		"Snipping Tool", "Phone Link", "Windows Security",
		"Microsoft Store", "Settings",
	}
}

func (c Config) withDefaults() Config {
	if c.UrgentKeywords == nil {
		c.UrgentKeywords = defaultUrgentKeywords()
	}
	if c.ActionKeywords == nil {
		c.ActionKeywords = defaultActionKeywords()
	}
	if c.PriorityApps == nil {
		c.PriorityApps = defaultPriorityApps()
	}
	if c.LowPriorityApps == nil {
		c.LowPriorityApps = defaultLowPriorityApps()
	}
	if c.PushThreshold <= 0 {
		c.PushThreshold = 0.6
	}
	if c.SummarizeThreshold <= 0 {
		c.SummarizeThreshold = 0.3
	}
	return c
}

// Scorer is the deterministic heuristic scorer. Safe for concurrent use;
// the rule set can be swapped at runtime.
type Scorer struct {
	mu  sync.RWMutex
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

// Update replaces the rule set.
func (s *Scorer) Update(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Rules returns the active rule set.
func (s *Scorer) Rules() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Score rates a notification from 0.0 (ignore) to 1.0 (critical).
//
// Low-priority apps short-circuit to suppress. Otherwise each signal
// category contributes at most once: VIP sender +0.5, priority app +0.2,
// user mention +0.3, urgent keyword +0.3, action keyword +0.2; the sum is
// clamped to 1.0 and mapped to a decision via the configured thresholds.
func (s *Scorer) Score(n store.Notification) Result {
	cfg := s.Rules()

	appName := n.AppName
	if appName == "" {
		appName = n.AppID
	}
	content := strings.ToLower(n.Title + " " + n.Body)
	sender := strings.ToLower(n.Sender)

	for _, low := range cfg.LowPriorityApps {
		if containsFold(appName, low) {
			return Result{
				Score:     0.1,
				Decision:  DecisionSuppress,
				Rationale: "Low-priority app: " + appName,
				Tags:      []string{"low-priority-app"},
			}
		}
	}

	score := 0.0
	var tags, reasons []string

	for _, vip := range cfg.VIPSenders {
		if vip != "" && strings.Contains(sender, strings.ToLower(vip)) {
			score += 0.5
			tags = append(tags, "vip")
			reasons = append(reasons, "VIP sender: "+n.Sender)
			break
		}
	}

	for _, app := range cfg.PriorityApps {
		if containsFold(appName, app) {
			score += 0.2
			tags = append(tags, "priority-app")
			reasons = append(reasons, "Priority app: "+appName)
			break
		}
	}

	for _, alias := range cfg.UserAliases {
		if alias != "" && strings.Contains(content, strings.ToLower(alias)) {
			score += 0.3
			tags = append(tags, "mention")
			reasons = append(reasons, "Mentioned: "+alias)
			break
		}
	}

	for _, kw := range cfg.UrgentKeywords {
		if kw != "" && strings.Contains(content, strings.ToLower(kw)) {
			score += 0.3
			tags = append(tags, "urgent")
			reasons = append(reasons, "Urgent keyword: "+kw)
			break
		}
	}

	for _, kw := range cfg.ActionKeywords {
		if kw != "" && strings.Contains(content, strings.ToLower(kw)) {
			score += 0.2
			tags = append(tags, "action-needed")
			reasons = append(reasons, "Action keyword: "+kw)
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	rationale := "No special signals detected"
	if len(reasons) > 0 {
		rationale = strings.Join(reasons, "; ")
	}

	return Result{
		Score:     score,
		Decision:  cfg.decide(score),
		Rationale: rationale,
		Tags:      tags,
	}
}

func (c Config) decide(score float64) string {
	switch {
	case score >= c.PushThreshold:
		return DecisionPush
	case score >= c.SummarizeThreshold:
		return DecisionSummarize
	default:
		return DecisionSuppress
	}
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// clampDecision validates a decision string, defaulting to summarize.
func clampDecision(d string) string {
	switch d {
	case DecisionPush, DecisionSummarize, DecisionSuppress:
		return d
	default:
		return DecisionSummarize
	}
}

// clampScore forces a score into [0, 1].
func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
