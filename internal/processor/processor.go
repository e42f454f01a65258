package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"agenthub/internal/device"
	"agenthub/internal/eventbus"
	"agenthub/internal/scoring"
	"agenthub/internal/store"
	logx "agenthub/pkg/logx"
)

var (
	// ErrQueueFull is returned by Enqueue when the work queue is at capacity.
	// Callers should surface this as backpressure rather than block.
	ErrQueueFull = errors.New("processor: queue full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("processor: stopped")
)

// Config controls the triage worker.
type Config struct {
	// QueueSize bounds the in-memory work queue. Defaults to 256.
	QueueSize int
	// PollInterval is how often the worker sweeps the store for
	// unprocessed rows missed by the queue. Defaults to 1s.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Service consumes ingested notifications, scores them, persists the
// triage outcome and pushes the ones that matter to connected devices.
//
// The queue is non-durable: unprocessed rows survive a restart in the
// store and are picked up by the periodic sweep, but each row is scored
// at most once per enqueue.
type Service struct {
	cfg     Config
	db      store.Store
	rules   *scoring.Scorer
	llm     *scoring.LLMScorer
	devices *device.Registry
	bus     eventbus.Bus
	log     logx.Logger

	useLLM atomic.Bool

	queue    chan int64
	stopCh   chan struct{}
	stopDone chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func New(cfg Config, db store.Store, rules *scoring.Scorer, llm *scoring.LLMScorer, devices *device.Registry, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg,
		db:       db,
		rules:    rules,
		llm:      llm,
		devices:  devices,
		bus:      bus,
		log:      log,
		queue:    make(chan int64, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	s.useLLM.Store(llm != nil)
	return s
}

// EnableLLM toggles the LLM scoring path at runtime. It has no effect
// when the service was built without an LLM scorer.
func (s *Service) EnableLLM(on bool) {
	s.useLLM.Store(on && s.llm != nil)
}

// UpdateRules swaps the heuristic rule set.
func (s *Service) UpdateRules(cfg scoring.Config) {
	s.rules.Update(cfg)
	if s.llm != nil {
		s.llm.ReloadRules()
	}
}

// Rules returns the active heuristic rule set.
func (s *Service) Rules() scoring.Config { return s.rules.Rules() }

// Enqueue hands a stored notification id to the worker. It never blocks.
func (s *Service) Enqueue(id int64) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}
	select {
	case s.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker goroutine.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("processor: already started")
	}
	go s.run(ctx)
	s.log.Info("processor started",
		logx.Int("queue_size", s.cfg.QueueSize),
		logx.Bool("llm", s.useLLM.Load()))
	return nil
}

// Stop signals the worker and waits for it to drain, or for ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.stopDone)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-s.queue:
			s.processOne(ctx, id)
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep picks up unprocessed rows that never made it onto the queue,
// for example after a restart or a burst that overflowed it.
func (s *Service) sweep(ctx context.Context) {
	rows, err := s.db.GetRecent(ctx, store.Filters{UnprocessedOnly: true, Limit: 50})
	if err != nil {
		s.log.Warn("sweep query failed", logx.Err(err))
		return
	}
	for _, n := range rows {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		s.process(ctx, n)
	}
}

func (s *Service) processOne(ctx context.Context, id int64) {
	n, err := s.db.GetByID(ctx, id)
	if err != nil {
		s.log.Warn("notification lookup failed", logx.Int64("id", id), logx.Err(err))
		return
	}
	if n.Processed {
		return
	}
	s.process(ctx, n)
}

func (s *Service) process(ctx context.Context, n store.Notification) {
	result := s.score(ctx, n)

	if err := s.db.MarkProcessed(ctx, n.ID, result.Score, result.Decision, result.Rationale); err != nil {
		s.log.Error("mark processed failed", logx.Int64("id", n.ID), logx.Err(err))
		return
	}

	s.log.Info("notification triaged",
		logx.Int64("id", n.ID),
		logx.String("app", n.DisplayApp()),
		logx.Float64("score", result.Score),
		logx.String("decision", result.Decision))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationProcessed, Data: map[string]any{
			"id":       n.ID,
			"app":      n.DisplayApp(),
			"score":    result.Score,
			"decision": result.Decision,
		}})
	}

	if result.Decision == scoring.DecisionPush {
		s.push(n, result)
	}
}

// score runs the LLM path when enabled, falling back to the heuristic on
// any delegate error so a flaky model never stalls triage.
func (s *Service) score(ctx context.Context, n store.Notification) scoring.Result {
	if s.useLLM.Load() && s.llm != nil {
		result, err := s.llm.Score(ctx, n, time.Now())
		if err == nil {
			return result
		}
		s.log.Warn("llm scoring failed; using heuristic", logx.Int64("id", n.ID), logx.Err(err))
	}
	return s.rules.Score(n)
}

func (s *Service) push(n store.Notification, result scoring.Result) {
	urgency := "normal"
	if result.Score >= 0.8 {
		urgency = "high"
	}
	req := device.PushRequest{
		Title:     n.Title,
		Body:      n.Body,
		Urgency:   urgency,
		Rationale: result.Rationale,
		AppSource: n.DisplayApp(),
	}
	results := s.devices.Push(req)

	sent := 0
	for _, ok := range results {
		if ok {
			sent++
		}
	}
	s.log.Info("push delivered",
		logx.Int64("id", n.ID),
		logx.Int("sent", sent),
		logx.Int("targets", len(results)))

	if s.bus != nil && sent > 0 {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationPushed, Data: map[string]any{
			"id":      n.ID,
			"sent":    sent,
			"urgency": urgency,
		}})
	}
}
