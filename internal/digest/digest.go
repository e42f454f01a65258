// Package digest periodically summarizes the recent notification backlog
// and broadcasts it to connected devices.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"agenthub/internal/device"
	"agenthub/internal/store"
	logx "agenthub/pkg/logx"
)

// Config controls the digest schedule.
type Config struct {
	// Schedule is a cron spec or descriptor. Defaults to "@hourly".
	Schedule string
	// Window is how far back each digest looks. Defaults to 1h.
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@hourly"
	}
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	return c
}

// Service renders a periodic digest of summarize-tier notifications and
// fans it out to every connected device. Empty windows are skipped.
type Service struct {
	cfg     Config
	db      store.Store
	devices *device.Registry
	log     logx.Logger

	c *cron.Cron
}

func New(cfg Config, db store.Store, devices *device.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), db: db, devices: devices, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	if s.c != nil {
		return errors.New("digest: already started")
	}
	// SecondOptional allows both 5-field and 6-field (with seconds) specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser))

	if _, err := s.c.AddFunc(s.cfg.Schedule, func() { s.Run(context.Background()) }); err != nil {
		s.c = nil
		return fmt.Errorf("digest: bad schedule %q: %w", s.cfg.Schedule, err)
	}
	s.c.Start()

	s.log.Info("digest scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("window", s.cfg.Window))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.c == nil {
		return nil
	}
	stopped := s.c.Stop()
	s.c = nil
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run builds and broadcasts one digest for the configured window.
func (s *Service) Run(ctx context.Context) {
	sent, err := s.Send(ctx, time.Now().Add(-s.cfg.Window))
	if err != nil {
		s.log.Warn("digest run failed", logx.Err(err))
		return
	}
	s.log.Info("digest broadcast", logx.Int("sent", sent))
}

// Send builds the digest for the window starting at since and fans it out
// to every connected device. It returns how many devices were reached.
// Empty windows send nothing. The HTTP API uses Send for on-demand
// digests outside the cron schedule.
func (s *Service) Send(ctx context.Context, since time.Time) (int, error) {
	stats, err := s.db.SummaryStats(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("digest stats: %w", err)
	}
	if stats.Total == 0 {
		s.log.Debug("digest window empty; skipping broadcast")
		return 0, nil
	}

	text, err := store.Digest(ctx, s.db, since)
	if err != nil {
		return 0, fmt.Errorf("digest build: %w", err)
	}

	results := s.devices.Broadcast(device.Message{
		Type:    "digest",
		Payload: map[string]any{"text": text, "since": since.Format(time.RFC3339)},
	}, nil)

	sent := 0
	for _, ok := range results {
		if ok {
			sent++
		}
	}
	return sent, nil
}
