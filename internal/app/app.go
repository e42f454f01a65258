// Package app wires the daemon together: config, logging, storage,
// sessions, the triage pipeline, device fan-out and the HTTP API.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"agenthub/internal/config"
	"agenthub/internal/device"
	"agenthub/internal/digest"
	"agenthub/internal/eventbus"
	"agenthub/internal/processor"
	"agenthub/internal/scoring"
	"agenthub/internal/server"
	"agenthub/internal/session"
	"agenthub/internal/store"
	logx "agenthub/pkg/logx"
)

// scorerSessionID is the dedicated session the LLM scorer executes in.
const scorerSessionID = "notification-scorer"

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	db       store.Store
	sessions *session.Registry
	devices  *device.Registry
	proc     *processor.Service
	dig      *digest.Service
	srv      *server.Service

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(store.Config{
		Path:        storagePath(cfg.Storage),
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	sessions := session.NewRegistry(
		sessionBuilder(cfg.Sessions, log),
		log.With(logx.String("comp", "sessions")),
		bus,
	)

	devices := device.NewRegistry(log.With(logx.String("comp", "devices")), bus)

	scorer := scoring.NewScorer(scoringConfig(cfg.Scoring))

	var llm *scoring.LLMScorer
	if cfg.Scoring.UseLLM {
		llm = scoring.NewLLMScorer(sessions, scorerSessionID, cfg.Scoring.RulesPath,
			log.With(logx.String("comp", "llm-scorer")))
	}

	procCfg := processor.Config{}
	if cfg.Processor != nil {
		procCfg.QueueSize = cfg.Processor.QueueSize
		procCfg.PollInterval, err = config.ParseDurationField("processor.poll_interval", cfg.Processor.PollInterval, time.Second)
		if err != nil {
			return nil, err
		}
	}
	proc := processor.New(procCfg, db, scorer, llm, devices, bus,
		log.With(logx.String("comp", "processor")))

	var dig *digest.Service
	if cfg.Digest.IsEnabled() {
		digCfg := digest.Config{}
		if cfg.Digest != nil {
			digCfg.Schedule = cfg.Digest.Schedule
			digCfg.Window, err = config.ParseDurationField("digest.window", cfg.Digest.Window, time.Hour)
			if err != nil {
				return nil, err
			}
		}
		dig = digest.New(digCfg, db, devices, log.With(logx.String("comp", "digest")))
	}

	srvCfg := server.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
	}
	if cfg.Ingest != nil {
		srvCfg.IngestRatePerSec = float64(cfg.Ingest.RatePerSec)
		srvCfg.IngestBurst = cfg.Ingest.Burst
	}
	srv := server.New(srvCfg, server.Deps{
		Sessions:  sessions,
		Store:     db,
		Devices:   devices,
		Processor: proc,
		Digest:    dig,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "http")),
	})

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		bus:      bus,
		db:       db,
		sessions: sessions,
		devices:  devices,
		proc:     proc,
		dig:      dig,
		srv:      srv,
	}, nil
}

func storagePath(cfg config.StorageConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	dir := cfg.DataDir
	if dir == "" {
		dir = "./data"
	}
	return filepath.Join(dir, "notifications.db")
}

func sessionBuilder(cfg config.SessionsConfig, log logx.Logger) session.Builder {
	if strings.TrimSpace(cfg.Anthropic.APIKey) == "" {
		log.Warn("no anthropic api key configured; sessions run on the mock executor")
		return session.MockBuilder{}
	}
	return session.AnthropicBuilder{
		APIKey:    cfg.Anthropic.APIKey,
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		Log:       log.With(logx.String("comp", "anthropic")),
	}
}

func scoringConfig(cfg config.ScoringConfig) scoring.Config {
	return scoring.Config{
		VIPSenders:         cfg.VIPSenders,
		UserAliases:        cfg.UserAliases,
		UrgentKeywords:     cfg.UrgentKeywords,
		ActionKeywords:     cfg.ActionKeywords,
		PriorityApps:       cfg.PriorityApps,
		LowPriorityApps:    cfg.LowPriorityApps,
		PushThreshold:      cfg.PushThreshold,
		SummarizeThreshold: cfg.SummarizeThreshold,
	}
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
		}
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
			return err
		}
		if cfg.Processor != nil {
			if _, err := config.ParseDurationField("processor.poll_interval", cfg.Processor.PollInterval, 0); err != nil {
				return err
			}
		}
		if cfg.Digest != nil {
			if _, err := config.ParseDurationField("digest.window", cfg.Digest.Window, 0); err != nil {
				return err
			}
		}
		return nil
	})

	a.startupSessions(ctx, cfg)

	if err := a.proc.Start(ctx); err != nil {
		return err
	}
	if a.dig != nil {
		if err := a.dig.Start(ctx); err != nil {
			return err
		}
	}
	if err := a.srv.Start(ctx); err != nil {
		return err
	}

	a.startConfigWatch(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("addr", a.srv.Addr()))
	return nil
}

// startupSessions creates the sessions config asks for at boot, plus the
// scoring session when LLM triage is on. Failures are logged, not fatal;
// the API can recreate sessions later.
func (a *App) startupSessions(ctx context.Context, cfg *config.Config) {
	bundles := cfg.Sessions.StartupBundles
	for _, bundle := range bundles {
		id, err := a.sessions.Create(ctx, session.CreateParams{Bundle: bundle})
		if err != nil {
			a.log.Warn("startup session failed", logx.String("bundle", bundle), logx.Err(err))
			continue
		}
		a.log.Info("startup session ready", logx.String("bundle", bundle), logx.String("session", id))
	}

	if cfg.Scoring.UseLLM {
		bundle := cfg.Sessions.DefaultBundle
		if bundle == "" {
			bundle = "scorer"
		}
		_, err := a.sessions.Create(ctx, session.CreateParams{
			Bundle:       bundle,
			SessionID:    scorerSessionID,
			SystemPrompt: "You are a notification triage assistant. Respond only with the JSON object requested.",
			MaxTokens:    300,
		})
		if err != nil {
			a.log.Warn("scoring session failed; triage falls back to heuristics", logx.Err(err))
		}
	}
}

// startConfigWatch runs the fsnotify watcher and a subscriber that
// re-applies the hot-reloadable sections (logging, scoring, ingest limits
// are listener-bound and need a restart).
func (a *App) startConfigWatch(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})

	sub := a.cfgm.Subscribe(8)

	go func() {
		defer close(a.watchDone)
		defer a.cfgm.Unsubscribe(sub)

		go func() {
			if err := a.cfgm.Watch(wctx); err != nil {
				a.log.Warn("config watch stopped", logx.Err(err))
			}
		}()

		for {
			select {
			case <-wctx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	}()
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.proc.UpdateRules(scoringConfig(cfg.Scoring))
	a.proc.EnableLLM(cfg.Scoring.UseLLM)

	a.log.Info("config reapplied",
		logx.String("log_level", cfg.Logging.Level),
		logx.Bool("use_llm", cfg.Scoring.UseLLM))
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	if a.watchCancel != nil {
		a.watchCancel()
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}

	step := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			a.log.Warn("stop step error", logx.String("step", name), logx.Err(err))
		}
	}

	step("server", a.srv.Stop)
	if a.dig != nil {
		step("digest", a.dig.Stop)
	}
	step("processor", a.proc.Stop)
	a.devices.CloseAll()
	a.sessions.Shutdown(ctx)
	step("store", func(context.Context) error { return a.db.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
