package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
server:
  host: 127.0.0.1
  port: 8484
  auth_token: secret
logging:
  level: debug
  console: true
storage:
  data_dir: ./data
  busy_timeout: 5s
sessions:
  default_bundle: assistant
  startup_bundles: [assistant, research]
scoring:
  use_llm: true
  push_threshold: 0.7
  vip_senders:
    - boss@corp.test
digest:
  enabled: true
  schedule: "@every 30m"
  window: 30m
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8484 {
		t.Fatalf("server section wrong: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging section wrong: %+v", cfg.Logging)
	}
	if len(cfg.Sessions.StartupBundles) != 2 || cfg.Sessions.StartupBundles[1] != "research" {
		t.Fatalf("startup bundles wrong: %+v", cfg.Sessions.StartupBundles)
	}
	if !cfg.Scoring.UseLLM || cfg.Scoring.PushThreshold != 0.7 {
		t.Fatalf("scoring section wrong: %+v", cfg.Scoring)
	}
	if cfg.Digest == nil || cfg.Digest.Schedule != "@every 30m" {
		t.Fatalf("digest section wrong: %+v", cfg.Digest)
	}
}

func TestDigestEnabledDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	// A digest section that only tunes the schedule keeps digests on.
	writeFile(t, path, "digest:\n  schedule: \"@every 10m\"\n")
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Digest == nil || cfg.Digest.Enabled != nil {
		t.Fatalf("unset flag should stay nil: %+v", cfg.Digest)
	}
	if !cfg.Digest.IsEnabled() {
		t.Fatal("digest section without enabled flag must stay enabled")
	}

	// A missing section is enabled too; only an explicit false disables.
	var none *DigestConfig
	if !none.IsEnabled() {
		t.Fatal("missing digest section must stay enabled")
	}

	writeFile(t, path, "digest:\n  enabled: false\n")
	cfg, err = NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Digest.IsEnabled() {
		t.Fatal("explicit enabled: false must disable digests")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"server": {"port": 9000}, "logging": {"console": true}, "storage": {}, "sessions": {}, "scoring": {"use_llm": false}}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.Server.Port)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
server:
  port: 8484
  listen_addr: typo-field
logging:
  console: true
`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"server": {}} {"server": {}}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{"10s", 10 * time.Second, false},
		{" 1m ", time.Minute, false},
		{"-5s", 0, true},
		{"banana", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("test.field", tc.raw, 0)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: want %v got %v", tc.raw, tc.want, got)
		}
	}
}

func TestParseDurationFieldDefault(t *testing.T) {
	got, err := ParseDurationField("f", "", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("empty should fall back to default: %v %v", got, err)
	}
	got, err = ParseDurationField("f", "2s", 5*time.Second)
	if err != nil || got != 2*time.Second {
		t.Fatalf("explicit value should win: %v %v", got, err)
	}
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)

	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	m.publish(cfg)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "server:\n  port: 1000\nlogging:\n  console: true\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to install before rewriting.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "server:\n  port: 2000\nlogging:\n  console: true\n")

	select {
	case cfg := <-ch:
		if cfg.Server.Port != 2000 {
			t.Fatalf("expected reloaded port 2000, got %d", cfg.Server.Port)
		}
	case <-ctx.Done():
		t.Fatal("no reload observed")
	}
}
