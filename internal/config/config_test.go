package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := New()
	if err := cfg.UpsertProfile("prod", Profile{
		AccountID: "act_42",
		TokenRef:  "keychain://adplan/prod/token",
	}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	cfg.Pipeline.Breakdowns = []Breakdown{{Key: "age"}, {Key: "region", Breakdowns: []string{"region"}}}
	cfg.Store = Store{Driver: StorePostgres, DSN: "postgres://localhost/adplan"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if loaded.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version: got=%d want=%d", loaded.SchemaVersion, SchemaVersion)
	}
	if loaded.DefaultProfile != "prod" {
		t.Fatalf("unexpected default profile: got=%s", loaded.DefaultProfile)
	}
	prod := loaded.Profiles["prod"]
	if prod.AccountID != "42" || prod.GraphVersion != DefaultGraphVersion {
		t.Fatalf("profile defaults not applied: %+v", prod)
	}
	if loaded.Pipeline.CallCooldown != DefaultCallCooldown || loaded.Pipeline.Retry.RateLimitCooldown != DefaultRateLimitCooldown {
		t.Fatalf("durations did not round trip: %+v", loaded.Pipeline)
	}
	if len(loaded.Pipeline.Breakdowns) != 2 || loaded.Pipeline.Breakdowns[1].Breakdowns[0] != "region" {
		t.Fatalf("breakdowns did not round trip: %+v", loaded.Pipeline.Breakdowns)
	}
	if loaded.Store.Driver != StorePostgres {
		t.Fatalf("unexpected store driver %q", loaded.Store.Driver)
	}
}

func TestLoadAppliesDefaultsAndParsesDurations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
schema_version: 1
profiles:
  shop:
    account_id: "77"
    token_ref: keychain://adplan/shop/token
pipeline:
  call_cooldown: 2s
  chunk_days: 3
  retry:
    max_attempts: 6
log:
  format: json
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Pipeline.CallCooldown != 2*time.Second || cfg.Pipeline.ChunkDays != 3 || cfg.Pipeline.Retry.MaxAttempts != 6 {
		t.Fatalf("explicit values lost: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.RequestDelay != DefaultRequestDelay || cfg.Pipeline.Concurrency != DefaultConcurrency {
		t.Fatalf("defaults not applied: %+v", cfg.Pipeline)
	}
	if len(cfg.Pipeline.Levels) != 4 || cfg.Store.Driver != StoreMemory || cfg.Cache.TTL != DefaultCacheTTL {
		t.Fatalf("unexpected defaults: levels=%v store=%+v cache=%+v", cfg.Pipeline.Levels, cfg.Store, cfg.Cache)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadFailsOnUnknownField(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
schema_version: 1
default_profile: prod
profiles:
  prod:
    account_id: "42"
    token_ref: keychain://adplan/prod/token
    unknown_field: should-fail
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected load to fail on unknown field")
	}
	if !strings.Contains(err.Error(), "field unknown_field not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	if len(cfg.Profiles) != 0 {
		t.Fatalf("expected no profiles, got %v", cfg.Profiles)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected config permissions %v", info.Mode().Perm())
	}
}

func TestValidateFailsOnSchemaMismatch(t *testing.T) {
	t.Parallel()

	cfg := New()
	cfg.SchemaVersion = 99
	cfg.Profiles = map[string]Profile{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected schema mismatch error")
	}
	if !strings.Contains(err.Error(), "unsupported config schema_version") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StorePostgres }, "store.dsn is required"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "unsupported store.driver"},
		{"negative concurrency", func(c *Config) { c.Pipeline.Concurrency = -1 }, "pipeline.concurrency"},
		{"duplicate breakdown", func(c *Config) {
			c.Pipeline.Breakdowns = []Breakdown{{Key: "age"}, {Key: "age"}}
		}, "lists \"age\" twice"},
		{"retry delays inverted", func(c *Config) {
			c.Pipeline.Retry.BaseDelay = 10 * time.Second
		}, "max_delay"},
		{"prefix without bucket", func(c *Config) { c.Publish.S3Prefix = "reports/" }, "requires publish.s3_bucket"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "unsupported log.level"},
		{"profile without account", func(c *Config) {
			c.Profiles["p"] = Profile{GraphVersion: DefaultGraphVersion, TokenRef: "keychain://adplan/p/token"}
		}, "account_id is required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveProfileUsesDefault(t *testing.T) {
	t.Parallel()

	cfg := New()
	if _, _, err := cfg.ResolveProfile(""); err == nil {
		t.Fatal("expected an error without a default profile")
	}
	if err := cfg.UpsertProfile("shop", Profile{AccountID: "1", TokenRef: "keychain://adplan/shop/token"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	name, profile, err := cfg.ResolveProfile("")
	if err != nil || name != "shop" || profile.AccountID != "1" {
		t.Fatalf("unexpected resolution %q %+v %v", name, profile, err)
	}
	if _, _, err := cfg.ResolveProfile("missing"); err == nil {
		t.Fatal("expected missing profile error")
	}
}
