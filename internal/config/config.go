package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion       = 1
	DefaultGraphVersion = "v25.0"

	DefaultRequestDelay      = 50 * time.Millisecond
	DefaultCallCooldown      = time.Second
	DefaultChunkDays         = 7
	DefaultMaxPages          = 200
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultMaxAttempts       = 4
	DefaultBaseDelay         = 300 * time.Millisecond
	DefaultMaxDelay          = 5 * time.Second
	DefaultRateLimitCooldown = 60 * time.Second
	DefaultConcurrency       = 2
	DefaultCacheTTL          = 15 * time.Minute

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

var (
	DefaultLevels = []string{"account", "campaign", "adgroup", "creative"}

	logLevels  = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}
	logFormats = map[string]struct{}{"text": {}, "json": {}}
)

// Profile is one advertising account and the secret refs that unlock it.
type Profile struct {
	GraphVersion string `yaml:"graph_version"`
	AccountID    string `yaml:"account_id"`
	TokenRef     string `yaml:"token_ref"`
	AppSecretRef string `yaml:"app_secret_ref,omitempty"`
	CatalogPath  string `yaml:"catalog_path,omitempty"`
}

type Retry struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
}

// Breakdown selects a built-in breakdown by key, or defines a custom one when
// Breakdowns is set.
type Breakdown struct {
	Key        string   `yaml:"key"`
	Breakdowns []string `yaml:"breakdowns,omitempty"`
	Dimensions []string `yaml:"dimensions,omitempty"`
}

type Pipeline struct {
	GraphBaseURL string        `yaml:"graph_base_url,omitempty"`
	RequestDelay time.Duration `yaml:"request_delay"`
	CallCooldown time.Duration `yaml:"call_cooldown"`
	ChunkDays    int           `yaml:"chunk_days"`
	MaxPages     int           `yaml:"max_pages"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	Levels       []string      `yaml:"levels"`
	Breakdowns   []Breakdown   `yaml:"breakdowns,omitempty"`
	Retry        Retry         `yaml:"retry"`
	Concurrency  int           `yaml:"concurrency"`
}

type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

type Cache struct {
	RedisAddr string        `yaml:"redis_addr,omitempty"`
	TTL       time.Duration `yaml:"ttl"`
}

type Publish struct {
	S3Bucket string `yaml:"s3_bucket,omitempty"`
	S3Prefix string `yaml:"s3_prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	SchemaVersion  int                `yaml:"schema_version"`
	DefaultProfile string             `yaml:"default_profile,omitempty"`
	Profiles       map[string]Profile `yaml:"profiles"`
	Pipeline       Pipeline           `yaml:"pipeline"`
	Store          Store              `yaml:"store"`
	Cache          Cache              `yaml:"cache"`
	Publish        Publish            `yaml:"publish"`
	Log            Log                `yaml:"log"`
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home directory: %w", err)
	}
	return filepath.Join(home, ".adplan", "config.yaml"), nil
}

func New() *Config {
	cfg := &Config{
		SchemaVersion: SchemaVersion,
		Profiles:      map[string]Profile{},
	}
	cfg.ApplyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: config file does not exist at %s", os.ErrNotExist, path)
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrCreate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = New()
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory for %s: %w", path, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return fmt.Errorf("replace config file %s: %w", path, err)
	}
	return nil
}

// ApplyDefaults fills every zero setting. Explicit values are kept.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = SchemaVersion
	}
	if c.Profiles == nil {
		c.Profiles = map[string]Profile{}
	}
	for name, profile := range c.Profiles {
		c.Profiles[name] = applyProfileDefaults(profile)
	}

	p := &c.Pipeline
	if p.RequestDelay == 0 {
		p.RequestDelay = DefaultRequestDelay
	}
	if p.CallCooldown == 0 {
		p.CallCooldown = DefaultCallCooldown
	}
	if p.ChunkDays == 0 {
		p.ChunkDays = DefaultChunkDays
	}
	if p.MaxPages == 0 {
		p.MaxPages = DefaultMaxPages
	}
	if p.HTTPTimeout == 0 {
		p.HTTPTimeout = DefaultHTTPTimeout
	}
	if len(p.Levels) == 0 {
		p.Levels = append([]string(nil), DefaultLevels...)
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if p.Retry.BaseDelay == 0 {
		p.Retry.BaseDelay = DefaultBaseDelay
	}
	if p.Retry.MaxDelay == 0 {
		p.Retry.MaxDelay = DefaultMaxDelay
	}
	if p.Retry.RateLimitCooldown == 0 {
		p.Retry.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if p.Concurrency == 0 {
		p.Concurrency = DefaultConcurrency
	}

	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported config schema_version=%d (expected %d)", c.SchemaVersion, SchemaVersion)
	}
	if c.Profiles == nil {
		return errors.New("config profiles map is required")
	}
	for name, profile := range c.Profiles {
		if err := validateProfile(name, profile); err != nil {
			return err
		}
	}
	if c.DefaultProfile != "" {
		if _, ok := c.Profiles[c.DefaultProfile]; !ok {
			return fmt.Errorf("default_profile %q does not exist", c.DefaultProfile)
		}
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q (expected %s or %s)", c.Store.Driver, StoreMemory, StorePostgres)
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	if c.Publish.S3Prefix != "" && c.Publish.S3Bucket == "" {
		return errors.New("publish.s3_prefix requires publish.s3_bucket")
	}
	if _, ok := logLevels[c.Log.Level]; !ok {
		return fmt.Errorf("unsupported log.level %q", c.Log.Level)
	}
	if _, ok := logFormats[c.Log.Format]; !ok {
		return fmt.Errorf("unsupported log.format %q", c.Log.Format)
	}
	return nil
}

func (p Pipeline) validate() error {
	if p.RequestDelay < 0 || p.CallCooldown < 0 {
		return errors.New("pipeline delays must not be negative")
	}
	if p.ChunkDays < 1 {
		return fmt.Errorf("pipeline.chunk_days must be at least 1, got %d", p.ChunkDays)
	}
	if p.MaxPages < 1 {
		return fmt.Errorf("pipeline.max_pages must be at least 1, got %d", p.MaxPages)
	}
	if p.HTTPTimeout <= 0 {
		return errors.New("pipeline.http_timeout must be positive")
	}
	if p.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be at least 1, got %d", p.Concurrency)
	}
	if p.Retry.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.retry.max_attempts must be at least 1, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.MaxDelay < p.Retry.BaseDelay {
		return errors.New("pipeline.retry.max_delay must not be below base_delay")
	}
	for _, level := range p.Levels {
		if strings.TrimSpace(level) == "" {
			return errors.New("pipeline.levels contains a blank entry")
		}
	}
	seen := map[string]struct{}{}
	for _, breakdown := range p.Breakdowns {
		key := strings.TrimSpace(breakdown.Key)
		if key == "" {
			return errors.New("pipeline.breakdowns entry has no key")
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("pipeline.breakdowns lists %q twice", key)
		}
		seen[key] = struct{}{}
		if len(breakdown.Breakdowns) > 2 {
			return fmt.Errorf("pipeline.breakdowns %q names more than two dimensions", key)
		}
	}
	return nil
}

func (c *Config) ResolveProfile(name string) (string, Profile, error) {
	if c == nil {
		return "", Profile{}, errors.New("config is nil")
	}
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" {
		return "", Profile{}, errors.New("profile is required and default_profile is not configured")
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return "", Profile{}, fmt.Errorf("profile %q does not exist", name)
	}
	return name, profile, nil
}

func (c *Config) UpsertProfile(name string, profile Profile) error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Profiles == nil {
		c.Profiles = map[string]Profile{}
	}
	profile = applyProfileDefaults(profile)
	if err := validateProfile(name, profile); err != nil {
		return err
	}

	c.Profiles[name] = profile
	if c.DefaultProfile == "" {
		c.DefaultProfile = name
	}
	return nil
}

func applyProfileDefaults(profile Profile) Profile {
	if profile.GraphVersion == "" {
		profile.GraphVersion = DefaultGraphVersion
	}
	profile.AccountID = strings.TrimPrefix(strings.TrimSpace(profile.AccountID), "act_")
	return profile
}

func validateProfile(name string, profile Profile) error {
	if name == "" {
		return errors.New("profile name cannot be empty")
	}
	if profile.GraphVersion == "" {
		return fmt.Errorf("profile %q graph_version is required", name)
	}
	if profile.AccountID == "" {
		return fmt.Errorf("profile %q account_id is required", name)
	}
	if profile.TokenRef == "" {
		return fmt.Errorf("profile %q token_ref is required", name)
	}
	return nil
}
