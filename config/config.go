// Package config provides loading and parsing of tiermem.yaml configuration
// files. Every section is optional; accessors return defaults for anything
// unset or invalid.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/tiermem/tagging"
)

// Config represents a tiermem.yaml configuration file.
type Config struct {
	// Namespace prefixes every backing key. Default: "tiermem".
	Namespace string `yaml:"namespace,omitempty"`

	Redis         *RedisConfig         `yaml:"redis,omitempty"`
	Working       *WorkingConfig       `yaml:"working,omitempty"`
	Episodic      *EpisodicConfig      `yaml:"episodic,omitempty"`
	Embedding     *EmbeddingConfig     `yaml:"embedding,omitempty"`
	Core          *CoreConfig          `yaml:"core,omitempty"`
	Consolidation *ConsolidationConfig `yaml:"consolidation,omitempty"`
	Events        *EventsConfig        `yaml:"events,omitempty"`
	Tagging       *TaggingConfig       `yaml:"tagging,omitempty"`
	Log           *LogConfig           `yaml:"log,omitempty"`
}

// GetNamespace returns the namespace or the default value.
func (c *Config) GetNamespace() string {
	if c == nil || c.Namespace == "" {
		return "tiermem"
	}
	return c.Namespace
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	// URL is the connection string. Default: "redis://localhost:6379".
	URL string `yaml:"url,omitempty"`

	// Timeouts. Format: Go duration string (e.g., "5s").
	DialTimeout  string `yaml:"dial_timeout,omitempty"`
	ReadTimeout  string `yaml:"read_timeout,omitempty"`
	WriteTimeout string `yaml:"write_timeout,omitempty"`
}

// GetURL returns the Redis URL or the default value.
func (r *RedisConfig) GetURL() string {
	if r == nil || r.URL == "" {
		return "redis://localhost:6379"
	}
	return r.URL
}

// GetDialTimeout returns the dial timeout. Default: 5s.
func (r *RedisConfig) GetDialTimeout() time.Duration {
	if r == nil {
		return 5 * time.Second
	}
	return duration(r.DialTimeout, 5*time.Second)
}

// GetReadTimeout returns the read timeout. Default: 3s.
func (r *RedisConfig) GetReadTimeout() time.Duration {
	if r == nil {
		return 3 * time.Second
	}
	return duration(r.ReadTimeout, 3*time.Second)
}

// GetWriteTimeout returns the write timeout. Default: 3s.
func (r *RedisConfig) GetWriteTimeout() time.Duration {
	if r == nil {
		return 3 * time.Second
	}
	return duration(r.WriteTimeout, 3*time.Second)
}

// WorkingConfig configures working memory.
type WorkingConfig struct {
	// MaxEntries bounds the buffer. Default: 20.
	MaxEntries int `yaml:"max_entries,omitempty"`

	// TTL is how long an interaction stays visible. Default: 1h.
	TTL string `yaml:"ttl,omitempty"`

	// PushRetries is the number of attempts for a push. Default: 3.
	PushRetries int `yaml:"push_retries,omitempty"`

	// RetryBackoff is the first backoff between attempts. Default: 50ms.
	RetryBackoff string `yaml:"retry_backoff,omitempty"`
}

// GetMaxEntries returns the buffer size or the default value.
func (w *WorkingConfig) GetMaxEntries() int {
	if w == nil || w.MaxEntries <= 0 {
		return 20
	}
	return w.MaxEntries
}

// GetTTL returns the interaction TTL. Default: 1h.
func (w *WorkingConfig) GetTTL() time.Duration {
	if w == nil {
		return time.Hour
	}
	return duration(w.TTL, time.Hour)
}

// GetPushRetries returns the push attempt count. Default: 3.
func (w *WorkingConfig) GetPushRetries() int {
	if w == nil || w.PushRetries <= 0 {
		return 3
	}
	return w.PushRetries
}

// GetRetryBackoff returns the first retry backoff. Default: 50ms.
func (w *WorkingConfig) GetRetryBackoff() time.Duration {
	if w == nil {
		return 50 * time.Millisecond
	}
	return duration(w.RetryBackoff, 50*time.Millisecond)
}

// Index names accepted by EpisodicConfig.Index.
const (
	IndexNone    = "none"
	IndexChromem = "chromem"
)

// EpisodicConfig configures episodic memory and search defaults.
type EpisodicConfig struct {
	// PromoteThreshold is the importance needed for promotion. Default: 0.5.
	PromoteThreshold *float64 `yaml:"promote_threshold,omitempty"`

	// EmbedRetries is the number of embedding attempts. Default: 3.
	EmbedRetries int `yaml:"embed_retries,omitempty"`

	// EmbedBackoff is the first backoff between attempts. Default: 100ms.
	EmbedBackoff string `yaml:"embed_backoff,omitempty"`

	// MinSimilarity is the default search floor. Default: 0.5.
	MinSimilarity *float64 `yaml:"min_similarity,omitempty"`

	// SearchLimit is the default result count. Default: 5.
	SearchLimit int `yaml:"search_limit,omitempty"`

	// Index is "none" (linear scan, default) or "chromem".
	Index string `yaml:"index,omitempty"`
}

// GetPromoteThreshold returns the promotion threshold or the default value.
func (e *EpisodicConfig) GetPromoteThreshold() float64 {
	if e == nil || e.PromoteThreshold == nil {
		return 0.5
	}
	return *e.PromoteThreshold
}

// GetEmbedRetries returns the embedding attempt count. Default: 3.
func (e *EpisodicConfig) GetEmbedRetries() int {
	if e == nil || e.EmbedRetries <= 0 {
		return 3
	}
	return e.EmbedRetries
}

// GetEmbedBackoff returns the first embedding retry backoff. Default: 100ms.
func (e *EpisodicConfig) GetEmbedBackoff() time.Duration {
	if e == nil {
		return 100 * time.Millisecond
	}
	return duration(e.EmbedBackoff, 100*time.Millisecond)
}

// GetMinSimilarity returns the default search floor. Default: 0.5.
func (e *EpisodicConfig) GetMinSimilarity() float64 {
	if e == nil || e.MinSimilarity == nil {
		return 0.5
	}
	return *e.MinSimilarity
}

// GetSearchLimit returns the default search limit. Default: 5.
func (e *EpisodicConfig) GetSearchLimit() int {
	if e == nil || e.SearchLimit <= 0 {
		return 5
	}
	return e.SearchLimit
}

// GetIndex returns the index kind. Default: "none".
func (e *EpisodicConfig) GetIndex() string {
	if e == nil || e.Index == "" {
		return IndexNone
	}
	return e.Index
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is "hashing" (default) or "ollama".
	Provider string `yaml:"provider,omitempty"`

	// Dimensions is the embedding size. Default: provider specific.
	Dimensions int `yaml:"dimensions,omitempty"`

	// BaseURL and Model configure the Ollama provider.
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`

	// Timeout bounds one embedding request. Default: 30s.
	Timeout string `yaml:"timeout,omitempty"`

	// CacheSize enables an embedding cache of that many entries.
	CacheSize int64 `yaml:"cache_size,omitempty"`
}

// GetProvider returns the provider name. Default: "hashing".
func (e *EmbeddingConfig) GetProvider() string {
	if e == nil || e.Provider == "" {
		return "hashing"
	}
	return e.Provider
}

// GetTimeout returns the request timeout. Default: 30s.
func (e *EmbeddingConfig) GetTimeout() time.Duration {
	if e == nil {
		return 30 * time.Second
	}
	return duration(e.Timeout, 30*time.Second)
}

// Core backend names.
const (
	BackendRedis = "redis"
	BackendEtcd  = "etcd"
)

// CoreConfig selects the core fact backend.
type CoreConfig struct {
	// Backend is "redis" (default) or "etcd".
	Backend string `yaml:"backend,omitempty"`

	Etcd *EtcdConfig `yaml:"etcd,omitempty"`
}

// GetBackend returns the backend name. Default: "redis".
func (c *CoreConfig) GetBackend() string {
	if c == nil || c.Backend == "" {
		return BackendRedis
	}
	return c.Backend
}

// GetEtcd returns the etcd section, which may be nil.
func (c *CoreConfig) GetEtcd() *EtcdConfig {
	if c == nil {
		return nil
	}
	return c.Etcd
}

// EtcdConfig configures the etcd connection.
type EtcdConfig struct {
	// Endpoints is the list of etcd endpoints.
	// Format: ["host1:2379", "host2:2379"]
	Endpoints []string `yaml:"endpoints,omitempty"`

	// DialTimeout bounds connection establishment. Default: 5s.
	DialTimeout string `yaml:"dial_timeout,omitempty"`

	// TLS certificate files, all optional.
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`
}

// GetEndpoints returns the configured endpoints.
func (e *EtcdConfig) GetEndpoints() []string {
	if e == nil {
		return nil
	}
	return e.Endpoints
}

// GetDialTimeout returns the dial timeout. Default: 5s.
func (e *EtcdConfig) GetDialTimeout() time.Duration {
	if e == nil {
		return 5 * time.Second
	}
	return duration(e.DialTimeout, 5*time.Second)
}

// ConsolidationConfig configures consolidation.
type ConsolidationConfig struct {
	// Schedule is a cron spec. Default: "@every 1h".
	Schedule string `yaml:"schedule,omitempty"`

	// Window bounds memory age. Default: 168h.
	Window string `yaml:"window,omitempty"`

	// MaxEntries bounds the memories read. Default: 500.
	MaxEntries int `yaml:"max_entries,omitempty"`
}

// GetSchedule returns the cron spec or the default value.
func (c *ConsolidationConfig) GetSchedule() string {
	if c == nil || c.Schedule == "" {
		return "@every 1h"
	}
	return c.Schedule
}

// GetWindow returns the consolidation window. Default: 7 days.
func (c *ConsolidationConfig) GetWindow() time.Duration {
	if c == nil {
		return 7 * 24 * time.Hour
	}
	return duration(c.Window, 7*24*time.Hour)
}

// GetMaxEntries returns the entry bound. Default: 500.
func (c *ConsolidationConfig) GetMaxEntries() int {
	if c == nil || c.MaxEntries <= 0 {
		return 500
	}
	return c.MaxEntries
}

// Event sink names.
const (
	SinkNone  = "none"
	SinkLog   = "log"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// EventsConfig selects the event sinks.
type EventsConfig struct {
	// Sink is a comma separated list of "none", "log", "redis" and
	// "kafka". Default: "none".
	Sink string `yaml:"sink,omitempty"`

	// ChannelPrefix prefixes Redis channel names.
	// Default: "tiermem:events:".
	ChannelPrefix string `yaml:"channel_prefix,omitempty"`

	Kafka *KafkaConfig `yaml:"kafka,omitempty"`
}

// GetSinks returns the configured sink names, never empty.
func (e *EventsConfig) GetSinks() []string {
	if e == nil || strings.TrimSpace(e.Sink) == "" {
		return []string{SinkNone}
	}
	var sinks []string
	for _, s := range strings.Split(e.Sink, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

// GetChannelPrefix returns the Redis channel prefix or the default value.
func (e *EventsConfig) GetChannelPrefix() string {
	if e == nil || e.ChannelPrefix == "" {
		return "tiermem:events:"
	}
	return e.ChannelPrefix
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`

	// Topic, when set, receives every event.
	Topic string `yaml:"topic,omitempty"`
}

// TaggingConfig adds tag rules to the built-in set.
type TaggingConfig struct {
	Rules []tagging.Expr `yaml:"rules,omitempty"`
}

// GetRules returns the configured rule expressions.
func (t *TaggingConfig) GetRules() []tagging.Expr {
	if t == nil {
		return nil
	}
	return t.Rules
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level,omitempty"`

	// Format is text or json. Default: text.
	Format string `yaml:"format,omitempty"`
}

// GetLevel returns the log level or the default value.
func (l *LogConfig) GetLevel() string {
	if l == nil || l.Level == "" {
		return "info"
	}
	return strings.ToLower(l.Level)
}

// GetFormat returns the log format or the default value.
func (l *LogConfig) GetFormat() string {
	if l == nil || l.Format == "" {
		return "text"
	}
	return strings.ToLower(l.Format)
}

// Validate checks value ranges and enumerations. It reports every problem
// found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.ContainsAny(c.GetNamespace(), ": ") {
		add("namespace %q must not contain ':' or spaces", c.Namespace)
	}

	if v := c.Episodic.GetPromoteThreshold(); v < 0 || v > 1 {
		add("episodic.promote_threshold must be in [0,1], got %v", v)
	}
	if v := c.Episodic.GetMinSimilarity(); v < -1 || v > 1 {
		add("episodic.min_similarity must be in [-1,1], got %v", v)
	}
	switch idx := c.Episodic.GetIndex(); idx {
	case IndexNone, IndexChromem:
	default:
		add("episodic.index must be %q or %q, got %q", IndexNone, IndexChromem, idx)
	}

	switch p := c.Embedding.GetProvider(); p {
	case "hashing", "ollama":
	default:
		add("embedding.provider must be \"hashing\" or \"ollama\", got %q", p)
	}
	if c.Embedding != nil && c.Embedding.Dimensions < 0 {
		add("embedding.dimensions must not be negative, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding != nil && c.Embedding.CacheSize < 0 {
		add("embedding.cache_size must not be negative, got %d", c.Embedding.CacheSize)
	}

	switch b := c.Core.GetBackend(); b {
	case BackendRedis:
	case BackendEtcd:
		if len(c.Core.GetEtcd().GetEndpoints()) == 0 {
			add("core.etcd.endpoints is required for the etcd backend")
		}
	default:
		add("core.backend must be %q or %q, got %q", BackendRedis, BackendEtcd, b)
	}

	for _, s := range c.Events.GetSinks() {
		switch s {
		case SinkNone, SinkLog, SinkRedis:
		case SinkKafka:
			if c.Events.Kafka == nil || len(c.Events.Kafka.Brokers) == 0 {
				add("events.kafka.brokers is required for the kafka sink")
			}
		default:
			add("events.sink: unknown sink %q", s)
		}
	}

	if _, err := tagging.CompileExprs(c.Tagging.GetRules()); err != nil {
		add("tagging.rules: %w", err)
	}

	switch l := c.Log.GetLevel(); l {
	case "debug", "info", "warn", "error":
	default:
		add("log.level must be debug, info, warn or error, got %q", l)
	}
	switch f := c.Log.GetFormat(); f {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", f)
	}

	return errors.Join(errs...)
}

// Load reads and parses a tiermem.yaml file from the given path.
// If the path is a directory, it looks for tiermem.yaml or tiermem.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"tiermem.yaml", "tiermem.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no tiermem.yaml or tiermem.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// duration parses s, returning def when s is empty, invalid or not positive.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
