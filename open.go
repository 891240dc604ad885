package tiermem

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/tiermem/backing"
	"github.com/zero-day-ai/tiermem/config"
	"github.com/zero-day-ai/tiermem/corefact"
	"github.com/zero-day-ai/tiermem/embedding"
	"github.com/zero-day-ai/tiermem/episodic"
	"github.com/zero-day-ai/tiermem/event"
	"github.com/zero-day-ai/tiermem/tagging"
)

// Open connects to Redis as configured and builds an Engine from cfg. The
// engine owns every connection it opened; Close releases them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := backing.NewRedisClient(ctx, backing.RedisOptions{
		URL:          cfg.Redis.GetURL(),
		DialTimeout:  cfg.Redis.GetDialTimeout(),
		ReadTimeout:  cfg.Redis.GetReadTimeout(),
		WriteTimeout: cfg.Redis.GetWriteTimeout(),
	})
	if err != nil {
		return nil, err
	}

	e, err := OpenWithClient(ctx, cfg, client, logger, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	e.closers = append([]io.Closer{client}, e.closers...)
	return e, nil
}

// OpenWithClient builds an Engine from cfg over an existing Redis client.
// The caller keeps ownership of client. Options are applied after the
// configuration.
func OpenWithClient(ctx context.Context, cfg *config.Config, client redis.UniversalClient, logger *slog.Logger, opts ...Option) (_ *Engine, err error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}
		}
	}()

	provider, err := embedding.New(embedding.Options{
		Provider:   cfg.Embedding.GetProvider(),
		Dimensions: embeddingDimensions(cfg),
		BaseURL:    baseURL(cfg),
		Model:      model(cfg),
		Timeout:    cfg.Embedding.GetTimeout(),
		CacheSize:  cacheSize(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	if c, ok := provider.(io.Closer); ok {
		closers = append(closers, c)
	}

	rules, err := tagging.CompileExprs(cfg.Tagging.GetRules())
	if err != nil {
		return nil, err
	}

	sink, sinkClosers, err := openSinks(cfg, client, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, sinkClosers...)

	ns := cfg.GetNamespace()
	base := []Option{
		WithNamespace(ns),
		WithLogger(logger),
		WithSink(sink),
		WithExtractor(tagging.NewExtractor(tagging.WithDefaults(rules...)...)),
		WithWorkingLimits(cfg.Working.GetMaxEntries(), cfg.Working.GetTTL()),
		WithWorkingRetry(backing.Retry{
			Attempts: cfg.Working.GetPushRetries(),
			Backoff:  cfg.Working.GetRetryBackoff(),
		}),
		WithPromoteThreshold(cfg.Episodic.GetPromoteThreshold()),
		WithEmbedRetry(backing.Retry{
			Attempts: cfg.Episodic.GetEmbedRetries(),
			Backoff:  cfg.Episodic.GetEmbedBackoff(),
		}),
		WithSearchDefaults(cfg.Episodic.GetSearchLimit(), cfg.Episodic.GetMinSimilarity()),
		WithConsolidation(cfg.Consolidation.GetWindow(), cfg.Consolidation.GetMaxEntries()),
	}

	if cfg.Core.GetBackend() == config.BackendEtcd {
		etcdCfg := cfg.Core.GetEtcd()
		ec := corefact.EtcdConfig{
			Endpoints:   etcdCfg.Endpoints,
			DialTimeout: etcdCfg.GetDialTimeout(),
		}
		if etcdCfg.CertFile != "" || etcdCfg.CAFile != "" {
			ec.TLS = &corefact.EtcdTLS{
				CertFile: etcdCfg.CertFile,
				KeyFile:  etcdCfg.KeyFile,
				CAFile:   etcdCfg.CAFile,
			}
		}
		cli, err := corefact.NewEtcdClient(ec)
		if err != nil {
			return nil, err
		}
		closers = append(closers, cli)
		base = append(base, WithCoreBackend(corefact.NewEtcdBackend(cli, ns)))
	}

	var index *episodic.ChromemIndex
	if cfg.Episodic.GetIndex() == config.IndexChromem {
		if index, err = episodic.NewChromemIndex(ns); err != nil {
			return nil, fmt.Errorf("failed to create vector index: %w", err)
		}
		base = append(base, WithIndex(index))
	}

	c := defaultConfig()
	for _, opt := range append(base, opts...) {
		opt(c)
	}
	e := newEngine(client, provider, c)
	e.closers = closers

	if index != nil {
		n, err := e.episodic.Warm(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to warm vector index: %w", err)
		}
		logger.Info("vector index warmed", "memories", n)
	}

	return e, nil
}

func openSinks(cfg *config.Config, client redis.UniversalClient, logger *slog.Logger) (event.Sink, []io.Closer, error) {
	var (
		sinks   event.Multi
		closers []io.Closer
	)

	for _, name := range cfg.Events.GetSinks() {
		switch name {
		case config.SinkNone:
		case config.SinkLog:
			sinks = append(sinks, event.NewLogSink(logger, slog.LevelInfo))
		case config.SinkRedis:
			sinks = append(sinks, event.NewRedisSink(client, cfg.Events.GetChannelPrefix()))
		case config.SinkKafka:
			k, err := event.NewKafkaSink(event.KafkaConfig{
				Brokers: cfg.Events.Kafka.Brokers,
				Topic:   cfg.Events.Kafka.Topic,
				Logger:  logger,
			})
			if err != nil {
				for _, c := range closers {
					_ = c.Close()
				}
				return nil, nil, fmt.Errorf("failed to create kafka sink: %w", err)
			}
			sinks = append(sinks, k)
			closers = append(closers, k)
		}
	}

	switch len(sinks) {
	case 0:
		return event.Nop{}, nil, nil
	case 1:
		return sinks[0], closers, nil
	default:
		return sinks, closers, nil
	}
}

func embeddingDimensions(cfg *config.Config) int {
	if cfg.Embedding == nil {
		return 0
	}
	return cfg.Embedding.Dimensions
}

func baseURL(cfg *config.Config) string {
	if cfg.Embedding == nil {
		return ""
	}
	return cfg.Embedding.BaseURL
}

func model(cfg *config.Config) string {
	if cfg.Embedding == nil {
		return ""
	}
	return cfg.Embedding.Model
}

func cacheSize(cfg *config.Config) int64 {
	if cfg.Embedding == nil {
		return 0
	}
	return cfg.Embedding.CacheSize
}
