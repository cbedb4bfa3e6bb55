// Package app wires stores, adapters and use cases from configuration. Both
// the API server and dsearchctl build their object graph here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/config"
	"github.com/kailas-cloud/dsearch/internal/db"
	dbBadger "github.com/kailas-cloud/dsearch/internal/db/badger"
	dbMilvus "github.com/kailas-cloud/dsearch/internal/db/milvus"
	dbRedis "github.com/kailas-cloud/dsearch/internal/db/redis"
	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/metrics"
	"github.com/kailas-cloud/dsearch/internal/repository/backoff"
	cacherepo "github.com/kailas-cloud/dsearch/internal/repository/cache"
	"github.com/kailas-cloud/dsearch/internal/repository/embcache"
	jobsrepo "github.com/kailas-cloud/dsearch/internal/repository/jobs"
	"github.com/kailas-cloud/dsearch/internal/repository/lexical"
	"github.com/kailas-cloud/dsearch/internal/repository/vector"
	"github.com/kailas-cloud/dsearch/internal/transport/langchain"
	openaiEmb "github.com/kailas-cloud/dsearch/internal/transport/openai"
	augmentuc "github.com/kailas-cloud/dsearch/internal/usecase/augment"
	embeddinguc "github.com/kailas-cloud/dsearch/internal/usecase/embedding"
	"github.com/kailas-cloud/dsearch/internal/usecase/fusion"
	healthuc "github.com/kailas-cloud/dsearch/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/dsearch/internal/usecase/ingest"
	scheduleruc "github.com/kailas-cloud/dsearch/internal/usecase/scheduler"
	searchuc "github.com/kailas-cloud/dsearch/internal/usecase/search"
)

var (
	_ vector.Index = (*vector.RedisIndex)(nil)
	_ vector.Index = (*dbMilvus.Store)(nil)
	_ db.KV        = (*dbBadger.Store)(nil)
	_ db.KV        = (*dbRedis.Store)(nil)
)

// embeddingCacheTTL bounds how long a cached document vector is kept.
const embeddingCacheTTL = 30 * 24 * time.Hour

// App is the assembled object graph.
type App struct {
	Config    config.Config
	Embedding *embeddinguc.Service
	Lexical   *lexical.Repo
	Vector    *vector.Repo
	Cache     *cacherepo.Repo
	Search    *searchuc.Service
	Ingest    *ingestuc.Service
	Augment   *augmentuc.Service
	Health    *healthuc.Service

	redis  *dbRedis.Store
	kv     db.KV
	badger *dbBadger.Store
	logger *zap.Logger
	closer []func()
}

// New connects to every backend and builds the use cases. The embedding
// model is not loaded yet; call LoadModel.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterServiceMetrics()

	a := &App{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeAll()
		}
	}()

	redisStore, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Redis.Addrs,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis store: %w", err)
	}
	a.redis = redisStore
	a.closer = append(a.closer, redisStore.Close)
	if err := redisStore.WaitForReady(ctx, config.Seconds(cfg.Redis.ReadinessTimeout)); err != nil {
		return nil, fmt.Errorf("redis not ready: %w", err)
	}
	logger.Info("Connected to redis", zap.Strings("addrs", cfg.Redis.Addrs))

	a.kv = redisStore
	if cfg.Cache.Backend == "badger" {
		bs, err := dbBadger.NewStore(dbBadger.Config{Path: cfg.Cache.BadgerPath}, logger)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		a.badger = bs
		a.kv = bs
		a.closer = append(a.closer, bs.Close)
		logger.Info("Opened badger key-value store", zap.String("path", cfg.Cache.BadgerPath))
	}

	prefix := cfg.Redis.KeyPrefix
	retryPolicy := backoff.Policy{MaxRetries: cfg.Search.Retry.MaxRetries, BaseDelay: cfg.RetryDelay()}
	schema := cfg.FilterSchema()

	a.Embedding = buildEmbedding(&cfg, a.kv, logger)

	var index vector.Index
	switch cfg.Vector.Backend {
	case "milvus":
		ms, err := dbMilvus.NewStore(ctx, dbMilvus.Config{
			Address:         cfg.Vector.Milvus.Address,
			Username:        cfg.Vector.Milvus.Username,
			Password:        cfg.Vector.Milvus.Password,
			Collection:      cfg.Vector.Milvus.Collection,
			Dimensions:      cfg.Embedding.Dimensions,
			HNSWM:           cfg.Vector.HNSWM,
			HNSWEFConstruct: cfg.Vector.HNSWEFConstruct,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect milvus: %w", err)
		}
		a.closer = append(a.closer, ms.Close)
		index = ms
	default:
		index = vector.NewRedisIndex(redisStore, vector.RedisConfig{
			Index:           cfg.Vector.Index,
			KeyPrefix:       prefix,
			Dimensions:      cfg.Embedding.Dimensions,
			HNSWM:           cfg.Vector.HNSWM,
			HNSWEFConstruct: cfg.Vector.HNSWEFConstruct,
			FilterFields:    schema,
		})
	}

	a.Lexical = lexical.New(redisStore, lexical.Config{
		Index:         cfg.Lexical.Index,
		KeyPrefix:     prefix,
		DefaultBoosts: cfg.Lexical.FieldBoosts,
		FilterFields:  schema,
		Retry:         retryPolicy,
	})
	a.Vector = vector.New(index, a.Embedding.Query(), vector.Config{
		Dimensions:   cfg.Embedding.Dimensions,
		FilterFields: schema,
		Retry:        retryPolicy,
	})
	a.Cache = cacherepo.New(a.kv, prefix+"cache:", cfg.CacheTTL(), logger)

	ranker, err := fusion.New(fusion.Config{
		Method:        cfg.Fusion.Method,
		LexicalWeight: *cfg.Fusion.LexicalWeight,
		VectorWeight:  *cfg.Fusion.VectorWeight,
		RRFK:          cfg.Fusion.RRFK,
	})
	if err != nil {
		return nil, fmt.Errorf("create fusion ranker: %w", err)
	}
	a.Search = searchuc.New(a.Lexical, a.Vector, ranker, a.Cache, searchuc.Config{
		BackendTimeout: cfg.BackendTimeout(),
		CacheTTL:       cfg.CacheTTL(),
	}, logger)

	a.Ingest, err = ingestuc.New(a.Lexical, a.Vector, a.Embedding, a.Cache,
		jobsrepo.New(a.kv, prefix, cfg.JobTTL()),
		ingestuc.Config{
			BatchSize:    cfg.Ingest.BatchSize,
			Workers:      cfg.Ingest.Workers,
			MaxDocuments: cfg.Ingest.MaxDocuments,
		}, logger)
	if err != nil {
		return nil, fmt.Errorf("create ingestion pipeline: %w", err)
	}

	var gen augmentuc.Generator
	if cfg.Augment.Enabled {
		g, err := langchain.NewGenerator(langchain.Config{
			BaseURL:     cfg.Augment.BaseURL,
			APIKey:      cfg.Augment.APIKey,
			Model:       cfg.Augment.Model,
			Temperature: cfg.Augment.Temperature,
			Timeout:     config.Seconds(cfg.Augment.TimeoutSec),
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create generator: %w", err)
		}
		gen = g
	}
	a.Augment = augmentuc.New(gen, a.Search, a.Lexical, augmentuc.Config{ContextHits: cfg.Augment.ContextHits}, logger)

	a.Health = healthuc.New(healthuc.DefaultTimeout).
		Add("lexical", healthuc.CheckFunc(func(ctx context.Context) error {
			_, err := a.Lexical.Count(ctx)
			return err
		})).
		Add("vector", healthuc.CheckFunc(func(ctx context.Context) error {
			_, err := a.Vector.Count(ctx)
			return err
		})).
		Add("embedding", a.Embedding).
		Add("cache", healthuc.CheckFunc(a.kv.Ping))
	if gen != nil {
		if hc, ok := gen.(healthuc.Checker); ok {
			a.Health.Add("augment", hc)
		}
	}

	ok = true
	return a, nil
}

// buildEmbedding assembles the decorator chain: OpenAI -> Cached -> Instrumented,
// owned by the EmbeddingService which applies truncation and instructions.
func buildEmbedding(cfg *config.Config, kv db.KV, logger *zap.Logger) *embeddinguc.Service {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if *cfg.Embedding.Cache {
		embedder = embcache.New(base, kv, embcache.Config{
			KeyPrefix: cfg.Redis.KeyPrefix + "emb:",
			Model:     cfg.Embedding.Model,
			TTL:       embeddingCacheTTL,
		}, metrics.EmbeddingCacheTotal, logger)
	}
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Embedding.Provider, cfg.Embedding.Model, logger)

	return embeddinguc.NewService(embedder, embeddinguc.Config{
		Dimensions:          cfg.Embedding.Dimensions,
		MaxTokens:           cfg.Embedding.MaxTokens,
		DocumentInstruction: cfg.Embedding.DocumentInstruction,
		QueryInstruction:    cfg.Embedding.QueryInstruction,
	}, logger, embeddinguc.WithHealthChecker(base))
}

// EnsureIndexes creates the lexical and vector indexes when missing.
func (a *App) EnsureIndexes(ctx context.Context) error {
	return errors.Join(a.Lexical.EnsureIndex(ctx), a.Vector.EnsureIndex(ctx))
}

// LoadModel checks the embedding model, retrying while the provider is
// unreachable. A dimension mismatch is permanent and returned at once.
func (a *App) LoadModel(ctx context.Context, maxWait time.Duration) error {
	b := retry.WithMaxDuration(maxWait, retry.WithCappedDuration(10*time.Second, retry.NewExponential(500*time.Millisecond)))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := a.Embedding.Load(ctx)
		if err != nil && errors.Is(err, domain.ErrEmbeddingFailure) {
			a.logger.Warn("Embedding model not reachable yet", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("load embedding model: %w", err)
	}
	return nil
}

// RegisterJobs adds the configured scheduled tasks to r.
func (a *App) RegisterJobs(r *scheduleruc.Runner) error {
	sc := a.Config.Scheduler
	var errs []error
	if sc.SpoolIntervalSec > 0 && sc.SpoolDir != "" {
		errs = append(errs, r.Register(scheduleruc.JobSpoolIngest, config.Seconds(sc.SpoolIntervalSec),
			scheduleruc.SpoolIngest(sc.SpoolDir, a.Ingest, a.logger)))
	}
	if sc.CleanupIntervalSec > 0 {
		errs = append(errs, r.Register(scheduleruc.JobCleanup, config.Seconds(sc.CleanupIntervalSec),
			scheduleruc.JobCleanupTask(a.Ingest, time.Duration(sc.JobRetentionHours)*time.Hour)))
	}
	if sc.MaintenanceIntervalSec > 0 {
		tasks := []scheduleruc.IndexEnsurer{a.Lexical, a.Vector}
		if a.badger != nil {
			tasks = append(tasks, badgerGC{a.badger})
		}
		errs = append(errs, r.Register(scheduleruc.JobIndexMaintenance, config.Seconds(sc.MaintenanceIntervalSec),
			scheduleruc.IndexMaintenance(tasks...)))
	}
	return errors.Join(errs...)
}

// Maintain runs the maintenance tasks once: index creation and job cleanup.
// With rebuildLexical the full-text index is recreated from the stored hashes.
func (a *App) Maintain(ctx context.Context, rebuildLexical bool) (int, error) {
	if rebuildLexical {
		if err := a.Lexical.RebuildIndex(ctx); err != nil {
			return 0, err
		}
	}
	if err := a.EnsureIndexes(ctx); err != nil {
		return 0, err
	}
	return a.Ingest.Cleanup(ctx, time.Duration(a.Config.Scheduler.JobRetentionHours)*time.Hour)
}

// Close drains the pipeline and releases every backend.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Ingest != nil {
		err = a.Ingest.Close(ctx)
	}
	if a.Embedding != nil {
		a.Embedding.Close()
	}
	a.closeAll()
	return err
}

func (a *App) closeAll() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		a.closer[i]()
	}
	a.closer = nil
}

// badgerGC reclaims badger value log space during index maintenance.
type badgerGC struct{ s *dbBadger.Store }

func (g badgerGC) EnsureIndex(context.Context) error { return g.s.RunGC() }
