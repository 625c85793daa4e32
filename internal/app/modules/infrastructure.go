package modules

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"readmodel.dev/projector/internal/checkpoint"
	"readmodel.dev/projector/internal/commitlog"
	"readmodel.dev/projector/internal/config"
	"readmodel.dev/projector/internal/identity"
	"readmodel.dev/projector/internal/infrastructure"
	"readmodel.dev/projector/internal/pkg/logger"
	"readmodel.dev/projector/internal/pkg/worker"
	"readmodel.dev/projector/internal/readmodel"
	"readmodel.dev/projector/internal/storage/postgres"
	"readmodel.dev/projector/internal/storage/redis"
)

// CommitLog is a commit-log backend that can also report its head.
type CommitLog interface {
	commitlog.Backend
	commitlog.HeadReader
}

// Stores are the persistence backends the modules are built on.
type Stores struct {
	Aliases     identity.AliasStore
	Generator   identity.Generator
	Checkpoints checkpoint.Store
	Collection  readmodel.Collection
	CommitLog   CommitLog
}

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config *config.Config
	// DB is nil for in-memory infrastructure; River is disabled then.
	DB     *infrastructure.DatabaseClients
	Redis  goredis.UniversalClient
	Pools  *worker.Pools
	Stores Stores
}

// NewInfrastructure connects to Postgres (and Redis when it generates
// identities) and builds the SQL stores.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// Dev-mode: create projector tables + River queue tables.
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := newPools(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	infra := &Infrastructure{
		Config: cfg,
		DB:     db,
		Pools:  pools,
		Stores: Stores{
			Aliases:     postgres.NewAliasStore(db.Pool),
			Checkpoints: postgres.NewCheckpointStore(db.Pool),
			Collection:  postgres.NewCollection(db.Pool),
			CommitLog:   postgres.NewCommitLog(db.Pool, cfg.CommitLog.ConnectionID, cfg.CommitLog.Tenant, cfg.CommitLog.PageSize),
		},
	}

	switch cfg.Identity.Generator {
	case config.GeneratorRedis:
		client, err := infrastructure.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		infra.Redis = client
		infra.Stores.Generator = redis.NewCounter(client, cfg.Redis.KeyPrefix)
	case config.GeneratorMemory:
		logger.Warn("in-memory identity generator does not survive restarts; use it for a single process only")
		infra.Stores.Generator = identity.NewMemoryCounter()
	default:
		infra.Stores.Generator = postgres.NewCounter(db.Pool)
	}

	logger.Info("Infrastructure initialized",
		zap.String("identity_generator", cfg.Identity.Generator),
		zap.String("connection_id", cfg.CommitLog.ConnectionID),
		zap.String("tenant", cfg.CommitLog.Tenant),
	)
	return infra, nil
}

// NewMemoryInfrastructure builds process-local stores around log. Nothing
// is persisted and River is not available.
func NewMemoryInfrastructure(cfg *config.Config, log CommitLog) (*Infrastructure, error) {
	pools, err := newPools(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = commitlog.NewMemoryLog()
	}
	return &Infrastructure{
		Config: cfg,
		Pools:  pools,
		Stores: Stores{
			Aliases:     identity.NewMemoryStore(),
			Generator:   identity.NewMemoryCounter(),
			Checkpoints: checkpoint.NewMemoryStore(),
			Collection:  readmodel.NewMemoryCollection(),
			CommitLog:   log,
		},
	}, nil
}

func newPools(cfg *config.Config) (*worker.Pools, error) {
	pools, err := worker.NewPools(worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		SlotPoolSize:    cfg.Worker.SlotPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	return pools, nil
}

// InitRiver initializes the River client on top of a prepared worker
// registry. It is a no-op without a database.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if i.DB == nil {
		logger.Info("River disabled: no database configured")
		return nil
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
