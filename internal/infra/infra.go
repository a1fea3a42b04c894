package infra

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/events"
	"github.com/ruslano69/refdesk/internal/staging"
	"github.com/ruslano69/refdesk/internal/store"
)

// Infra holds all live infrastructure handles for the running service.
type Infra struct {
	Redis     *redis.Client
	DB        *store.DB
	Registry  *dataset.Registry
	Sessions  *staging.Store
	Publisher events.Publisher

	// dev-mode internal instance; nil in production
	mini *miniredis.Miniredis
}

// Setup initialises Redis, the database, and the event publisher.
//   - dev=true: starts an in-process miniredis and an in-memory sqlite.
//   - dev=false: connects to the addresses from cfg.
//
// Every dataset known to the registry is migrated before Setup returns.
func Setup(ctx context.Context, cfg *Config, dev bool) (*Infra, error) {
	inf := &Infra{}

	driver, dsn := cfg.Database.Driver, cfg.Database.DSN
	if dev {
		var err error
		inf.mini, err = miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("infra: miniredis: %w", err)
		}
		inf.Redis = redis.NewClient(&redis.Options{Addr: inf.mini.Addr()})
		driver, dsn = "sqlite", "file:refdesk-dev?mode=memory&cache=shared"

		log.Info().Str("redis", inf.mini.Addr()).Msg("dev: in-process miniredis started")
	} else {
		inf.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if err := inf.Redis.Ping(ctx).Err(); err != nil {
		inf.Close()
		return nil, fmt.Errorf("infra: redis ping: %w", err)
	}

	reg, err := dataset.NewRegistry(dataset.Builtin(), cfg.Datasets)
	if err != nil {
		inf.Close()
		return nil, fmt.Errorf("infra: datasets: %w", err)
	}
	inf.Registry = reg

	inf.DB, err = store.Open(ctx, driver, dsn)
	if err != nil {
		inf.Close()
		return nil, fmt.Errorf("infra: open database: %w", err)
	}
	for _, name := range reg.Names() {
		ds, _ := reg.Get(name)
		if err := inf.DB.Migrate(ctx, ds); err != nil {
			inf.Close()
			return nil, fmt.Errorf("infra: migrate %s: %w", name, err)
		}
	}

	inf.Sessions, err = staging.New(inf.Redis, cfg.Staging.TTL)
	if err != nil {
		inf.Close()
		return nil, fmt.Errorf("infra: staging: %w", err)
	}

	inf.Publisher, err = events.New(cfg.Events)
	if err != nil {
		inf.Close()
		return nil, fmt.Errorf("infra: events: %w", err)
	}

	return inf, nil
}

// Close releases all infrastructure resources.
func (inf *Infra) Close() {
	if inf.Publisher != nil {
		_ = inf.Publisher.Close()
	}
	if inf.DB != nil {
		_ = inf.DB.Close()
	}
	if inf.Redis != nil {
		_ = inf.Redis.Close()
	}
	if inf.mini != nil {
		inf.mini.Close()
	}
}
