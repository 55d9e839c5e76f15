package internal

import (
	"context"
	"fmt"

	"github.com/castmedia/castmedia_server/internal/avatar"
	"github.com/castmedia/castmedia_server/internal/health"
	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/castmedia/castmedia_server/internal/media"
	"github.com/castmedia/castmedia_server/internal/metrics"
	"github.com/castmedia/castmedia_server/internal/pointer"
	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/probe"
	"github.com/castmedia/castmedia_server/internal/proxy"
	"github.com/castmedia/castmedia_server/internal/status"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/castmedia/castmedia_server/internal/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type pointerStore interface {
	pointer.Store
	pointer.NameLookup
}

// App holds the wired services of one server instance.
type App struct {
	Config  *Config
	Handler fasthttp.RequestHandler
	Chain   *avatar.Chain
	Storage storage.Service

	closers []func() error
}

func NewApp(ctx context.Context, config *Config, version string) (*App, error) {
	app := &App{Config: config}

	validator, err := identity.NewTokenValidator(config.Identity)
	if err != nil {
		return nil, err
	}

	var credentials *identity.CachedCredentials
	var credentialSource storage.CredentialSource
	if config.Storage.Type == storage.TypeHTTP || config.Storage.Type == "" {
		credentials = identity.NewCachedCredentials(identity.NewClient(config.Identity), config.Identity.ServiceCredentials(), config.Identity.RefreshLeeway)
		credentialSource = credentials
	}

	storageService, err := storage.NewService(ctx, config.Storage, credentialSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	app.Storage = storageService

	pointers, err := app.newPointerStore(ctx, config)
	if err != nil {
		app.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewObserver("", registry)
	if err != nil {
		app.Close()
		return nil, err
	}

	probes, err := probe.NewCache(config.Probe)
	if err != nil {
		app.Close()
		return nil, err
	}
	probes.WithObserver(observer)

	locations := policy.NewLocations(config.Storage)
	quotas := policy.NewQuotas(config.Quota)

	app.Chain = avatar.NewChain(pointers, pointers, storageService, locations, probes, config.Avatar).WithObserver(observer)
	mediaProxy := proxy.NewProxy(storageService, locations).WithObserver(observer).WithTimeout(config.Storage.Timeout)
	uploads := upload.NewService(storageService, locations, quotas).WithObserver(observer).WithPointers(pointers)

	var expiry status.CredentialExpiry
	if credentials != nil {
		expiry = credentials
	}

	app.Handler = NewRequestHandler(config, Endpoints{
		Health:  health.NewEndpoints(version),
		Status:  status.NewEndpoints(version, string(config.Storage.Type), string(config.Pointers.Driver), probes, expiry),
		Avatar:  avatar.NewEndpoints(app.Chain),
		Media:   media.NewEndpoints(storageService, locations),
		Proxy:   proxy.NewEndpoints(mediaProxy),
		Upload:  upload.NewEndpoints(uploads),
		Metrics: observer.Handler(),
	}, validator)

	log.Info().
		Str("storage", string(config.Storage.Type)).
		Str("pointers", string(config.Pointers.Driver)).
		Msg("Application wired")
	return app, nil
}

func (a *App) newPointerStore(ctx context.Context, config *Config) (pointerStore, error) {
	switch config.Pointers.Driver {
	case pointer.DriverPostgres:
		db, err := NewDB(config.Pointers.DSN, config.Server.MigrationsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pointer database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return pointer.NewPostgresRepository(db), nil
	case pointer.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     config.Pointers.RedisAddr,
			Password: config.Pointers.RedisPassword,
			DB:       config.Pointers.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return pointer.NewRedisRepository(client, config.Pointers.RedisTTL), nil
	case pointer.DriverMemory, "":
		log.Warn().Msg("Avatar pointers are kept in memory and lost on restart")
		return pointer.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown pointer driver %q", config.Pointers.Driver)
	}
}

// Close waits for pending pointer writes and releases connections.
func (a *App) Close() {
	if a.Chain != nil {
		a.Chain.WaitWriteBacks()
	}
	for _, closeFunc := range a.closers {
		if err := closeFunc(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
