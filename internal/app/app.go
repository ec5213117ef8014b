package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/skyassure/peerreview-backend/internal/db"
	internalhttp "github.com/skyassure/peerreview-backend/internal/http"
	httpH "github.com/skyassure/peerreview-backend/internal/http/handlers"
	"github.com/skyassure/peerreview-backend/internal/observability"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/services"
	"github.com/skyassure/peerreview-backend/internal/sse"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Hub      *sse.Hub
	Server   *internalhttp.Server
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	hub := sse.NewHub(log)
	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, clients, reposet, hub)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	metrics := observability.Init(log)
	handlerset := wireHandlers(log, theDB, serviceset, hub)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(log, metrics, handlerset, middleware)

	return &App{
		Log:      log,
		DB:       theDB,
		Cfg:      cfg,
		Clients:  clients,
		Repos:    reposet,
		Services: serviceset,
		Hub:      hub,
		Server:   &internalhttp.Server{Engine: router},
		Metrics:  metrics,
	}, nil
}

// Start launches the background machinery: the job worker, the recurring
// sweep scheduler, the redis-to-hub forwarder and the metric collectors.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.otelShutdown = observability.InitOTel(ctx, a.Log, observability.OtelConfig{
		ServiceName: "peerreview-backend",
		Environment: os.Getenv("APP_ENV"),
		Version:     httpH.Version,
	})

	if a.Services.JobWorker != nil {
		a.Services.JobWorker.Start(ctx)
	}
	if a.Services.Sweeper != nil {
		a.Services.Sweeper.Start(ctx)
	}

	if a.Clients.Bus != nil && a.Hub != nil {
		if err := a.Clients.Bus.StartForwarder(ctx, func(m sse.Message) {
			a.Hub.Broadcast(m)
		}); err != nil {
			a.Log.Warn("Redis SSE forwarder failed to start", "error", err)
		}
	}

	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, os.Getenv("METRICS_ADDR"))
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
		a.Metrics.StartRedisCollector(ctx, a.Log, os.Getenv("REDIS_ADDR"))
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Start(addr)
}

func (a *App) Shutdown(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return nil
	}
	return a.Server.Shutdown(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
		a.otelShutdown = nil
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}

// hubPublisher delivers notification pushes to the local hub when no redis
// bus is configured.
type hubPublisher struct {
	hub *sse.Hub
}

func (p hubPublisher) Publish(_ context.Context, msg sse.Message) error {
	p.hub.Broadcast(msg)
	return nil
}

var _ services.NotificationPublisher = hubPublisher{}
