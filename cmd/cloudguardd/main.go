package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	cloudguardapi "go.pilab.hu/cloudguard/api/echo"
	"go.pilab.hu/cloudguard/config"
	"go.pilab.hu/cloudguard/internal/authflow"
	"go.pilab.hu/cloudguard/internal/lifecycle"
	"go.pilab.hu/cloudguard/internal/orchestrator"
	"go.pilab.hu/cloudguard/internal/providers"
	"go.pilab.hu/cloudguard/internal/scanner"
	applog "go.pilab.hu/cloudguard/log"
	appmw "go.pilab.hu/cloudguard/middleware"
	"go.pilab.hu/cloudguard/mongodb"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	applog.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("http_port", cfg.HTTPPort).Msg("starting cloudguard")

	hc := &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second}

	registry, err := providers.NewRegistry(cfg.ProviderSettings(), hc)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build provider registry")
	}
	log.Info().Strs("providers", registry.IDs()).Msg("provider registry initialized")

	var sessions authflow.SessionStore
	var memSessions *authflow.MemorySessionStore
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		sessions = authflow.NewRedisSessionStore(rdb, "cloudguard")
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis pkce session store")
	} else {
		memSessions = authflow.NewMemorySessionStore()
		sessions = memSessions
	}

	manager := lifecycle.NewManager(lifecycle.NewClock(), func(providerID string) (lifecycle.Refresher, error) {
		return registry.Flow(providerID)
	})
	manager.Subscribe(lifecycle.ListenerFunc(func(e lifecycle.Event) {
		log.Info().Str("event", e.Name).Str("provider", e.ProviderID).Str("reason", e.Reason).Msg("connection event")
	}))

	flows := authflow.NewService(registry, sessions, manager, cfg.RedirectBaseURL)

	orchOpts := []orchestrator.Option{
		orchestrator.WithScanTimeout(time.Duration(cfg.ScanTimeoutSec) * time.Second),
	}
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoClient, err = mongo.Connect(mongooptions.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mongodb")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		archive, err := mongodb.NewScanRepositoryMongo(ctx, mongoClient.Database(cfg.MongoDBName))
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize scan archive")
		}
		orchOpts = append(orchOpts, orchestrator.WithArchive(archive))
		log.Info().Str("db", cfg.MongoDBName).Msg("scan archive enabled")
	}

	scans := orchestrator.New(manager, scanner.NewFactory(hc), orchOpts...)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(appmw.RequestLogger())
	cloudguardapi.NewCloudGuardAPI(flows, manager, scans).RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	if err := scans.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("scan orchestrator shutdown error")
	}
	manager.Close()
	if memSessions != nil {
		memSessions.Stop()
	}
	if mongoClient != nil {
		_ = mongoClient.Disconnect(ctx)
	}
}
