package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parkgate/internal/config"
	"parkgate/internal/db"
	"parkgate/internal/engine"
	httpapi "parkgate/internal/http"
	"parkgate/internal/repository"
	"parkgate/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg.Log)

	gormDB, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	repo := repository.NewGateRepository(gormDB)
	spill := engine.NewSpill(cfg.Engine.RetrySpillPath)
	store := engine.NewRetryingStore(repo, cfg.Engine.PersistenceRetries, 200*time.Millisecond, spill, log)

	eng := engine.New(engine.Config{
		Cooldown:                       cfg.Engine.ToggleCooldown(),
		ExitSimilarityThreshold:        cfg.Engine.ExitSimilarityThreshold,
		ImmediateFinalizationThreshold: cfg.Engine.ImmediateFinalizationThreshold,
		BufferWindow:                   cfg.Engine.BufferWindow(),
		OrphanHorizon:                  cfg.Engine.OrphanSessionHorizon(),
		RecencyHorizon:                 cfg.Engine.IdentityRecencyHorizon(),
		MinPlateDigits:                 cfg.Engine.MinPlateDigits,
		CameraQueueSize:                cfg.Engine.CameraQueueSize,
		DropOldestOnFullQueue:          cfg.Engine.DropOldestOnFullQueue,
		SweepInterval:                  time.Hour,
		Fees: engine.FeeSchedule{
			HourlyRate:         cfg.Parking.HourlyRate,
			MinimumChargeHours: cfg.Parking.MinimumChargeHours,
		},
	}, store, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	gateService := service.NewGateService(eng, repo, store, log)
	handler := httpapi.NewHandler(gateService, cfg, log)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	handler.Register(router, httpapi.JWTAuth(cfg.Auth.JWTSecret))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("parkgate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Stop accepting detections before flushing the engine so no pass
	// buffers refill behind the flush.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := eng.Stop(); err != nil {
		log.Error().Err(err).Msg("engine shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
