package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/shuttle-presence/internal/auth"
	"github.com/example/shuttle-presence/internal/broadcast"
	"github.com/example/shuttle-presence/internal/config"
	"github.com/example/shuttle-presence/internal/directory"
	"github.com/example/shuttle-presence/internal/geo"
	httpapi "github.com/example/shuttle-presence/internal/http"
	"github.com/example/shuttle-presence/internal/ingest"
	"github.com/example/shuttle-presence/internal/logging"
	"github.com/example/shuttle-presence/internal/protocol"
	"github.com/example/shuttle-presence/internal/refdata"
	"github.com/example/shuttle-presence/internal/session"
	"github.com/example/shuttle-presence/internal/sweep"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	set, err := refdata.Load(cfg.RefDataPath, logger)
	if err != nil {
		logger.Error("reference data load failed", "path", cfg.RefDataPath, "error", err)
		os.Exit(1)
	}
	resolver := geo.NewResolver(set.Zones)
	route := geo.NewRoute(set.Checkpoints)
	logger.Info("reference data loaded", "zones", len(set.Zones), "checkpoints", len(set.Checkpoints))

	var store session.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		ps, err := session.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres store init failed", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		store = session.NewMemoryStore()
		logger.Warn("PG_DSN not set, sessions are held in memory only")
	}

	var dir directory.Directory
	if cfg.RedisAddr != "" {
		rd := directory.NewRedisDirectory(cfg.RedisAddr, cfg.RedisPassword)
		defer rd.Close()
		dir = rd
	} else {
		dir = directory.Static{}
		logger.Warn("REDIS_ADDR not set, broadcast views carry bare user ids")
	}

	var producer ingest.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		producer = kp
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Error("verifier init failed", "error", err)
		os.Exit(1)
	}

	registry := broadcast.NewRegistry(logging.Component(logger, "broadcast"))
	engine := broadcast.NewEngine(store, dir, resolver.Zones(), route.Checkpoints(), registry, logging.Component(logger, "broadcast"))

	handler := &protocol.Handler{
		Store:     store,
		Resolver:  resolver,
		Route:     route,
		Engine:    engine,
		Registry:  registry,
		Producer:  producer,
		MaxActive: cfg.CarrierMaxActive,
		Logger:    logging.Component(logger, "protocol"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := &sweep.Sweeper{
		Store:     store,
		Registry:  registry,
		Engine:    engine,
		Producer:  producer,
		Interval:  cfg.SweepInterval,
		MaxActive: cfg.CarrierMaxActive,
		Logger:    logging.Component(logger, "sweep"),
	}
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(verifier, handler, engine, logging.Component(logger, "http")),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("shuttle-presence listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}

// runMigrations applies the bundled schema when MIGRATE=true, the same
// opt-in used by local and CI setups.
func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()

	b, err := os.ReadFile(filepath.Join("migrations", "001_create_sessions.sql"))
	if err != nil {
		logger.Error("migration read failed", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec failed", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_sessions.sql")
}
