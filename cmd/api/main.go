package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"storekeep.dev/internal/access"
	"storekeep.dev/internal/activity"
	"storekeep.dev/internal/audit"
	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/backend/memory"
	"storekeep.dev/internal/backend/pg"
	"storekeep.dev/internal/broadcast"
	"storekeep.dev/internal/config"
	"storekeep.dev/internal/httpapi"
	"storekeep.dev/internal/localstore"
	"storekeep.dev/internal/obs"
	"storekeep.dev/internal/provider/jwtlocal"
	"storekeep.dev/internal/session"
	"storekeep.dev/internal/storectx"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AuthSecret == "" {
		log.Fatal("SK_AUTH_SECRET is required")
	}

	obs.Init()
	obs.InitLogger(cfg.Env, cfg.LogLevel)
	obs.InitBuildInfo(version, commit)
	defer obs.Sync()
	logger := obs.Log()

	// Backend directory: Postgres when a DSN is set, in-memory otherwise
	// (single-terminal demo mode).
	var (
		dir backend.Directory
		db  *sql.DB
	)
	if cfg.PostgresDSN != "" {
		pgdir, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("open backend directory", zap.Error(err))
		}
		defer pgdir.Close()
		dir = pgdir
		db = pgdir.DB()
	} else {
		logger.Warn("no SK_PG_DSN set, using in-memory directory")
		dir = memory.New()
	}

	kv, err := localstore.Open(cfg.DataDir)
	if err != nil {
		logger.Fatal("open local store", zap.Error(err))
	}

	bus := broadcast.NewBus()
	prov, err := jwtlocal.New(cfg.AuthSecret, cfg.AccountTokenTTL, kv)
	if err != nil {
		logger.Fatal("init token provider", zap.Error(err))
	}

	sess := session.NewManager(session.Config{
		KV:            kv,
		Provider:      prov,
		Bus:           bus,
		Logger:        logger.Named("session"),
		PinTTL:        cfg.PinTTL,
		AccountMaxAge: cfg.AccountMaxAge,
		WarningLead:   cfg.WarningLead,
	})
	binder := storectx.NewBinder(kv, dir, bus, logger.Named("storectx"))
	recorder := audit.NewRecorder(dir, logger.Named("audit"), 120)
	resolver := access.NewResolver(dir, logger.Named("access"), 5*time.Minute)
	guard := access.NewGuard(access.GuardConfig{
		Resolver:       resolver,
		Directory:      dir,
		Recorder:       recorder,
		Logger:         logger.Named("access"),
		ProvisionalTTL: cfg.ProvisionalTTL,
	})
	monitor := activity.NewMonitor(activity.Config{
		Sessions:    sess,
		Logger:      logger.Named("activity"),
		Threshold:   cfg.ActivityThreshold,
		IdleTimeout: cfg.IdleTimeout,
	})

	// Privilege caches die with the identity that earned them.
	sess.OnInvalidate(resolver.Invalidate)
	sess.OnExpired(func() {
		_ = guard.SetContext(nil, "")
		monitor.Stop()
	})
	sess.OnWarning(func(remaining time.Duration) {
		logger.Info("session expiring soon", zap.Duration("remaining", remaining))
	})
	monitor.OnIdle(func() {
		logger.Info("idle timeout, clearing session")
		_ = sess.Clear(context.Background())
		_ = guard.SetContext(nil, "")
	})

	// Recover a persisted session from a previous run.
	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if restored := sess.Restore(startCtx); restored != nil {
		storeID := ""
		if st, err := binder.Restore(startCtx, restored.Identity.ID()); err == nil && st != nil {
			storeID = st.ID
		}
		if err := guard.SetContext(restored.Identity, storeID); err != nil {
			_ = sess.Clear(startCtx)
		} else {
			go func() { _, _ = guard.Resolve(context.Background()) }()
			monitor.Start()
		}
	}
	startCancel()

	api := httpapi.New(httpapi.Deps{
		Directory: dir,
		Provider:  prov,
		Sessions:  sess,
		Binder:    binder,
		Guard:     guard,
		Monitor:   monitor,
		Bus:       bus,
		Probe:     httpapi.ReadyProbe{DB: db},
		Logger:    logger.Named("http"),
		Version:   version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting storekeep-agent", zap.String("version", version), zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	monitor.Stop()
	logger.Info("stopped")
}
