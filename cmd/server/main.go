package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lynus-agent/pkg/actions"
	"lynus-agent/pkg/agent"
	"lynus-agent/pkg/api"
	"lynus-agent/pkg/auth"
	"lynus-agent/pkg/config"
	"lynus-agent/pkg/db"
	"lynus-agent/pkg/llm"
	"lynus-agent/pkg/logging"
	"lynus-agent/pkg/store"
	"lynus-agent/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	storeType := flag.String("store", "", "store backend: sqlite|mysql|memory (overrides config)")
	staticDir := flag.String("static", "", "static files directory (overrides config)")
	initDB := flag.Bool("init-db", false, "drop and recreate all tables, then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *storeType != "" {
		cfg.Database.Driver = *storeType
	}
	if *staticDir != "" {
		cfg.StaticDir = *staticDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	st, err := openStore(cfg.Database, log, *initDB)
	if err != nil {
		return err
	}
	if *initDB {
		log.Info("database initialized", "driver", cfg.Database.Driver)
		return nil
	}
	if cfg.LLM.APIKey == "" {
		log.Warn("OPENROUTER_API_KEY not set; callers must supply api_key")
	}

	client := llm.NewClient(cfg.LLM)
	hub := api.NewStepHub(st, log)
	controller := agent.NewController(st, client, actions.NewDispatcher(log),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithIterationDelay(cfg.Agent.IterationDelay),
		agent.WithStepListener(hub.Publish),
		agent.WithLogger(log),
	)
	pool := agent.NewPool(controller, cfg.Agent.Workers, cfg.Agent.QueueSize, log,
		agent.WithDoneHook(hub.Finish))

	handler := api.NewRouter(api.Deps{
		Store:         st,
		Issuer:        auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Exec:          pool,
		Hub:           hub,
		APIKey:        cfg.LLM.APIKey,
		Model:         client.Model(),
		MaxIterations: controller.MaxIterations(),
		StaticDir:     cfg.StaticDir,
		CORSOrigins:   cfg.CORSOrigins,
		Log:           log,
	})
	tlsCfg, err := api.ServerTLSConfig(cfg)
	if err != nil {
		return fmt.Errorf("build TLS config: %w", err)
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr, "tls", tlsCfg != nil, "store", cfg.Database.Driver, "version", version.String())
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = pool.Close(context.Background())
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := pool.Close(sctx); err != nil {
		log.Warn("agent pool shutdown cancelled runs", "err", err)
	}
	return nil
}

func openStore(cfg config.Database, log *slog.Logger, reset bool) (store.Store, error) {
	if cfg.Driver == "memory" {
		if reset {
			return nil, errors.New("-init-db needs a database store")
		}
		return store.NewMemory(), nil
	}
	gdb, err := db.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if reset {
		if err := db.Reset(gdb); err != nil {
			return nil, err
		}
	}
	return store.NewGormStore(gdb), nil
}
