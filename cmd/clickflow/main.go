package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"clickflow/internal/api"
	"clickflow/internal/config"
	"clickflow/internal/coordinator"
	"clickflow/internal/executor"
	"clickflow/internal/planner"
	"clickflow/internal/pool"
	"clickflow/internal/progress"
	"clickflow/internal/store"
	"clickflow/internal/tokens"
	"clickflow/internal/trigger"
	"clickflow/internal/window"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config path")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
		debug   = flag.Bool("debug", false, "enable pprof and debug logging")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	clock, err := window.NewClock(cfg.Timezone, cfg.UTCOffset)
	if err != nil {
		log.Fatal().Err(err).Msg("configure timezone")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	repo := store.NewSQLiteRepo(db)

	hub := progress.NewHub()

	httpExec := executor.NewHTTPExecutor(executor.HTTPConfig{
		Timeout:    cfg.HTTPTier.Timeout(),
		RatePerSec: cfg.HTTPTier.RatePerSec,
	})
	browserExec := executor.NewBrowserExecutor(executor.BrowserConfig{
		Timeout:  cfg.BrowserTier.Timeout(),
		ProxyURL: cfg.BrowserTier.ProxyURL,
	})
	defer browserExec.Close()

	workers := pool.New(httpExec, browserExec,
		pool.TierConfig{Workers: cfg.HTTPTier.Workers, QueueDepth: cfg.HTTPTier.QueueDepth},
		pool.TierConfig{Workers: cfg.BrowserTier.Workers, QueueDepth: cfg.BrowserTier.QueueDepth},
	)
	workers.Start()

	var source tokens.BalanceSource = tokens.KeepSource{Repo: repo}
	if cfg.BalanceURL != "" {
		source = tokens.NewHTTPSource(cfg.BalanceURL)
	}
	sync := tokens.NewSynchronizer(repo, source)

	gen := planner.NewGenerator(repo)
	coord := coordinator.New(repo, workers, sync, hub, cfg.CostPerClick)
	runner := trigger.NewRunner(repo, gen, coord, sync, clock, cfg.ParallelTasks)

	// Finalize days left open by a previous crash; idempotent re-triggering
	// handles the rest.
	if res, err := runner.DailyPlan(context.Background()); err != nil {
		log.Warn().Err(err).Msg("recover open plans")
	} else if res.DaysClosed > 0 {
		log.Info().Int("closed", res.DaysClosed).Msg("closed stale plans")
	}

	var loop *trigger.Loop
	if cfg.Cron.Enabled {
		loop, err = runner.NewLoop(trigger.CronSpecs{
			DailyPlan: cfg.Cron.DailyPlan,
			HourlyRun: cfg.Cron.HourlyRun,
			TokenSync: cfg.Cron.TokenSync,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("configure trigger loop")
		}
		loop.Start()
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.NewServerWithDebug(repo, runner, workers, hub, clock, cfg.Debug),
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	if loop != nil {
		loop.Stop()
	}
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	workers.Shutdown()
}
