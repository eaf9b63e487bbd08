package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"holotag.dev/internal/sim/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory (event log, session log, index)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event index")

		consoleViewers = flag.String("console_viewers", "console", "comma-separated viewer ids joined when transport is log")
		logMoves       = flag.Bool("log_moves", false, "log every per-tick move (transport log only)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune, _ = tuning.Load("")
	}

	rt, err := newRuntime(tune, runtimeConfig{
		DataDir:        *dataDir,
		DisableDB:      *disableDB,
		ConsoleViewers: strings.Split(*consoleViewers, ","),
		LogMoves:       *logMoves,
	}, logger)
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}
	defer rt.Close()

	mux := rt.routes(
		envBool("HT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		envBool("HT_ENABLE_PPROF_HTTP", false),
	)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := rt.loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Printf("listening on %s transport=%s tick_rate=%d entities=%d", *addr, tune.Transport, tune.TickRateHz, len(tune.Entities))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	err = g.Wait()
	rt.finalSnapshot()
	if err != nil {
		logger.Printf("server stopped: %v", err)
		return
	}
	logger.Printf("server stopped")
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
