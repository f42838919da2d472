package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rajchodisetti/futures-feed/internal/app"
	"github.com/Rajchodisetti/futures-feed/internal/config"
	"github.com/Rajchodisetti/futures-feed/internal/market"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

var version = "dev" // set via -ldflags

func main() {
	var cfgPath string
	var envFile string
	var addr string
	var active string
	flag.StringVar(&cfgPath, "config", "", "config path (defaults are used when empty)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with provider API keys")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config)")
	flag.StringVar(&active, "active", "", "symbol to make active at startup, e.g. MES")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load %s: %v", envFile, err)
	}

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if v := os.Getenv("FEED_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	observ.SetLogger(observ.NewLogger(cfg.Logging.Level))
	observ.SetVersion(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	observ.Log("startup", map[string]any{
		"version":          version,
		"addr":             cfg.Server.Addr,
		"store":            cfg.Store.Backend,
		"gateway_enabled":  a.Gateway != nil,
		"search_endpoints": len(cfg.Endpoints.Search),
	})

	if err := a.Scheduler.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	go a.Hub.Run(ctx, a.Scheduler.Updates())

	if active != "" {
		inst, ok := market.LookupInstrument(active)
		if !ok {
			inst = market.Instrument{Symbol: market.NormalizeSymbol(active), SecType: market.SecFuture}
		}
		a.Scheduler.Select(inst)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Server().Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),

		// Streams end when the process is signalled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server: %v", err)
			stop()
		}
	}()
	observ.Log("http_listening", map[string]any{"addr": cfg.Server.Addr})

	<-ctx.Done()
	observ.Log("shutdown", map[string]any{"reason": context.Cause(ctx).Error()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := a.Scheduler.Stop(shutdownCtx); err != nil {
		log.Printf("scheduler stop: %v", err)
	}
}
