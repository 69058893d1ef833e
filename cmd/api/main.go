package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskhive.org/internal/auth"
	"taskhive.org/internal/config"
	"taskhive.org/internal/httpapi"
	"taskhive.org/internal/obs"
	"taskhive.org/internal/push"
	"taskhive.org/internal/relay"
	"taskhive.org/internal/store/pg"
	"taskhive.org/internal/todo"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	codec, err := auth.NewCodec(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("auth codec: %v", err)
	}

	// Persistence and relay: Postgres when a DSN is configured,
	// in-memory plus loopback otherwise (single-node / development).
	var (
		store todo.Store
		rel   relay.Relay
		probe httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		rel = relay.NewPG(pgStore.DB(), cfg.PGDSN)
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("no TASKHIVE_PG_DSN set, using in-memory store")
		store = todo.NewInMemory()
		rel = relay.NewLoopback()
	}

	svc := todo.NewService(store, rel, todo.LogSender{}, todo.Options{
		CodeTTL:       cfg.CodeTTL,
		Debug:         cfg.Debug,
		GreetingTodos: cfg.GreetingTodos,
	})

	registry := push.NewRegistry()
	dispatcher := push.NewDispatcher(store, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Run(ctx)
	go func() {
		if err := rel.Subscribe(ctx, dispatcher.Handle); err != nil && ctx.Err() == nil {
			log.Printf("relay subscription ended: %v", err)
		}
	}()

	api := httpapi.New(svc, registry, codec, cfg, probe, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // websocket connections outlive any write deadline
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting taskhive-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
