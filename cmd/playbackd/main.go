package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"playbackd/internal/engine"
	"playbackd/internal/engine/mpv"
	"playbackd/internal/httputil"
	"playbackd/internal/player"
	"playbackd/internal/resolver"
	"playbackd/internal/server"
	"playbackd/internal/store"
)

func main() {
	dbPath := envOr("DB_PATH", "./data/playbackd.db")
	listenAddr := envOr("LISTEN_ADDR", ":7915")
	migrationsDir := envOr("MIGRATIONS_DIR", "./migrations")
	resolverBase := envOr("RESOLVER_BASE_URL", "https://voicechat.tyranno.xyz")
	engineKind := envOr("ENGINE", "mpv")
	corsOrigin := os.Getenv("CORS_ORIGIN")

	if err := httputil.ValidateBaseURL(resolverBase); err != nil {
		log.Fatalf("invalid RESOLVER_BASE_URL: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	s, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(migrationsDir); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	var eng engine.Engine
	switch engineKind {
	case "mpv":
		eng, err = mpv.New(os.Getenv("MPV_PATH"))
		if err != nil {
			log.Fatalf("starting mpv engine: %v", err)
		}
	case "null":
		log.Println("ENGINE=null: using the no-op engine, nothing will be audible")
		eng = engine.NewFake()
	default:
		log.Fatalf("unknown ENGINE %q (want mpv or null)", engineKind)
	}
	defer eng.Close()

	res := resolver.New(resolverBase)

	p := player.New(eng, player.WithHistory(s))
	p.Start(context.Background())
	defer p.Stop()

	var opts []server.Option
	if corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(corsOrigin))
	}
	opts = append(opts, server.WithResolver(res))
	opts = append(opts, server.WithPlayer(p))
	srv := server.NewServer(s, opts...)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("playbackd listening on %s (resolver %s, engine %s)", listenAddr, resolverBase, engineKind)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
