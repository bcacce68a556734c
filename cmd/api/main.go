package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/avelasco/chatrelay/internal/config"
	"github.com/avelasco/chatrelay/internal/handler"
	"github.com/avelasco/chatrelay/internal/handler/ws"
	"github.com/avelasco/chatrelay/internal/service/enrich"
	"github.com/avelasco/chatrelay/internal/service/relay"
	"github.com/avelasco/chatrelay/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	messageLog, err := openLog(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open message log: %v", err)
	}
	defer messageLog.Close()

	registry := relay.NewRegistry()
	router := relay.NewRouter(messageLog, registry)
	replayer := relay.NewReplayer(messageLog, registry)
	resolver := enrich.NewResolver(cfg.Relay.EnrichTimeout)

	wsHandler := ws.New(registry, router, replayer, resolver, cfg.Relay.RecoveryWindow)
	httpRouter := handler.NewRouter(wsHandler, "client")

	if err := serve(ctx, cfg.Server, httpRouter); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// openLog connects the configured log store and makes sure its schema
// exists before the server accepts any connection.
func openLog(ctx context.Context, cfg config.StoreConfig) (store.Log, error) {
	if cfg.Endpoint == "memory" {
		log.Println("using in-memory message log; history will not survive a restart")
		return store.NewMemory(), nil
	}

	sqlLog, err := store.Open(cfg.Endpoint, cfg.Token)
	if err != nil {
		return nil, err
	}
	if err := sqlLog.EnsureSchema(ctx); err != nil {
		sqlLog.Close()
		return nil, err
	}

	log.Printf("message log ready at %s", cfg.Endpoint)
	return sqlLog, nil
}

// serve runs the HTTP listener until the context is canceled, then drains
// open connections before returning.
func serve(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("chat relay listening on %s", serverCfg.Addr)

	select {
	case <-ctx.Done():
		log.Println("signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
