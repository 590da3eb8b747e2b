// Package main provides the local desktop server. Desktop shells talk to
// the sync engine via REST and WebSocket on localhost.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/ledgerdesk/backend/internal/config"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		logging.Error("Desktop server stopped", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	sess, err := session.New(cfg, session.Options{})
	if err != nil {
		return err
	}
	defer sess.Close()

	hub := NewWSHub()
	defer hub.Close()
	connect(sess, hub)

	sess.Start(ctx)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(sess, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Desktop server listening", map[string]interface{}{"addr": cfg.Server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// connect routes engine, guard and connectivity events to the hub.
func connect(sess *session.Session, hub *WSHub) {
	sess.Engine().SetEventHandler(hub)
	sess.Notifier().Subscribe(hub.OnGuardNotice)
	sess.Monitor().Subscribe(hub.OnConnectivity)
}

// newRouter registers every route.
func newRouter(sess *session.Session, hub *WSHub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"ledgerdesk-desktop"}`))
	})

	handlers.NewRecordHandler(sess.Client()).Register(mux)
	handlers.NewSyncHandler(sess).Register(mux)
	mux.HandleFunc("/api/ws", HandleWebSocket(hub))
	return mux
}
