// Package main serves the read-only KIMkit item query API over HTTP.
// The repository tree stays the source of truth; this process only
// exposes the search index mirror.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/openkim/KIMkit/pkg/index"
	"github.com/openkim/KIMkit/pkg/repository"
)

func main() {
	var (
		listenAddr    string
		rebuildOnBoot bool
	)
	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.BoolVar(&rebuildOnBoot, "rebuild", false, "Rebuild the index from the repository before serving")
	flag.Parse()
	_ = flag.Set("logtostderr", "true")

	cfg := repository.ConfigFromEnv()
	if err := cfg.EnsureLayout(); err != nil {
		glog.Fatalf("Failed to prepare repository layout: %v", err)
	}

	db, err := index.Open(cfg.DatabasePath)
	if err != nil {
		glog.Fatalf("Failed to open index database: %v", err)
	}
	store := index.NewStore(db, cfg.RepositoryPath)
	if err := store.AutoMigrate(); err != nil {
		glog.Fatalf("Failed to migrate index schema: %v", err)
	}

	if rebuildOnBoot {
		count, err := store.Rebuild()
		if err != nil {
			glog.Fatalf("Failed to rebuild index: %v", err)
		}
		glog.Infof("rebuilt index with %d item versions", count)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		glog.Infof("received shutdown signal %s", sig)
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: index.Router(store),
	}

	go func() {
		glog.Infof("kimkit-server listening on %s, repository at %s", listenAddr, cfg.RepositoryPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	glog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("HTTP server shutdown error: %v", err)
	}
}
