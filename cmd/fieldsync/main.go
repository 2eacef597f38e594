// Package main runs the FieldSync device agent: it wires the local
// store, conflict resolver, and sync orchestrator together, serves the
// WebSocket event feed plus a small inspection API, and keeps auto-sync
// running until the process is signalled.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/offsitehq/fieldsync/internal/config"
	"github.com/offsitehq/fieldsync/internal/conflict"
	"github.com/offsitehq/fieldsync/internal/journal"
	"github.com/offsitehq/fieldsync/internal/localstore"
	"github.com/offsitehq/fieldsync/internal/logging"
	"github.com/offsitehq/fieldsync/internal/orchestrator"
	"github.com/offsitehq/fieldsync/internal/remote"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	listenAddr := flag.String("listen", "localhost:8090", "address for the event feed and inspection API")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logging.Init(os.Stdout, level)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logging.Error("Failed to load config", err, map[string]interface{}{"path": *configPath})
			os.Exit(1)
		}
		cfg = loaded
	}

	store, err := localstore.New(cfg.StorageRoot, cfg.MaxQueueSize, cfg.MaxStorageBytes)
	if err != nil {
		logging.Error("Failed to open local store", err, map[string]interface{}{"root": cfg.StorageRoot})
		os.Exit(1)
	}

	jnl, err := journal.Open(filepath.Join(cfg.StorageRoot, "journal"))
	if err != nil {
		logging.Error("Failed to open sync journal", err)
		os.Exit(1)
	}
	defer jnl.Close()

	var endpoint remote.Endpoint
	if cfg.RemoteURL != "" {
		endpoint = remote.NewHTTPEndpoint(&remote.HTTPConfig{
			BaseURL:   cfg.RemoteURL,
			AuthToken: cfg.RemoteAuthToken,
		})
	} else {
		logging.Warn("No remote_url configured, using in-process simulated endpoint")
		endpoint = remote.NewMemoryEndpoint()
	}

	resolver := conflict.NewResolver(cfg.DefaultStrategy)
	orch := orchestrator.New(cfg, store, resolver, endpoint)
	orch.SetJournal(jnl)

	fmt.Printf("FieldSync agent v%s (device %s)\n", Version, orch.DeviceID())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newWSHub()
	unsubscribe := orch.Events().Subscribe(hub.Forward)
	defer unsubscribe()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, orch.Stats())
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := jnl.RecentSessions(20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, sessions)
	})
	mux.HandleFunc("/conflicts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, orch.Resolver().GetUnresolved())
	})
	mux.HandleFunc("/changes/failed", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, store.FailedChanges())
	})
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, orch.Sync(r.Context()))
	})

	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		logging.Info("Inspection API listening", map[string]interface{}{"addr": *listenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server failed", err)
		}
	}()

	orch.SetOnline(true)
	if cfg.AutoSync {
		orch.StartAutoSync(ctx)
	}

	<-ctx.Done()
	logging.Info("Shutting down")

	orch.StopAutoSync()
	server.Shutdown(context.Background())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}
