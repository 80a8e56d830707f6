package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"emojiart-server/background"
	"emojiart-server/config"
	"emojiart-server/core"
	"emojiart-server/editor"
	"emojiart-server/handlers/api/checkpoints"
	"emojiart-server/handlers/api/documents"
	"emojiart-server/handlers/websocket"
	"emojiart-server/middleware"
	"emojiart-server/stores"
	"emojiart-server/stores/aws"
	"emojiart-server/workspace"
)

type activeDocument struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	Open       bool   `json:"open"`
	LastActive *int64 `json:"lastActive,omitempty"`
}

func setupRouter(ws *workspace.Workspace, hub *websocket.Hub, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)

	corsOptions := cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "::1":
					return true
				}
			}
			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	var guard func(http.Handler) http.Handler
	if jwtSecret != "" {
		guard = middleware.AuthJWT([]byte(jwtSecret))
		logrus.Info("Bearer authentication enabled for mutating routes")
	}

	checkpointStore, hasCheckpoints := ws.Store().(core.CheckpointStore)
	r.Route("/api/v1/documents", func(r chi.Router) {
		documents.Register(r, ws, guard)
		if hasCheckpoints {
			checkpoints.Register(r, checkpointStore, ws, guard)
		}
	})
	if hasCheckpoints {
		logrus.Info("Checkpoint API routes registered")
	} else {
		logrus.Warn("Checkpoint API not available - requires memory or SQLite storage")
	}

	registry, _ := ws.Store().(core.ActivityRegistry)
	r.Get("/api/v1/active", handleActive(ws, hub, registry))
	r.Handle("/metrics", promhttp.Handler())

	if hub != nil {
		r.Handle("/socket.io/", hub.Server.ServeHandler(nil))
	}
	return r
}

// handleActive lists documents that are open, have connected sockets, or
// were recently touched according to the store.
func handleActive(ws *workspace.Workspace, hub *websocket.Hub, registry core.ActivityRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := make(map[string]*activeDocument)
		entry := func(id string) *activeDocument {
			d, ok := docs[id]
			if !ok {
				d = &activeDocument{ID: id}
				docs[id] = d
			}
			return d
		}

		for _, id := range ws.OpenIDs() {
			entry(id).Open = true
		}
		if hub != nil {
			for id, users := range hub.ActiveDocuments() {
				entry(id).Users = users
			}
		}
		if registry != nil {
			if stored, err := registry.ListActive(r.Context()); err != nil {
				logrus.WithError(err).Warn("failed to list document activity")
			} else {
				for _, a := range stored {
					if a.LastActive > 0 {
						lastActive := a.LastActive
						entry(a.DocumentID).LastActive = &lastActive
					}
				}
			}
		}

		list := make([]activeDocument, 0, len(docs))
		for _, d := range docs {
			list = append(list, *d)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Users != list[j].Users {
				return list[i].Users > list[j].Users
			}
			li, lj := int64(0), int64(0)
			if list[i].LastActive != nil {
				li = *list[i].LastActive
			}
			if list[j].LastActive != nil {
				lj = *list[j].LastActive
			}
			if li != lj {
				return li > lj
			}
			return list[i].ID < list[j].ID
		})

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(list); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}
}

func newFetcher(ctx context.Context, cfg config.Fetch, store core.DocumentStore) (background.Fetcher, error) {
	opts := background.Options{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		MaxBytes:   cfg.MaxBytes,
		MaxTries:   cfg.Retries,
		FileRoot:   cfg.FileRoot,
	}
	if cfg.S3 {
		if s3Store, ok := store.(*aws.Store); ok {
			opts.S3 = s3Store.Client()
		} else {
			f, err := background.NewS3Fetcher(ctx, cfg.MaxBytes)
			if err != nil {
				return nil, err
			}
			opts.S3 = f.Client
		}
	}

	router := background.NewDefaultRouter(opts)
	logrus.WithFields(logrus.Fields{
		"schemes": router.Schemes(),
		"timeout": cfg.Timeout,
	}).Info("Background fetching configured")
	return router, nil
}

func waitForShutdown(server *http.Server, hub *websocket.Hub, ws *workspace.Workspace) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hub.Close()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown failed")
	}
	if err := ws.CloseAll(ctx); err != nil {
		logrus.WithError(err).Error("Failed to save open documents")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	logLevel := flag.String("loglevel", "", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", "", "Set the server listen address")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	ctx := context.Background()
	store, err := stores.GetStore(ctx, cfg.Storage)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open storage")
	}
	fetcher, err := newFetcher(ctx, cfg.Fetch, store)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure background fetching")
	}

	ws := workspace.New(store, workspace.Config{
		Fetcher:          fetcher,
		UndoLimit:        cfg.Editor.UndoLimit,
		AutosaveInterval: cfg.Editor.AutosaveInterval,
		Metrics:          editor.NewMetrics(),
	})
	hub := websocket.SetupSocketIO(ws)
	r := setupRouter(ws, hub, cfg.Auth.JWTSecret)

	server := &http.Server{Addr: cfg.Listen, Handler: r}
	logrus.WithField("addr", cfg.Listen).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server, hub, ws)
}
