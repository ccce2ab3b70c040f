// Package main provides the on-device companion daemon. The UI talks to
// it on localhost over REST and WebSocket; the daemon owns movement
// detection, drive-mode gating, and the offline action queue.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/tradeline-app/tradeline/backend/cmd/companion/handlers"
	"github.com/tradeline-app/tradeline/backend/internal/actions"
	"github.com/tradeline-app/tradeline/backend/internal/config"
	"github.com/tradeline-app/tradeline/backend/internal/db"
	"github.com/tradeline-app/tradeline/backend/internal/drivemode"
	"github.com/tradeline-app/tradeline/backend/internal/logging"
	"github.com/tradeline-app/tradeline/backend/internal/models"
	"github.com/tradeline-app/tradeline/backend/internal/motion"
	"github.com/tradeline-app/tradeline/backend/internal/storage"
	syncpkg "github.com/tradeline-app/tradeline/backend/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("failed to load configuration", err)
		os.Exit(1)
	}

	logging.Init(logging.Options{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.File,
	})

	if err := run(cfg); err != nil {
		logging.Error("companion daemon exited with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence
	database, err := db.Open(cfg.Data.Dir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		return err
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	blobs := storage.NewBlobStore(filepath.Join(cfg.Data.Dir, "blobs"))

	// Connectivity and sync
	monitor := syncpkg.NewMonitor()
	remote := syncpkg.NewHTTPRemote(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout)
	engine := syncpkg.NewEngine(repo, blobs, remote, monitor, syncpkg.EngineConfig{
		MaxRetries: cfg.Sync.MaxRetries,
		BatchSize:  25,
	})

	// Core domain
	detector, err := motion.NewDetector(motion.Config{
		ThresholdMPH:     12.0,
		HighFactor:       1.5,
		SustainedWindow:  cfg.Motion.SustainedWindow,
		DipTolerance:     cfg.Motion.DipTolerance,
		HistorySize:      20,
		ConfidenceWindow: 10,
	}, repo)
	if err != nil {
		return err
	}

	controller, err := drivemode.NewController(repo)
	if err != nil {
		return err
	}

	recorder := actions.NewRecorder(repo, blobs, monitor,
		func(ctx context.Context) { engine.TriggerSync(ctx) },
		actions.Config{
			MaxRetries:    cfg.Sync.MaxRetries,
			MaxAssetBytes: cfg.Data.MaxAssetBytes,
		})

	// Event wiring
	hub := NewWSHub()

	detector.SetChangeHandler(func(state models.MovementState) {
		hub.Broadcast(EventMovementUpdated, state)
		controller.ObserveMovement(state)
	})

	controller.SetEventHandler(func(event drivemode.Event) {
		switch event.Type {
		case "prompt":
			hub.Broadcast(EventDriveModePrompt, event.Snapshot)
		case "entered":
			hub.Broadcast(EventDriveModeEntered, event.Snapshot)
		case "exited":
			hub.Broadcast(EventDriveModeExited, event.Snapshot)
		}
	})

	engine.SetEventHandler(func(event syncpkg.Event) {
		switch event.Type {
		case "sync.started":
			hub.Broadcast(EventSyncStarted, nil)
		case "sync.completed":
			hub.Broadcast(EventSyncCompleted, event.Result)
		case "sync.failed":
			hub.Broadcast(EventSyncFailed, event.Result)
		}
		if event.Counts != nil {
			hub.Broadcast(EventQueuePending, event.Counts)
		}
	})

	recorder.Subscribe(func(counts db.PendingCounts) {
		hub.Broadcast(EventQueuePending, counts)
	})

	monitor.AddListener(func(online bool) {
		hub.Broadcast(EventNetworkChanged, map[string]bool{"online": online})
		if online {
			// Connectivity returned; replay the queue.
			engine.TriggerSync(ctx)
		}
	})

	// Background scheduling
	scheduler := syncpkg.NewScheduler(engine, monitor, &syncpkg.SchedulerConfig{
		SyncInterval:    cfg.Sync.Interval,
		PublishInterval: cfg.Sync.PendingPublishInterval,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// HTTP surface
	router := newRouter(hub, detector, controller, recorder, engine, monitor, cfg)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("companion daemon listening", logging.Fields{"addr": server.Addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func newRouter(
	hub *WSHub,
	detector *motion.Detector,
	controller *drivemode.Controller,
	recorder *actions.Recorder,
	engine *syncpkg.Engine,
	monitor *syncpkg.Monitor,
	cfg *config.Config,
) *mux.Router {
	motionHandler := handlers.NewMotionHandler(detector)
	driveModeHandler := handlers.NewDriveModeHandler(controller)
	actionsHandler := handlers.NewActionsHandler(recorder, cfg.Data.MaxAssetBytes)
	syncHandler := handlers.NewSyncHandler(engine, monitor)

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tradeline-companion"}`))
	}).Methods(http.MethodGet)

	api.HandleFunc("/location/watch", motionHandler.PostWatch).Methods(http.MethodPost)
	api.HandleFunc("/location/samples", motionHandler.PostSample).Methods(http.MethodPost)
	api.HandleFunc("/motion/state", motionHandler.GetState).Methods(http.MethodGet)

	api.HandleFunc("/drive-mode", driveModeHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/drive-mode/accept", driveModeHandler.Accept).Methods(http.MethodPost)
	api.HandleFunc("/drive-mode/decline", driveModeHandler.Decline).Methods(http.MethodPost)
	api.HandleFunc("/drive-mode/enter", driveModeHandler.Enter).Methods(http.MethodPost)
	api.HandleFunc("/drive-mode/exit", driveModeHandler.Exit).Methods(http.MethodPost)
	api.HandleFunc("/drive-mode/reset", driveModeHandler.Reset).Methods(http.MethodPost)

	api.HandleFunc("/actions/notes", actionsHandler.PostNote).Methods(http.MethodPost)
	api.HandleFunc("/actions/status", actionsHandler.PostStatus).Methods(http.MethodPost)
	api.HandleFunc("/actions/drafts", actionsHandler.PostDraft).Methods(http.MethodPost)
	api.HandleFunc("/actions/photos", actionsHandler.PostPhoto).Methods(http.MethodPost)
	api.HandleFunc("/actions/voice-notes", actionsHandler.PostVoiceNote).Methods(http.MethodPost)
	api.HandleFunc("/actions/pending", actionsHandler.GetPending).Methods(http.MethodGet)

	api.HandleFunc("/network", syncHandler.PostNetwork).Methods(http.MethodPost)
	api.HandleFunc("/network", syncHandler.GetNetwork).Methods(http.MethodGet)
	api.HandleFunc("/sync/trigger", syncHandler.TriggerSync).Methods(http.MethodPost)
	api.HandleFunc("/sync/status", syncHandler.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync/retry-failed", syncHandler.RetryFailed).Methods(http.MethodPost)

	router.HandleFunc("/ws", hub.ServeWS)

	return router
}
