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

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/memorial/internal/api"
	"github.com/bobarin/memorial/internal/config"
	"github.com/bobarin/memorial/internal/db"
	"github.com/bobarin/memorial/internal/queue"
	"github.com/bobarin/memorial/internal/services"
	"github.com/bobarin/memorial/internal/storage"
	"github.com/bobarin/memorial/internal/worker"
)

func main() {
	log.Println("Starting Memorial API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Printf("Connected to database (%s)", database.Dialect())

	// Initialize storage
	stor := storage.New(cfg.StaticDir, cfg.PublicBaseURL)
	if err := stor.EnsureLayout(); err != nil {
		log.Fatalf("Failed to prepare static directory: %v", err)
	}
	log.Printf("Serving public files from %s", cfg.StaticDir)

	// Connect to queue
	q, err := openQueue(cfg, database)
	if err != nil {
		log.Fatalf("Failed to open queue: %v", err)
	}
	defer q.Close()

	// Create API handler
	handler := api.NewHandler(
		database,
		q,
		stor,
		services.NewQRCodeService(cfg.StaticDir),
		services.NewReportService(cfg.StaticDir),
		cfg.PublicBaseURL,
		cfg.MaxUploadBytes(),
	)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:  cfg.BackendAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
		StaticDir:      cfg.StaticDir,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, admin routes are unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Start worker if enabled. It is not tied to the signal context: on
	// shutdown it finishes the queued jobs and stops at the sentinel.
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		ffmpegSvc := services.NewFFmpegService(cfg.FFmpegPath, cfg.FFmpegTimeout)
		if err := ffmpegSvc.Available(); err != nil {
			log.Printf("WARNING: %v (video jobs will fail)", err)
		}

		w := worker.New(database, q, ffmpegSvc, services.NewImageService(), stor)
		g.Go(func() error {
			defer close(workerDone)
			return w.Run(context.Background())
		})
	} else {
		log.Println("Worker disabled, jobs stay queued")
		close(workerDone)
	}

	g.Go(func() error {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
		}

		if cfg.WorkerEnabled {
			log.Println("Waiting for queued video jobs to finish...")
			if err := q.Shutdown(context.Background()); err != nil {
				log.Printf("Failed to enqueue shutdown job: %v", err)
			}
		}
		<-workerDone
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("Exited with error: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited")
}

// openQueue selects the queue backend and repairs state left by a previous
// process.
func openQueue(cfg *config.Config, database *db.DB) (queue.Queue, error) {
	ctx := context.Background()

	if cfg.QueueBackend == config.QueueBackendRedis {
		rq, err := queue.NewRedisQueue(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if _, err := rq.Recover(ctx); err != nil {
			rq.Close()
			return nil, err
		}
		log.Println("Connected to Redis queue")
		return rq, nil
	}

	// In-memory jobs did not survive the restart, so their flags are stale.
	n, err := database.ResetStaleProcessing(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.Printf("Reset %d stale video job flag(s)", n)
	}
	log.Println("Using in-memory queue")
	return queue.NewMemoryQueue(), nil
}
