package http

import (
	"context"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"replyflow/internal/cache"
	"replyflow/internal/config"
	"replyflow/internal/database"
	"replyflow/internal/generator"
	"replyflow/internal/handler"
	"replyflow/internal/platform"
	"replyflow/internal/processor"
	"replyflow/internal/queue"
	"replyflow/internal/redis"
	"replyflow/internal/repository"
	"replyflow/internal/scheduler"
	"replyflow/internal/service"
	"replyflow/internal/worker"
)

// Run wires the whole engine together and blocks until SIGINT/SIGTERM.
func Run() error {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Connect to Database and migrate
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// 3. Connect to Redis
	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer redisClient.Close()

	if err := redisClient.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Println("Connected to Redis successfully")

	// 4. Repositories
	accountRepo := repository.NewAccountRepository(db)
	commentRepo := repository.NewCommentRepository(db)

	// 5. Platform adapters
	creds := platform.EnvCredentialsResolver{}
	adapters := platform.NewRegistry(
		platform.NewYouTubeClient(creds, cfg.MaxCommentsPerFetch),
		platform.NewFacebookClient(creds, cfg.MaxCommentsPerFetch),
		platform.NewInstagramClient(creds, cfg.MaxCommentsPerFetch),
		platform.NewLinkedInClient(creds, cfg.MaxCommentsPerFetch),
		platform.NewTwitterClient(creds, cfg.MaxCommentsPerFetch),
	)

	// 6. Reply generation
	gemini, err := generator.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}
	gen := generator.NewPolicyGenerator(gemini)

	// 7. Activity pipeline: publisher -> stream -> worker -> cache
	publisher := queue.NewPublisher(redisClient.Client)
	consumer := queue.NewConsumer(redisClient.Client)
	activityCache := cache.NewActivityCache(redisClient.Client)

	workerHandler := worker.NewHandler(activityCache)
	workerManager := worker.NewManager(consumer, workerHandler, worker.DefaultManagerConfig())
	if err := workerManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	defer workerManager.Stop()

	// 8. Processor and scheduler
	proc := processor.New(accountRepo, commentRepo, adapters, gen, publisher, processor.Options{
		MaxCommentsPerRun: cfg.MaxCommentsPerFetch,
		PostRetryMax:      cfg.PostRetryMax,
		ClaimStaleness:    cfg.ReplyPendingStaleness,
	})

	sched := scheduler.New(accountRepo, proc, scheduler.Config{
		Concurrency:     cfg.RunConcurrency,
		DefaultInterval: time.Duration(cfg.FetchIntervalSeconds) * time.Second,
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// 9. Services and handlers
	accountService := service.NewAccountService(accountRepo, commentRepo, sched, activityCache)
	engagementService := service.NewEngagementService(commentRepo, accountRepo, adapters, publisher, cfg.ReplyPendingStaleness)

	router := NewRouter(RouterConfig{
		AccountHandler: handler.NewAccountHandler(accountService),
		CommentHandler: handler.NewCommentHandler(engagementService),
		AdminAPIKey:    cfg.AdminAPIKey,
	})

	if cfg.AdminAPIKey == "" {
		log.Println("WARNING: ADMIN_API_KEY not set, operator API will reject all requests")
	}

	// 10. HTTP server with graceful shutdown
	server := &stdhttp.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Printf("Received %s, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Deferred Stop calls drain the scheduler and workers.
	log.Println("Server stopped")
	return nil
}
