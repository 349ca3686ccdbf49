package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/scaleagents/api/internal/auth"
	"github.com/scaleagents/api/internal/client"
	"github.com/scaleagents/api/internal/config"
	"github.com/scaleagents/api/internal/handler"
	"github.com/scaleagents/api/internal/middleware"
	"github.com/scaleagents/api/internal/service"
	"github.com/scaleagents/api/internal/store"
	"github.com/scaleagents/api/internal/worker"
	ws "github.com/scaleagents/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Postgres store
	st := store.New()
	if err := st.Connect(ctx, &cfg.Postgres); err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize vendor clients
	transcriber := client.NewTranscriptionClient(&cfg.AssemblyAI, &cfg.Pipeline)
	completer := client.NewCompletionClient(&cfg.OpenAI)
	billing := client.NewBillingClient(&cfg.Billing)

	var storage client.StorageClient
	if r2, err := client.NewR2Client(&cfg.R2); err != nil {
		log.Printf("Warning: R2 storage not configured: %v", err)
	} else {
		storage = r2
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize services
	analysisService := service.NewAnalysisService(redisClient, asynqClient, st)
	uploadService := service.NewUploadService(storage, st, analysisService)

	// Initialize handlers
	analysisHandler := handler.NewAnalysisHandler(analysisService, st, billing, validate)
	batchHandler := handler.NewBatchHandler(analysisService, billing, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)

	// Initialize middleware
	verifier := auth.NewHMACVerifier(cfg.JWT.Secret)
	authMiddleware := middleware.NewAuthMiddleware(verifier)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    12 * 1024 * 1024, // one chunk plus form overhead
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "scaleagents-api",
			"time":    time.Now().UTC(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"vendors": fiber.Map{
				"transcription": transcriber.IsConfigured(),
				"completion":    completer.IsConfigured(),
				"billing":       billing.IsConfigured(),
				"storage":       storage != nil,
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Analysis routes
	analysis := api.Group("/analysis")
	analysis.Post("/sales-call", rateLimiter.AnalysisLimit(cfg.RateLimit.AnalysisPerHour), analysisHandler.SalesCall)
	analysis.Post("/scale-expert", rateLimiter.AnalysisLimit(cfg.RateLimit.AnalysisPerHour), analysisHandler.ScaleExpert)
	analysis.Get("/status/:jobId", analysisHandler.Status)
	analysis.Get("/result/:jobId", analysisHandler.Result)
	analysis.Get("/records/:id", analysisHandler.GetRecord)

	// Batch routes
	batch := api.Group("/batch")
	batch.Post("/cv", rateLimiter.BatchLimit(cfg.RateLimit.BatchPerHour), batchHandler.Start)
	batch.Get("/status/:jobId", batchHandler.Status)
	batch.Get("/result/:jobId", batchHandler.Result)

	// Upload routes
	upload := api.Group("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour))
	upload.Post("/chunk", uploadHandler.Chunk)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, analysisService, st, transcriber, completer, storage, billing, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, analysisService *service.AnalysisService, st *store.Store, transcriber client.Transcriber, completer client.Completer, storage client.StorageClient, billing client.PlanGate, hub *ws.Hub) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"pipeline": 10,
			},
		},
	)

	// Create workers
	analysisWorker := worker.NewAnalysisWorker(analysisService, st, transcriber, completer, billing, hub, &cfg.Pipeline)
	batchWorker := worker.NewBatchWorker(analysisService, st, completer, storage, billing, hub, &cfg.Pipeline)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeAnalysis, analysisWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeBatch, batchWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
