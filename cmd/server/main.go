package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"entitlement-service/config"
	"entitlement-service/internal/api"
	"entitlement-service/internal/appstore"
	"entitlement-service/internal/broker"
	"entitlement-service/internal/redisclient"
	"entitlement-service/internal/service"
	"entitlement-service/internal/store"
	"entitlement-service/internal/util"
	"entitlement-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting entitlement service")

	if !cfg.IAP.IsConfigured() {
		log.Println("Warning: no product identifiers configured; catalog loads will fail closed")
	}

	tp, err := util.InitTracer("entitlement-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTelemetry)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	telemetry := broker.NewEventPublisher(producer)

	storeClient := appstore.NewClient(cfg.IAP.StoreBaseURL, cfg.IAP.SharedSecret, cfg.IAP.SubscriptionGroupID)
	verifier := appstore.NewReceiptVerifier(cfg.IAP.SharedSecret, cfg.IAP.Environment)

	entitlements := service.NewEntitlementStore(storeClient, verifier, cfg.IAP)
	catalog := service.NewCatalogService(cfg.IAP, storeClient, redisClient, entitlements)
	purchases := service.NewPurchaseService(catalog, storeClient, verifier, entitlements, db)
	restorer := service.NewRestoreService(storeClient, verifier, entitlements, db)
	orchestrator := service.NewOrchestrator(catalog, purchases, restorer, entitlements, telemetry)

	// The listener runs for the process lifetime and is cancelled exactly
	// once, at shutdown.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicTransactions, cfg.Kafka.ConsumerGroup)
	txWorker := worker.NewTransactionWorker(consumer, verifier, entitlements, storeClient, db)
	go func() {
		if err := txWorker.Start(workerCtx); err != nil {
			log.Printf("Transaction worker stopped: %v", err)
		}
	}()

	if cfg.IAP.IsConfigured() {
		startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := orchestrator.LoadCatalog(startupCtx); err != nil {
			log.Printf("Initial catalog load failed: %v", err)
			if orchestrator.HydrateCatalog(startupCtx) {
				log.Println("Serving catalog from snapshot cache until the next reload")
			}
		}
		cancel()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orchestrator)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := txWorker.Stop(); err != nil {
		log.Printf("Error stopping transaction worker: %v", err)
	}

	log.Println("Server exited")
}
