package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"purchase-settlement-api/internal/cache"
	"purchase-settlement-api/internal/config"
	"purchase-settlement-api/internal/handler"
	"purchase-settlement-api/internal/metrics"
	"purchase-settlement-api/internal/middleware"
	"purchase-settlement-api/internal/repository"
	"purchase-settlement-api/internal/router"
	"purchase-settlement-api/internal/service"

	_ "github.com/go-sql-driver/mysql"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting purchase settlement API...")

	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)
	if cfg.Webhook.Secret == "" {
		log.Println("Warning: WEBHOOK_SECRET not set, notifications are accepted unsigned")
	}

	metrics.Register()

	// Settlement store
	var store *repository.SQLStore
	var err error
	switch cfg.Store.Type {
	case "postgres":
		store, err = repository.NewPostgresStore(cfg.Store.PostgresDSN())
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL: %v", err)
		}
		log.Println("PostgreSQL settlement store initialized")
	default:
		store, err = repository.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite: %v", err)
		}
		log.Printf("SQLite settlement store initialized at %s", cfg.Store.Path)
	}
	readiness := map[string]handler.Pinger{"store": store}

	// Cache: Redis when configured and reachable, in-memory otherwise
	var c cache.Cache
	if cfg.Cache.Type == "redis" {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			log.Printf("Warning: Redis connection failed, using memory cache: %v", err)
		} else {
			c = redisCache
			log.Println("Redis cache initialized")
		}
	}
	if c == nil {
		c = cache.NewMemoryCache(time.Minute)
		log.Println("Memory cache initialized")
	}

	// Allow-list: the store's own table, or an external MySQL campaign database
	var allowList repository.AllowListRepository
	var allowListWriter service.EligibleBuyerWriter = store
	var mysqlDB *sql.DB
	if cfg.AllowList.Enabled {
		allowList = store
		if cfg.AllowList.UsesMySQL() {
			mysqlDB, err = sql.Open("mysql", cfg.AllowList.DSN())
			if err != nil {
				log.Printf("Warning: MySQL allow-list unavailable: %v", err)
			} else {
				mysqlDB.SetMaxOpenConns(10)
				mysqlDB.SetMaxIdleConns(5)
				mysqlDB.SetConnMaxLifetime(5 * time.Minute)

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err = mysqlDB.PingContext(ctx)
				if err == nil {
					err = repository.NewMySQLAllowList(mysqlDB).EnsureSchema(ctx)
				}
				cancel()

				if err != nil {
					log.Printf("Warning: MySQL allow-list unavailable, falling back to store: %v", err)
					mysqlDB.Close()
					mysqlDB = nil
				} else {
					mysqlAllowList := repository.NewMySQLAllowList(mysqlDB)
					allowList = mysqlAllowList
					allowListWriter = mysqlAllowList
					readiness["allowlist"] = mysqlAllowList
					log.Println("MySQL allow-list initialized")
				}
			}
		}
	}

	// Anomalies: the store's table, or a MongoDB collection when configured
	var anomalyRepo repository.AnomalyRepository = store
	anomalySink := "store"
	var mongoSink *repository.MongoAnomalySink
	if cfg.Anomaly.MongoURI != "" {
		mongoSink, err = repository.NewMongoAnomalySink(cfg.Anomaly.MongoURI, cfg.Anomaly.MongoDatabase, cfg.Anomaly.MongoCollection)
		if err != nil {
			log.Printf("Warning: MongoDB anomaly sink unavailable, using store: %v", err)
		} else {
			anomalyRepo = mongoSink
			anomalySink = "mongodb"
			readiness["anomalies"] = mongoSink
			log.Println("MongoDB anomaly sink initialized")
		}
	}

	// Pipeline
	classifier, err := service.NewEventClassifier()
	if err != nil {
		log.Fatalf("Failed to initialize classifier: %v", err)
	}

	var auditor *service.EligibilityAuditor
	if allowList != nil {
		auditor = service.NewEligibilityAuditor(allowList, c, cfg.Pipeline.EligibilityCacheTTL, cfg.Pipeline.EligibilityTimeout)
	}

	pipeline, err := service.NewPipeline(service.PipelineDeps{
		Verifier:       service.NewSignatureVerifier(cfg.Webhook.Secret, cfg.Webhook.RequireSignature),
		Classifier:     classifier,
		Ledger:         service.NewIdempotencyLedger(store, c, cfg.Cache.TTL),
		Matcher:        service.NewReservationMatcher(store),
		Applier:        service.NewSettlementApplier(store, store),
		Auditor:        auditor,
		Claims:         service.NewClaimRecorder(store),
		Anomalies:      service.NewAnomalySink(anomalyRepo),
		PurchaseStatus: store,
	},
		service.WithProjectUID(cfg.Webhook.ProjectUID),
		service.WithStepTimeout(cfg.Pipeline.StepTimeout),
	)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	dispatcher := service.NewDispatcher(pipeline, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	dispatcher.OnResult(func(d service.Delivery, res service.Result) {
		if res.Outcome == service.OutcomeFailed {
			log.Printf("[Dispatcher] req=%s tx=%s failed and was not committed, reprocess it from the admin API: %s",
				d.RequestID, res.TxID, res.Error)
		}
	})

	expiry := service.NewExpiryScheduler(store, service.ExpiryConfig{
		Grace:    cfg.Reservation.Grace,
		Interval: cfg.Reservation.SweepInterval,
	})
	expiry.Start()

	// Handlers
	r := router.New(router.Config{
		Handler:            handler.New(cfg.App.Version, readiness),
		WebhookHandler:     handler.NewWebhookHandler(dispatcher, cfg.Webhook.SignatureParam, cfg.Webhook.MaxBodyBytes),
		PurchaseHandler:    handler.NewPurchaseHandler(store, store, cfg.Pipeline.AmountDecimals),
		ReservationHandler: handler.NewReservationHandler(service.NewReservationService(store, cfg.Reservation.TTL)),
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			Stats:        store,
			Anomalies:    anomalyRepo,
			Cache:        c,
			Inventory:    service.NewInventoryService(store, allowListWriter, c),
			Reprocessor:  pipeline,
			Backend:      cfg.Store.Type,
			AnomalySink:  anomalySink,
			MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		}),
		AdminMiddleware: middleware.NewAdminKeyMiddleware(cfg.App.AdminKey),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop taking deliveries first, then let running pipelines finish.
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := dispatcher.Close(ctx); err != nil {
		log.Printf("Dispatcher drain incomplete: %v", err)
	}
	expiry.Stop()

	if err := c.Close(); err != nil {
		log.Printf("Cache close error: %v", err)
	}
	if mongoSink != nil {
		mongoSink.Close()
	}
	if mysqlDB != nil {
		mysqlDB.Close()
	}
	if err := store.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}
