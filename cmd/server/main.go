package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruralpay/offline-wallet/internal/config"
	"github.com/ruralpay/offline-wallet/internal/database"
	"github.com/ruralpay/offline-wallet/internal/handlers"
	"github.com/ruralpay/offline-wallet/internal/keystore"
	"github.com/ruralpay/offline-wallet/internal/ledger"
	"github.com/ruralpay/offline-wallet/internal/metrics"
	mW "github.com/ruralpay/offline-wallet/internal/middleware"
	"github.com/ruralpay/offline-wallet/internal/network"
	"github.com/ruralpay/offline-wallet/internal/notification"
	"github.com/ruralpay/offline-wallet/internal/services"
	"github.com/ruralpay/offline-wallet/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/clients/horizonclient"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.StandardLogger()
	configureLogger(logger, cfg.Log)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	redisClient, err := database.InitRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	var history *services.HistoryService
	if cfg.Database.Enabled {
		db, err := database.InitDB(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()
		history = services.NewHistoryService(db)
	}

	txStore := store.NewTransactionStore(redisClient, cfg.Redis.KeyPrefix)
	accountStore := store.NewAccountStore(redisClient, cfg.Redis.KeyPrefix)
	prefsStore := store.NewPreferencesStore(redisClient, cfg.Redis.KeyPrefix)

	// Credentials
	var salt []byte
	if cfg.Keystore.Salt != "" {
		salt = []byte(cfg.Keystore.Salt)
	}
	ks, err := keystore.Open(keystore.Config{
		MasterKey:   cfg.Keystore.MasterKey,
		Salt:        salt,
		Path:        cfg.Keystore.Path,
		AuditLogger: keystore.NewAuditLogger(logger),
	})
	if err != nil {
		logger.Fatalf("Failed to open keystore: %v", err)
	}
	defer ks.Clear()

	// Ledger
	horizon := &horizonclient.Client{
		HorizonURL: cfg.Horizon.URL,
		HTTP:       &http.Client{Timeout: cfg.Horizon.RequestTimeout},
	}
	submitter := ledger.NewSubmitter(horizon, ks, cfg.Horizon)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Connectivity
	tcpProbe, err := network.TCPProbe(cfg.Horizon.URL)
	if err != nil {
		logger.Fatalf("Failed to build network probe: %v", err)
	}
	monitor := network.NewMonitor(cfg.Network, tcpProbe, network.ReachabilityProbe(submitter))

	// Notifications
	sinks := []notification.Sink{notification.NewLogSink(logger)}
	if cfg.Notification.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookSink(cfg.Notification.WebhookURL, cfg.Notification.WebhookTimeout))
	}
	dispatcher := notification.NewDispatcher(prefsStore, sinks...)

	// Queue
	deps := services.QueueDeps{
		Store:     txStore,
		Accounts:  accountStore,
		Submitter: submitter,
		Network:   monitor,
		Notifier:  dispatcher,
		Metrics:   m,
	}
	var historyLister handlers.HistoryLister
	if history != nil {
		deps.History = history
		historyLister = history
	}
	// the queue subscribes here, before the monitor publishes its first status
	queue := services.NewQueueService(deps, cfg.Queue)

	go monitor.Run(ctx)
	go queue.Run(ctx)

	accountService := services.NewAccountService(accountStore, ks, submitter)
	exportService := services.NewExportService(txStore, time.Local)
	qrService := services.NewQRService(cfg.Horizon.NetworkName)

	transactionHandler := handlers.NewTransactionHandler(queue, exportService, historyLister, submitter)
	qrHandler := handlers.NewQRHandler(qrService, queue, accountService)
	accountHandler := handlers.NewAccountHandler(accountService)
	settingsHandler := handlers.NewSettingsHandler(monitor, prefsStore, ks)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(logger, m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "healthy",
			"online": monitor.IsOnline(),
			"locked": ks.Locked(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		transactionHandler.Routes(r)
		qrHandler.Routes(r)
		accountHandler.Routes(r)
		settingsHandler.Routes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// in-flight records stay pending and are picked up on the next start
	queue.Close()

	logger.Info("Server stopped")
}

func configureLogger(logger *logrus.Logger, cfg config.LogConfig) {
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stdout)
}
