package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/rl1809/settlement/internal/adapter/handler"
	"github.com/rl1809/settlement/internal/adapter/storage"
	"github.com/rl1809/settlement/internal/config"
	"github.com/rl1809/settlement/internal/core/service"
	"github.com/rl1809/settlement/internal/logger"
	"github.com/rl1809/settlement/internal/metrics"
	"github.com/rl1809/settlement/internal/notify"
	"github.com/rl1809/settlement/internal/port"
	"github.com/rl1809/settlement/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Amounts go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("failed to ping mysql")
	}
	log.Info("connected to mysql")

	if cfg.AutoMigrate {
		if err := storage.MigrateUp(db); err != nil {
			log.WithError(err).Fatal("failed to migrate")
		}
		log.Info("migrations applied")
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("failed to connect redis")
	}
	log.Info("connected to redis")

	// Initialize adapters
	redisAdapter := storage.NewRedisAdapter(rdb)
	mysqlAdapter := storage.NewMySQLAdapter(db, cfg.TxTimeout)
	m := metrics.New()

	notifier, closeNotifier := buildNotifier(cfg, log)
	defer closeNotifier()

	// Initialize services
	numbers := service.NewNumberGenerator(time.Now)
	converter := service.NewCurrencyConverter(mysqlAdapter, redisAdapter, cfg.RateCacheTTL, log)
	ledger := service.NewStockLedger(mysqlAdapter, m, log)
	sideEffects := service.NewSideEffects(mysqlAdapter, notifier, numbers, m, log)

	dispatcher := worker.NewDispatcher(mysqlAdapter, sideEffects, redisAdapter, m, log, worker.Config{
		Workers:        cfg.OutboxWorkers,
		BatchSize:      cfg.OutboxBatch,
		PollInterval:   cfg.OutboxInterval,
		HandlerTimeout: cfg.OutboxTimeout,
	})

	checkout := service.NewCheckoutService(service.CheckoutDeps{
		DB:              mysqlAdapter,
		Cache:           redisAdapter,
		Converter:       converter,
		Ledger:          ledger,
		Numbers:         numbers,
		Kicker:          dispatcher,
		Metrics:         m,
		Logger:          log,
		DisplayCurrency: cfg.DisplayCurrency,
	})
	payments := service.NewPaymentService(mysqlAdapter, ledger, numbers, dispatcher, m, log)
	carts := service.NewCartService(mysqlAdapter, log)

	// Start outbox dispatcher
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(workerCtx)
	}()

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(payments, ledger, log, cfg.Production()).Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to listen")
	}

	go func() {
		log.Infof("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC server error")
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(checkout, payments, ledger, carts, m, log, handler.HTTPConfig{
		Production:   cfg.Production(),
		CookieSecure: cfg.CookieSecure,
		UploadsDir:   cfg.UploadsDir,
		CORSOrigins:  cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	log.Info("HTTP server stopped")

	// Stop gRPC server
	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Let the dispatcher finish its batch; pending rows survive a restart.
	stopWorkers()
	wg.Wait()
	log.Info("workers stopped")

	// Close connections
	rdb.Close()
	db.Close()
	log.Info("connections closed")
}

// buildNotifier fans out to every configured channel. The log notifier is
// always present so a bare deployment still records notifications.
func buildNotifier(cfg config.Config, log logrus.FieldLogger) (port.Notifier, func()) {
	fanout := notify.Fanout{notify.NewLogNotifier(log)}
	closers := []func(){}

	if cfg.NotifyWebhookURL != "" {
		fanout = append(fanout, notify.NewWebhookNotifier(notify.WebhookConfig{URL: cfg.NotifyWebhookURL}, log))
		log.Info("webhook notifications enabled")
	}
	if len(cfg.KafkaBrokers) > 0 {
		k := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		fanout = append(fanout, k)
		closers = append(closers, func() {
			if err := k.Close(); err != nil {
				log.WithError(err).Warn("closing kafka writer")
			}
		})
		log.Infof("kafka notifications enabled on %s", cfg.KafkaTopic)
	}

	return fanout, func() {
		for _, c := range closers {
			c()
		}
	}
}
