package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"coachcall-server/pkg/checklist"
	"coachcall-server/pkg/coaching"
	"coachcall-server/pkg/config"
	"coachcall-server/pkg/database"
	http_server "coachcall-server/pkg/http"
	"coachcall-server/pkg/messaging"
	"coachcall-server/pkg/metrics"
)

var (
	logger    = logrus.New()
	appConfig *config.Config

	db             *database.DB
	repo           *database.Repository
	checklistStore *checklist.Store
	engine         *coaching.Engine
	amqpClient     *messaging.AMQPClient
	wsHub          *http_server.CoachingHub
	httpServer     *http_server.Server

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize coaching server")
	}

	logger.WithField("port", appConfig.HTTP.Port).Info("Coaching server started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	shutdown()
}

func initialize() error {
	var err error

	appConfig, err = config.Load(logger)
	if err != nil {
		return err
	}
	appConfig.ConfigureLogger(logger)

	metrics.Init(logger)

	db, err = database.Open(appConfig.Database.Path, logger)
	if err != nil {
		return err
	}
	repo = database.NewRepository(db, logger)

	checklistStore, err = checklist.NewStore(repo, logger)
	if err != nil {
		return err
	}

	engine = coaching.NewEngine(checklistStore, repo, &coaching.Config{
		MaxActivePrompts: appConfig.Coaching.MaxActivePrompts,
		SessionRetention: appConfig.Coaching.SessionRetention,
		CleanupInterval:  appConfig.Coaching.CleanupInterval,
	}, logger)
	engine.StartCleanup(rootCtx)

	wsHub = http_server.NewCoachingHub(logger)
	go wsHub.Run(rootCtx)
	engine.AddPublisher(wsHub)

	if appConfig.Messaging.Enabled() {
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:          appConfig.Messaging.URL,
			ExchangeName: appConfig.Messaging.ExchangeName,
			RoutingKey:   appConfig.Messaging.RoutingKey,
		})
		if err := amqpClient.Connect(); err != nil {
			// Broker outages shouldn't keep coaching offline
			logger.WithError(err).Warn("AMQP connection failed, events will be skipped")
		}
		engine.AddPublisher(amqpClient)
	} else {
		logger.Info("AMQP_URL not set, event publishing disabled")
	}

	httpServer = http_server.NewServer(logger, &http_server.Config{
		Port:          appConfig.HTTP.Port,
		ReadTimeout:   appConfig.HTTP.ReadTimeout,
		WriteTimeout:  appConfig.HTTP.WriteTimeout,
		EnableMetrics: appConfig.HTTP.EnableMetrics,
	}, engine)
	httpServer.SetDatabaseChecker(db)
	httpServer.SetWebSocketHub(wsHub)

	handler := http_server.NewCoachingHandler(logger, engine, checklistStore, repo)
	handler.RegisterHandlers(httpServer)

	httpServer.Start()

	return nil
}

func shutdown() {
	logger.Info("Shutting down coaching server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown failed")
		}
	}

	// Archive every live call before stopping
	if engine != nil {
		for _, session := range engine.Sessions() {
			if !session.Status.IsLive() {
				continue
			}
			if _, err := engine.FailCall(shutdownCtx, session.ID); err != nil {
				logger.WithError(err).WithField("call_id", session.ID).Warn("Failed to end call during shutdown")
			}
		}
		engine.Stop()
	}

	rootCancel()

	if amqpClient != nil {
		amqpClient.Close()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("Database close failed")
		}
	}

	logger.Info("Shutdown complete")
}
