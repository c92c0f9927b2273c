package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/code"
	"github.com/gtinworks/fulfillment/internal/config"
	"github.com/gtinworks/fulfillment/internal/db"
	"github.com/gtinworks/fulfillment/internal/document"
	"github.com/gtinworks/fulfillment/internal/handler"
	"github.com/gtinworks/fulfillment/internal/mail"
	"github.com/gtinworks/fulfillment/internal/order"
	"github.com/gtinworks/fulfillment/internal/product"
	"github.com/gtinworks/fulfillment/internal/queue"
	"github.com/gtinworks/fulfillment/internal/serial"
	"github.com/gtinworks/fulfillment/internal/transport"
	"github.com/gtinworks/fulfillment/internal/user"
	"github.com/gtinworks/fulfillment/internal/worker"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "fulfillment").Logger()

	log.Info().Msg("Fulfillment service starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if err := db.Migrate(cfg.Postgres, cfg.App.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	dbConn, err := db.New(context.Background(), cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	codeRepo := code.NewRepository(dbConn.Pool)
	userRepo := user.NewRepository(dbConn.Pool, codeRepo)
	orderRepo := order.NewRepository(dbConn.Pool, codeRepo, userRepo)
	productRepo := product.NewRepository(dbConn.Pool, codeRepo)
	orderSvc := order.NewService(orderRepo, productRepo, orderRepo, orderRepo)

	renderer, err := document.NewDiskRenderer(cfg.App.DocumentsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare documents dir")
	}

	store := queue.NewPostgresStore(dbConn.Pool)
	pool := queue.NewPool(store, cfg.Queue.PollInterval, cfg.Queue.LeaseTimeout)

	workers := worker.New(orderRepo, orderSvc, userRepo, codeRepo,
		renderer, mail.NewLogMailer(), serial.NewHashDeriver(), pool)
	workers.Register(pool)
	pool.Start()

	jobsHandler := handler.NewJobsHandler(pool)
	ordersHandler := handler.NewOrdersHandler(orderSvc, orderRepo, productRepo)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      transport.NewRouter(jobsHandler, ordersHandler),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	pool.Stop()
	log.Info().Msg("Service stopped")
}
