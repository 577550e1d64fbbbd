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

	"skillswap-backend/internal/api"
	"skillswap-backend/internal/auth"
	"skillswap-backend/internal/config"
	"skillswap-backend/internal/notify"
	"skillswap-backend/internal/repository"
	"skillswap-backend/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; the environment wins for keys set in both
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded (%v), using the environment", err)
	}

	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	store, err := openStore(initCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.DatabaseDriver, err)
	}
	defer store.Close()

	if cfg.SeedUsersFile != "" {
		if _, err := repository.SeedUsers(initCtx, store, cfg.SeedUsersFile); err != nil {
			log.Fatalf("Failed to seed users: %v", err)
		}
	}

	var tokenService *auth.TokenService
	if cfg.JWTSecret != "" {
		if tokenService, err = auth.NewTokenService(cfg.JWTSecret); err != nil {
			log.Fatalf("Failed to start TokenService: %v", err)
		}
	}

	hubCfg := notify.DefaultHubConfig()
	hubCfg.AllowedOrigins = cfg.WSAllowedOrigins
	hub := notify.NewHub(hubCfg)

	matchingService := service.NewMatchingService(store, hub, cfg.StoreTimeout)
	queryService := service.NewQueryService(store)
	userService := service.NewUserService(store, tokenService)

	handler := api.NewHandler(matchingService, queryService, userService, tokenService, hub, api.Options{
		AuthRequired:   cfg.AuthRequired,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%d/v1 (store: %s, auth required: %t)",
			cfg.ServerPort, cfg.DatabaseDriver, cfg.AuthRequired)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// hijacked WebSocket connections are not tracked by Shutdown
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	log.Println("Server stopped.")
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Println("Connected to PostgreSQL")
		if err := store.RunMigrations(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Println("Database migrations applied")
		return store, nil
	case config.DriverSQLite:
		store, err := repository.NewSQLiteStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Printf("Opened SQLite database %s", cfg.DatabaseURL)
		return store, nil
	default:
		log.Println("Using the in-memory store; data is lost on exit")
		return repository.NewInMemoryStore(), nil
	}
}
