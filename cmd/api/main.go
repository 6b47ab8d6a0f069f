package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexovan/fieldsync/internal/config"
	"github.com/nexovan/fieldsync/internal/database"
	"github.com/nexovan/fieldsync/internal/handlers"
	"github.com/nexovan/fieldsync/internal/models"
	"github.com/nexovan/fieldsync/internal/store"
	"github.com/nexovan/fieldsync/internal/sync"
	"github.com/nexovan/fieldsync/internal/utils"
	"github.com/nexovan/fieldsync/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	// In production schema changes require the explicit DB_ALTER opt-in
	if cfg.NodeEnv != "production" || cfg.Database.Alter {
		log.Println("🚀 Synchronizing database schema...")
		err = db.AutoMigrate(
			&models.SyncOperation{},
			&models.SyncConflict{},
			&models.EntitySnapshot{},
			&models.SyncHistory{},
		)
		if err != nil {
			log.Printf("⚠️ Migration warning: %v\n", err)
		} else {
			log.Println("✅ Schema synchronized successfully")
		}
	}

	// 4. Build the sync layer
	log.Println("🔄 Initializing sync coordinator...")
	syncCfg := config.LoadSyncConfig()

	gormStore := store.New(db)

	// Outbound requests authenticate with a self-issued device token
	transport := sync.NewHTTPTransport(syncCfg.Routes, func() string {
		token, err := utils.GenerateDeviceToken(cfg.DeviceID, cfg.ActorID, cfg.JWTSecret)
		if err != nil {
			log.Printf("⚠️ Token generation failed: %v", err)
			return ""
		}
		return token
	})

	coordinator, err := sync.NewCoordinator(syncCfg, gormStore, transport, gormStore, cfg.InstanceID)
	if err != nil {
		log.Fatalf("Failed to initialize sync coordinator: %v", err)
	}

	if err := coordinator.Start(); err != nil {
		log.Printf("⚠️ Sync coordinator: Failed to start: %v", err)
	} else {
		log.Println("✅ Sync coordinator: Started successfully")
	}

	if syncCfg.SyncOnStartup {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			coordinator.SyncAll(ctx)
		}()
	}

	// 5. Websocket hub for sync event observers
	hub := websocket.NewHub()
	go hub.Run()

	// 6. Set up HTTP router
	router := handlers.NewRouter(cfg, db, coordinator, hub)

	// 7. Start server with graceful shutdown
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server (%s) starting on port %s\n", cfg.InstanceID, cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop the sync layer
	coordinator.Stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
