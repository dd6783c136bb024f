package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tandem/api/internal/app"
	"tandem/api/internal/assist"
	"tandem/api/internal/blob"
	"tandem/api/internal/config"
	"tandem/api/internal/realtime"
	"tandem/api/internal/search"
	"tandem/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	feed, err := realtime.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer feed.Close()

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var blobService *blob.Service
	if cfg.BlobAccessKey != "" {
		blobService, err = blob.New(blob.Config{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			UseSSL:    cfg.BlobUseSSL,
			PublicURL: cfg.BlobPublicURL,
		})
		if err != nil {
			log.Fatalf("blob storage failed: %v", err)
		}
	} else {
		log.Printf("blob storage not configured, attachments disabled")
	}

	assistService := assist.New(cfg.AssistURL, cfg.AssistAPIKey)
	if !assistService.IsConfigured() {
		log.Printf("assist gateway not configured, assist endpoints disabled")
	}

	service := app.New(cfg, dataStore, feed, blobService, searchService, assistService)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.TokenSecret)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No global read/write timeouts: websocket sessions outlive
		// any sane request deadline.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Tandem API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
