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

	"powerfive/api/internal/app"
	"powerfive/api/internal/authpw"
	"powerfive/api/internal/config"
	"powerfive/api/internal/email"
	"powerfive/api/internal/graph"
	"powerfive/api/internal/invite"
	"powerfive/api/internal/ledger"
	"powerfive/api/internal/reach"
	"powerfive/api/internal/search"
	"powerfive/api/internal/store"
)

func main() {
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

	graphStore := graph.New(dataStore)
	inviteManager := invite.NewManager(dataStore, graphStore, cfg.InviteTTL)
	impactLedger := ledger.New(dataStore)
	aggregator := reach.NewAggregator(graphStore, dataStore)

	// Generations live in Redis when configured so several API instances
	// share one dirty counter per person; otherwise they stay in-process.
	var generations reach.Generations
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisGens, err := reach.NewRedisGenerations(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisGens.Close()
		generations = redisGens
		log.Printf("using Redis for reach generations")
	} else {
		generations = reach.NewMemoryGenerations()
		log.Printf("using in-process reach generations")
	}

	reachCache := reach.NewCache(generations, dataStore, aggregator, graphStore)

	// Graph and ledger mutations invalidate the mutated person and every
	// ancestor, so cached reach upstream goes stale immediately.
	graphStore.OnMutate(func(ctx context.Context, personID string) {
		if err := reachCache.Invalidate(ctx, personID); err != nil {
			log.Printf("main: invalidate after link %s: %v", personID, err)
		}
	})
	impactLedger.OnMutate(func(ctx context.Context, personID string) {
		if err := reachCache.Invalidate(ctx, personID); err != nil {
			log.Printf("main: invalidate after impact %s: %v", personID, err)
		}
	})

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient, err = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		if err != nil {
			log.Fatalf("meilisearch setup failed: %v", err)
		}
	}
	searchService := search.NewService(meiliClient, pgfts)

	accounts := authpw.NewService(dataStore)

	service := app.New(cfg, dataStore, inviteManager, graphStore, impactLedger, reachCache, accounts, searchService)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		service.WithMailer(mailer)
		log.Printf("invite mail delivery enabled via %s", cfg.SMTPHost)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Power of 5 API listening on %s", cfg.Addr)
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
