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

	"github.com/robfig/cron/v3"

	"arbor/api/internal/app"
	"arbor/api/internal/authpw"
	"arbor/api/internal/blob"
	"arbor/api/internal/config"
	"arbor/api/internal/docstore"
	"arbor/api/internal/email"
	"arbor/api/internal/history"
	"arbor/api/internal/search"
	"arbor/api/internal/session"
	"arbor/api/internal/tree"
	"arbor/api/internal/users"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var store docstore.Store
	switch strings.ToLower(cfg.DocstoreDriver) {
	case "mongo":
		mongoStore, err := docstore.OpenMongo(ctx, cfg.MongoURL, cfg.MongoDB)
		if err != nil {
			log.Fatalf("mongo connection failed: %v", err)
		}
		if err := mongoStore.EnsureIndexes(ctx, map[string][][]string{
			"nodes":       {{"ownerId"}, {"ownerId", "parentId"}, {"ownerId", "kind"}},
			"users":       {{"email"}, {"verificationToken"}},
			"attachments": {{"ownerId", "nodeId"}},
		}); err != nil {
			log.Fatalf("mongo index setup failed: %v", err)
		}
		store = mongoStore
	case "postgres":
		pgStore, err := docstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres connection failed: %v", err)
		}
		if err := pgStore.Migrate(ctx, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		store = pgStore
	case "memory":
		log.Printf("Using in-memory docstore; data is lost on restart")
		store = docstore.NewMemory()
	default:
		log.Fatalf("unknown docstore driver %q", cfg.DocstoreDriver)
	}
	defer store.Close(ctx)

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}

	repo := tree.NewRepository(store)
	engine := tree.NewEngine(repo)
	sweeper := tree.NewSweeper(repo, cfg.SweepApply)

	userStore := users.NewStore(store)
	authService := authpw.NewService(userStore, cfg.AdminEmail)

	var sessions app.SessionStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using in-memory session storage")
		memStore := session.NewMemoryStore()
		defer memStore.Close()
		sessions = memStore
	}

	scan := search.NewScan(store)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, scan)
	searchService.ReindexAllFromStore(ctx)

	historyService := history.New(cfg.HistoryDir)

	var blobService *blob.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		var err error
		blobService, err = blob.New(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			MaxBytes:  cfg.MaxAttachmentBytes,
		}, store)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		if err := blobService.EnsureBucket(ctx); err != nil {
			log.Fatalf("object store bucket setup failed: %v", err)
		}
	} else {
		log.Printf("MINIO_ENDPOINT not set; attachments disabled")
	}

	var mailService *email.Service
	if strings.TrimSpace(cfg.SMTPHost) != "" {
		mailService = email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	} else {
		log.Printf("SMTP_HOST not set; account email disabled, dev tokens returned in responses")
	}

	service := app.New(cfg, app.Dependencies{
		Store:    store,
		Nodes:    engine,
		Sweeper:  sweeper,
		Users:    userStore,
		Auth:     authService,
		Sessions: sessions,
		Search:   searchService,
		History:  historyService,
		Blobs:    blobService,
		Mail:     mailService,
	})

	if strings.TrimSpace(cfg.SweepSchedule) != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.SweepSchedule, func() {
			report, err := sweeper.SweepAll(context.Background())
			if err != nil {
				log.Printf("scheduled sweep failed: %v", err)
				return
			}
			log.Printf("scheduled sweep: owners=%d scanned=%d repaired=%d orphans=%d",
				report.OwnersSwept, report.NodesScanned, report.ChildrenRepaired, report.OrphansFound)
		}); err != nil {
			log.Fatalf("invalid sweep schedule %q: %v", cfg.SweepSchedule, err)
		}
		c.Start()
		defer c.Stop()
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
		log.Printf("Arbor API listening on %s", cfg.Addr)
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
