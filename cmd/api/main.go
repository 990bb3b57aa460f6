package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"notekeep/api/internal/app"
	"notekeep/api/internal/config"
	"notekeep/api/internal/realtime"
	"notekeep/api/internal/search"
	"notekeep/api/internal/session"
	"notekeep/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var (
		db        *sql.DB
		dataStore app.DataStore
		fallback  search.Searcher
		pgSearch  *search.Postgres
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		var err error
		db, err = store.OpenWithPool(ctx, cfg.DatabaseURL, store.PoolConfig{
			MaxOpen: cfg.DBMaxOpenConns,
			MaxIdle: cfg.DBMaxIdleConns,
		})
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		dataStore = store.NewPostgresStore(db)
		pgSearch = search.NewPostgres(db)
		fallback = pgSearch
	} else {
		log.Printf("DATABASE_URL not set, using in-memory store")
		memory := store.NewMemoryStore()
		dataStore = memory
		fallback = search.NewScanner(memoryRecords(memory))
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, fallback)
	defer searchService.Close()
	if meiliClient != nil && pgSearch != nil {
		go searchService.ReindexAllFromPG(ctx, pgSearch)
	}

	deps := app.Deps{Search: searchService}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh sessions and change events")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		channel, err := realtime.NewRedisChannel(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis channel failed: %v", err)
		}
		defer channel.Close()
		deps.Sessions = redisStore
		deps.Channel = channel
	}

	service := app.New(cfg, dataStore, deps)
	go service.RunSweeper(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Event streams stay open; handlers bound their own work.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Notekeep API listening on %s", cfg.Addr)
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
	// Open editors are saved before the store goes away.
	service.Shutdown(shutdownCtx)
	stop()
}

// memoryRecords feeds in-process search from the memory store.
func memoryRecords(memory *store.MemoryStore) search.Loader {
	return func(ctx context.Context, owner string) ([]search.Record, error) {
		lists, err := memory.ReadLists(ctx, owner)
		if err != nil {
			return nil, err
		}
		notes, err := memory.ReadNotes(ctx, owner)
		if err != nil {
			return nil, err
		}
		records := make([]search.Record, 0, len(lists)+len(notes))
		for _, list := range lists {
			if !list.IsArchived {
				records = append(records, search.ListRecord(list))
			}
		}
		for _, note := range notes {
			if !note.IsArchived {
				records = append(records, search.NoteRecord(note))
			}
		}
		return records, nil
	}
}
