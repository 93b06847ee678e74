package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"tasktree/internal/api"
	"tasktree/internal/config"
	"tasktree/internal/db"
	"tasktree/pkg/task"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("TASKTREE_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if err := store.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure tasks table: %v", err)
	}

	bus := task.NewBus()
	tasks := task.NewService(store, bus)
	server := api.New(tasks, bus)

	log.Printf("tasktree listening on %s (store: %s)", cfg.Listen, cfg.Store)
	if err := http.ListenAndServe(cfg.Listen, server); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (task.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return task.OpenSQLite(cfg.SQLitePath)
	case config.StoreMemory:
		return task.NewMemStore(), nil
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return task.NewPgStore(pool), nil
	}
}
