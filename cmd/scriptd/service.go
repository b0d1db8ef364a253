package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/michaelbrown/scriptd/internal/config"
	"github.com/michaelbrown/scriptd/internal/events"
	"github.com/michaelbrown/scriptd/internal/execution"
	"github.com/michaelbrown/scriptd/internal/sandbox"
	"github.com/michaelbrown/scriptd/internal/storage"
	"github.com/michaelbrown/scriptd/internal/storage/sqlite"
)

// app bundles the execution service with the optional history store
// and event publisher configured for it.
type app struct {
	svc       *execution.Service
	store     storage.Store
	publisher *events.Publisher
}

func newApp(cfg *config.Config) (*app, error) {
	sb := sandbox.NewProcessSandbox(cfg.Policy())
	rt := &app{svc: execution.NewService(sb, cfg.Executor.MaxConcurrent)}

	if cfg.Storage.Enabled {
		store, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		rt.store = store
		rt.svc.SetRecorder(store)
	}

	if cfg.Events.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pub, err := events.Dial(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB, cfg.Events.Channel)
		if err != nil {
			log.Printf("Warning: run events disabled: %v", err)
		} else {
			rt.publisher = pub
			rt.svc.SetPublisher(pub)
			log.Printf("Events: publishing to redis channel %s", pub.Channel())
		}
	}

	return rt, nil
}

func (rt *app) Close() {
	if rt.publisher != nil {
		rt.publisher.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}
