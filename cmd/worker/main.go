package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"attendance/internal/attendance"
	"attendance/internal/config"
	"attendance/internal/queue"
	"attendance/internal/store"
)

// Worker consumes commit events and writes the append-only audit trail.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db.Client); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:audit")
	}

	repo := attendance.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("audit worker started, waiting for commit events...")
	for msg := range messages {
		if msg.Type != queue.TypeCommitted {
			continue
		}

		var evt attendance.CommitEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad commit event payload: %v", err)
			continue
		}

		audit := attendance.Audit{
			IdentityID:  evt.IdentityID,
			Day:         evt.Day,
			Outcome:     evt.Outcome,
			Method:      evt.Method,
			CommittedBy: evt.CommittedBy,
			CommittedAt: evt.CommittedAt,
		}
		if err := repo.InsertAudit(ctx, audit); err != nil {
			log.Printf("audit insert failed for %s/%s: %v", evt.IdentityID, evt.Day, err)
			continue
		}
		log.Printf("audited commit %s/%s (%s by %s)", evt.IdentityID, evt.Day, evt.Outcome, evt.CommittedBy)
	}

	log.Println("audit worker stopped")
}
