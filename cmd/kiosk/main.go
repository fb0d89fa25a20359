package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"attendance/internal/attendance"
	"attendance/internal/capture"
	"attendance/internal/config"
	"attendance/internal/matcher"
	"attendance/internal/queue"
	"attendance/internal/registry"
	"attendance/internal/store"
	"attendance/internal/workflow"
)

// Kiosk runs a capture station: a camera, the resolve-and-commit pipeline,
// and the single-flight workflow machine in between. Press enter to trigger
// a capture, "r" to reset, ctrl-c to quit.
func main() {
	cfg := config.Load()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db.Client); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	identityRepo := registry.NewRepository(db.Client)
	ledgerRepo := attendance.NewRepository(db.Client)

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:audit")
	}

	var resolver matcher.Resolver
	if cfg.MatcherBackend == "vision" {
		resolver = matcher.NewVisionResolver(cfg.OpenAIAPIKey)
	} else {
		face := matcher.NewHTTPClient(cfg.MatcherURL, cfg.MatcherSkip)
		if err := face.Health(context.Background()); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
			log.Println("capture cycles will fail until it comes back")
		}
		resolver = face
	}
	policy := matcher.NewPolicy(resolver, cfg.MatchThreshold, cfg.MatcherTimeout)

	att := attendance.NewService(identityRepo, ledgerRepo, policy, q)
	dev := capture.NewHTTPDevice(cfg.CameraSnapshotURL)

	actor, _ := os.Hostname()
	if actor == "" {
		actor = "kiosk"
	}

	machine := workflow.New(dev, att, actor, cfg.ResetCooldown)
	defer machine.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	log.Printf("kiosk ready (camera %s), press enter to capture", cfg.CameraSnapshotURL)
	for {
		select {
		case <-sigCh:
			log.Println("kiosk shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				log.Println("stdin closed, kiosk shutting down")
				return
			}
			if line == "r" {
				machine.Reset()
				snap := machine.Snapshot()
				log.Printf("[%s] %s", snap.State, snap.Message)
				continue
			}
			machine.Trigger()
			snap := machine.Snapshot()
			if snap.IdentityID != "" {
				log.Printf("[%s] %s (confidence %.2f)", snap.State, snap.Message, snap.Confidence)
			} else {
				log.Printf("[%s] %s", snap.State, snap.Message)
			}
		}
	}
}
