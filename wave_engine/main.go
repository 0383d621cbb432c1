package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexshift/waveengine/wave_engine/coordination"
	"github.com/nexshift/waveengine/wave_engine/store"
	"github.com/nexshift/waveengine/wave_engine/streaming"
	"github.com/nexshift/waveengine/wave_engine/timeline"
)

func generateNodeID() string {
	hostname, _ := os.Hostname()
	return "node-" + hostname + "-" + generateID("")[1:]
}

func main() {
	ctx := context.Background()

	// Storage backend: Postgres when DATABASE_URL is set, memory otherwise.
	var s store.Store
	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		pg, err := store.NewPostgresStore(ctx, connString)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pg.Close()
		s = pg
		log.Println("Using Postgres store")
	} else {
		s = store.NewMemoryStore()
		log.Println("DATABASE_URL not set, using in-memory store")
	}

	// Coordination backend: Redis shared by all replicas. Without it the
	// engine runs standalone (single replica, no leases).
	var coordinator store.Coordinator
	var redisCoord *store.RedisCoordinator
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		var err error
		redisCoord, err = store.NewRedisCoordinator(redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", redisAddr, err)
		}
		defer redisCoord.Close()
		coordinator = redisCoord
		log.Printf("Connected to Redis at %s for coordination", redisAddr)
	} else {
		coordinator = store.NewMemoryStore()
		log.Println("REDIS_ADDR not set, using in-process coordination (single replica only)")
	}

	publisher := streaming.NewLogPublisher()
	defer publisher.Close()

	tl := timeline.NewStore()
	hub := NewIntentHub()
	notifier := NewNotifier(s, coordinator, publisher, hub)
	escalator := NewEscalator(s, notifier, tl)
	detector := NewCompletionDetector(s, notifier, tl)
	alerts := NewAlertEngine(s, notifier)
	sweeper := NewSweeper(s, escalator, detector, alerts, tl, notifier)

	if intervalStr := os.Getenv("WAVE_SWEEP_INTERVAL"); intervalStr != "" {
		interval, err := time.ParseDuration(intervalStr)
		if err != nil {
			log.Fatalf("Invalid WAVE_SWEEP_INTERVAL %q: %v", intervalStr, err)
		}
		sweeper.SetWaveInterval(interval)
	}

	// Sweeps run on exactly one replica: behind leader election when Redis
	// is available, standalone otherwise.
	var elector *coordination.LeaderElector
	if redisCoord != nil {
		elector = coordination.NewLeaderElector(redisCoord, generateNodeID(), 30*time.Second)
		elector.SetCallbacks(
			func(leaderCtx context.Context) {
				log.Println("Elected as sweep leader, starting sweeps")
				go sweeper.Run(leaderCtx)
			},
			func() {
				log.Println("Lost sweep leadership, sweeps stopping")
			},
		)
		elector.Start(ctx)
	} else {
		log.Println("Starting sweeps in standalone mode")
		go sweeper.Run(ctx)
	}

	api := NewAPI(s, escalator, detector, elector, tl, hub)
	go hub.Run(ctx)

	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	http.HandleFunc("/agents", api.handleUpsertAgent)
	http.HandleFunc("/assignments", api.handleUpsertAssignment)
	http.HandleFunc("/stations", api.handleUpsertStation)

	http.HandleFunc("/requests", api.withIdempotency(api.handleCreateRequest))
	http.HandleFunc("/requests/", api.handleGetRequest)
	http.HandleFunc("/subshifts", api.withIdempotency(api.handleCreateSubAssignment))

	http.HandleFunc("/intents", api.handleListIntents)
	http.HandleFunc("/intents/", api.handleMarkIntentProcessed)
	http.HandleFunc("/ws/intents", api.handleIntentStream)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/debug/snapshot", api.handleDebugSnapshot)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	fmt.Println("==================================================")
	fmt.Println("NexShift Replacement Wave Engine")
	fmt.Println("==================================================")

	log.Printf("Wave engine listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
