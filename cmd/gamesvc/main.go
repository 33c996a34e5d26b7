package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/secretwords/game-services/configs"
	"github.com/secretwords/game-services/internal/gamesvc/board"
	"github.com/secretwords/game-services/internal/gamesvc/broker"
	"github.com/secretwords/game-services/internal/gamesvc/engine"
	"github.com/secretwords/game-services/internal/gamesvc/store"
	"github.com/secretwords/game-services/internal/gamesvc/view"
	nats "github.com/secretwords/game-services/internal/nats"
)

const SERVICE_NAME = "game"

var instanceId string

func init() {
	instanceId = "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	// the engine never sees the dictionary, only an opaque pool
	words, err := board.LoadWords(os.Getenv("WORDS_FILE"))
	if err != nil {
		log.Fatalf("Failed to load word pool: %v", err)
	}
	alloc, err := board.NewAllocator(words)
	if err != nil {
		log.Fatalf("Invalid word pool: %v", err)
	}

	st := store.New()

	// the remote endpoint is required config; refusing to start beats
	// silently running unreplicated
	db, cancelDb, err := store.ConnectRemote()
	if err != nil {
		log.Fatalf("Failed to connect to remote store: %v", err)
	}
	defer cancelDb()
	log.Printf("remote store connection established successfully")

	pullCtx, cancelPull := context.WithTimeout(context.Background(), 60*time.Second)
	if err := st.PullRemote(pullCtx, db); err != nil {
		log.Fatalf("Failed to pull remote state: %v", err)
	}
	cancelPull()

	repl := store.NewReplicator(db)
	st.SetReplicator(repl)
	repl.Start()
	defer repl.Stop()

	eng := engine.New(st, alloc)
	composer := view.NewComposer(st)

	// Connect to NATS
	n, err := nats.Connect()
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	b := broker.NewBroker(n.Conn, eng, composer)
	defer b.Close()

	sub, err := b.SubscribeOperations()
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(0)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	rateLimitStr := os.Getenv("RATE_LIMIT")
	rateLimit, err := strconv.Atoi(rateLimitStr)
	if err != nil {
		log.Fatalf("Invalid RATE_LIMIT value: %v", err)
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"message": "game service is running at port " + os.Getenv("GAME_SERVICE_PORT"),
			"code":    200,
		})
	})

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + os.Getenv("GAME_SERVICE_PORT"),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
