package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cp-docblog/nodmee/internal/config"
	"github.com/cp-docblog/nodmee/internal/feed"
	"github.com/cp-docblog/nodmee/internal/httpapi"
	"github.com/cp-docblog/nodmee/internal/notify"
	"github.com/cp-docblog/nodmee/internal/store"
	"github.com/cp-docblog/nodmee/internal/store/memory"
	"github.com/cp-docblog/nodmee/internal/store/postgres"
	"github.com/cp-docblog/nodmee/internal/telemetry"

	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type subscribeMessage struct {
	Action     string `json:"action"`
	Collection string `json:"collection"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("nodmee")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer pool.Close()
		pgStore := postgres.NewStore(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = pgStore.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Fatalf("db schema: %v", err)
		}
		st = pgStore
	} else {
		log.Printf("DB_DSN not set, using in-memory store")
		st = memory.NewStore()
	}

	hub := feed.NewHub()
	poller := feed.NewPoller(st, hub, cfg.FeedPollInterval, cfg.FeedBatchSize)

	provider := notify.NewProvider(cfg.NotifyProvider, cfg.NotifyWebhookToken)
	dispatcher := notify.NewDispatcher(provider, cfg.NotifyTimeout)
	worker := notify.NewWorker(st, dispatcher, cfg.NotifyPollInterval, cfg.NotifyBatchSize, time.Now().UTC())

	handler := httpapi.NewHandler(st)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		serveRealtime(hub, session)
	}))
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "nodmee")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go poller.Run(runCtx)
	go worker.Run(runCtx)

	go func() {
		log.Printf("nodmee listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelRun()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// serveRealtime bridges one SockJS connection to the feed hub. The client
// picks a collection with {"action":"subscribe","collection":"bookings"};
// pushes are refresh hints and the client re-reads the API on receipt.
func serveRealtime(hub *feed.Hub, session sockjs.Session) {
	var sub *feed.Subscriber
	done := make(chan struct{})
	defer func() {
		close(done)
		if sub != nil {
			hub.Unsubscribe(sub)
		}
	}()

	forward := func(s *feed.Subscriber) {
		for {
			select {
			case <-done:
				return
			case event, ok := <-s.Events():
				if !ok {
					return
				}
				payload, err := json.Marshal(event)
				if err != nil {
					continue
				}
				_ = session.Send(string(payload))
			}
		}
	}

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		var parsed subscribeMessage
		if err := json.Unmarshal([]byte(msg), &parsed); err != nil {
			continue
		}
		switch parsed.Action {
		case "subscribe":
			if parsed.Collection != "" && parsed.Collection != store.CollectionBookings && parsed.Collection != store.CollectionSessions {
				continue
			}
			if sub != nil {
				hub.Unsubscribe(sub)
			}
			sub = hub.Subscribe(parsed.Collection)
			go forward(sub)
		case "unsubscribe":
			if sub != nil {
				hub.Unsubscribe(sub)
				sub = nil
			}
		}
	}
}
