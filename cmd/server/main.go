package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xtrntr/auctionhouse/internal/api"
	"github.com/xtrntr/auctionhouse/internal/auth"
	"github.com/xtrntr/auctionhouse/internal/config"
	"github.com/xtrntr/auctionhouse/internal/db"
	"github.com/xtrntr/auctionhouse/internal/engine"
	"github.com/xtrntr/auctionhouse/internal/logger"
	"github.com/xtrntr/auctionhouse/internal/memstore"
	"github.com/xtrntr/auctionhouse/internal/metrics"
	"github.com/xtrntr/auctionhouse/internal/notify"
	"github.com/xtrntr/auctionhouse/internal/store"
)

// Main entry point: sets up storage, the auction engine and the HTTP server
func main() {
	configFile := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}
	log := logger.New(cfg.Log.Level)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		s    store.Store
		ping func(context.Context) error
	)
	switch cfg.Storage.Driver {
	case "memory":
		s = memstore.New()
		ping = func(context.Context) error { return nil }
		log.Warn("using in-memory storage; data is lost on exit")
	default:
		database, err := db.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxRetries, log.Named("db"))
		if err != nil {
			return err
		}
		if err := database.Ping(ctx); err != nil {
			database.Close()
			return err
		}
		s = database
		ping = database.Ping
	}
	defer s.Close()

	hub := notify.NewHub(log.Named("ws"))
	defer hub.Close()
	m := metrics.New(hub.ClientCount)

	g, gctx := errgroup.WithContext(ctx)

	// with Redis every instance publishes there and relays the channel to
	// its own websocket clients
	var publisher notify.Publisher = hub
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		rp := notify.NewRedisPublisher(client, cfg.Redis.Channel)
		publisher = rp
		g.Go(func() error {
			return rp.Subscribe(gctx, func(e notify.Event) {
				if err := hub.Publish(gctx, e); err != nil {
					log.Warn("failed to relay event", zap.Error(err))
				}
			})
		})
		log.Info("redis fan-out enabled", zap.String("addr", cfg.Redis.Addr))
	}

	feeRate, err := cfg.Auction.FeeRate()
	if err != nil {
		return err
	}
	eng := engine.New(s, engine.Config{
		PlatformFeeRate:     feeRate,
		ReleaseOutbid:       cfg.Auction.ReleaseOutbid,
		AllowCancelWithBids: cfg.Auction.AllowCancelWithBids,
	},
		engine.WithLogger(log.Named("engine")),
		engine.WithPublisher(publisher),
		engine.WithMetrics(m),
	)
	authService := auth.NewAuthService(s, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(eng, authService, log.Named("http"))

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(m.Middleware)
	r.Get("/ws", hub.ServeHTTP)
	r.Handle("/metrics", m.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ping(pctx); err != nil {
			http.Error(w, `{"status": "unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting server", zap.String("addr", cfg.Server.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return engine.NewSweeper(eng, cfg.Auction.SweepInterval, log.Named("sweeper")).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
