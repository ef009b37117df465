package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/auctionhouse/internal/auth"
	"github.com/xtrntr/auctionhouse/internal/config"
	"github.com/xtrntr/auctionhouse/internal/db"
	"github.com/xtrntr/auctionhouse/internal/engine"
	"github.com/xtrntr/auctionhouse/internal/logger"
)

type seedUser struct {
	username string
	roles    []string
	deposit  string
}

type seedAuction struct {
	title    string
	category string
	start    string
	reserve  string
	duration time.Duration
}

var (
	users = []seedUser{
		{"gallery", []string{"seller"}, ""},
		{"collector1", []string{"buyer"}, "5000"},
		{"collector2", []string{"buyer"}, "2500"},
		{"artist", []string{"buyer", "seller"}, "500"},
	}
	auctions = []seedAuction{
		{"Harbour at Dawn", "painting", "120", "", 48 * time.Hour},
		{"Still Life with Quince", "painting", "80", "200", 24 * time.Hour},
		{"Bronze Heron", "sculpture", "300", "", 72 * time.Hour},
		{"Night Market", "photography", "40", "", 2 * time.Hour},
	}
)

// Seed the database with demo users, balances, auctions and bids
func main() {
	configFile := flag.String("config", "", "path to a config file")
	migration := flag.String("migration", "migrations/001_init.sql", "schema to apply before seeding; empty to skip")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level)
	defer log.Sync()

	if err := seed(context.Background(), cfg, *migration, log); err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}
}

func seed(ctx context.Context, cfg *config.Config, migration string, log *zap.Logger) error {
	database, err := db.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxRetries, log.Named("db"))
	if err != nil {
		return err
	}
	defer database.Close()

	if migration != "" {
		sql, err := os.ReadFile(migration)
		if err != nil {
			return fmt.Errorf("failed to read migration: %w", err)
		}
		if _, err := database.Pool.Exec(ctx, string(sql)); err != nil {
			log.Info("migration not applied", zap.Error(err))
		}
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	eng := engine.New(database, engine.DefaultConfig(), engine.WithLogger(log.Named("engine")))

	ids := map[string]int{}
	for _, u := range users {
		created, err := authService.Register(ctx, u.username, "password123", "", u.roles)
		if errors.Is(err, auth.ErrUsernameTaken) {
			log.Info("database already seeded; nothing to do")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", u.username, err)
		}
		ids[u.username] = created.ID
		if u.deposit != "" {
			if _, err := eng.Deposit(ctx, created.ID, decimal.RequireFromString(u.deposit)); err != nil {
				return err
			}
		}
	}

	var listed []int
	for _, a := range auctions {
		req := engine.CreateAuctionRequest{
			Title:      a.title,
			Category:   a.category,
			StartPrice: decimal.RequireFromString(a.start),
			EndTime:    time.Now().Add(a.duration),
		}
		if a.reserve != "" {
			r := decimal.RequireFromString(a.reserve)
			req.ReservePrice = &r
		}
		created, err := eng.CreateAuction(ctx, ids["gallery"], req)
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", a.title, err)
		}
		listed = append(listed, created.ID)
	}

	bids := []struct {
		auction int
		bidder  string
		amount  string
	}{
		{listed[0], "collector1", "150"},
		{listed[0], "collector2", "175"},
		{listed[1], "collector2", "95"},
		{listed[2], "artist", "320"},
		{listed[2], "collector1", "410"},
	}
	for _, b := range bids {
		if _, err := eng.PlaceBid(ctx, b.auction, ids[b.bidder], decimal.RequireFromString(b.amount), nil); err != nil {
			return fmt.Errorf("failed to bid %s for %s: %w", b.amount, b.bidder, err)
		}
	}

	log.Info("seeded database", zap.Int("users", len(ids)), zap.Int("auctions", len(listed)), zap.Int("bids", len(bids)))
	return nil
}
