package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("AUCTION_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("AUCTION_STORAGE_DRIVER", "memory")
	t.Setenv("AUCTION_AUCTION_SWEEP_INTERVAL", "30s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Auction.SweepInterval)
	assert.True(t, cfg.Auction.ReleaseOutbid)
	assert.False(t, cfg.Auction.AllowCancelWithBids)
	assert.Equal(t, 3, cfg.Database.MaxRetries)

	rate, err := cfg.Auction.FeeRate()
	require.NoError(t, err)
	assert.Equal(t, "0.025", rate.String())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auction.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
auth:
  jwt_secret: from-file
auction:
  platform_fee_rate: "0.05"
  allow_cancel_with_bids: true
redis:
  addr: localhost:6379
`), 0o600))
	t.Setenv("AUCTION_SERVER_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "env overrides file")
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Auction.AllowCancelWithBids)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "auction-events", cfg.Redis.Channel)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{MaxRetries: 3},
			Storage:  StorageConfig{Driver: "postgres"},
			Auth:     AuthConfig{JWTSecret: "x"},
			Auction:  AuctionConfig{PlatformFeeRate: "0.025", SweepInterval: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"UnknownDriver", func(c *Config) { c.Storage.Driver = "sqlite" }, true},
		{"MissingSecret", func(c *Config) { c.Auth.JWTSecret = "" }, true},
		{"BadFee", func(c *Config) { c.Auction.PlatformFeeRate = "abc" }, true},
		{"FeeTooHigh", func(c *Config) { c.Auction.PlatformFeeRate = "1" }, true},
		{"ZeroInterval", func(c *Config) { c.Auction.SweepInterval = 0 }, true},
		{"NoRetries", func(c *Config) { c.Database.MaxRetries = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
