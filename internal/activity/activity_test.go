package activity

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auctionhouse/internal/memstore"
	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/store"
)

func TestRecorder(t *testing.T) {
	s := memstore.New()
	r := NewRecorder()
	ctx := context.Background()

	var alice, bob *models.User
	var art *models.Artwork
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if alice, err = tx.CreateUser(ctx, &models.User{Username: "alice"}); err != nil {
			return err
		}
		if bob, err = tx.CreateUser(ctx, &models.User{Username: "bob"}); err != nil {
			return err
		}
		art, err = tx.CreateArtwork(ctx, &models.Artwork{ArtistID: alice.ID, OwnerID: alice.ID, Title: "Tide"})
		return err
	}))

	price := decimal.NewFromInt(42)
	events := []Event{
		{Type: models.ActivityListed, UserID: alice.ID, ArtworkID: &art.ID},
		{Type: models.ActivityBid, UserID: bob.ID, ArtworkID: &art.ID, Price: &price},
		{Type: models.ActivitySold, UserID: alice.ID, ArtworkID: &art.ID, Price: &price, FromUserID: &alice.ID, ToUserID: &bob.ID},
	}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for _, e := range events {
			if _, err := r.Record(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	tests := []struct {
		name      string
		feed      func(tx store.Tx) ([]models.Activity, error)
		wantTypes []models.ActivityType
	}{
		{
			name:      "UserFeed",
			feed:      func(tx store.Tx) ([]models.Activity, error) { return r.UserFeed(ctx, tx, alice.ID, 0) },
			wantTypes: []models.ActivityType{models.ActivitySold, models.ActivityListed},
		},
		{
			name:      "ArtworkFeed",
			feed:      func(tx store.Tx) ([]models.Activity, error) { return r.ArtworkFeed(ctx, tx, art.ID, 0) },
			wantTypes: []models.ActivityType{models.ActivitySold, models.ActivityBid, models.ActivityListed},
		},
		{
			name:      "Limit",
			feed:      func(tx store.Tx) ([]models.Activity, error) { return r.ArtworkFeed(ctx, tx, art.ID, 1) },
			wantTypes: []models.ActivityType{models.ActivitySold},
		},
		{
			name:      "Empty",
			feed:      func(tx store.Tx) ([]models.Activity, error) { return r.UserFeed(ctx, tx, 999, 0) },
			wantTypes: []models.ActivityType{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var items []models.Activity
			require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
				var err error
				items, err = tt.feed(tx)
				return err
			}))
			got := []models.ActivityType{}
			for _, a := range items {
				got = append(got, a.Type)
			}
			assert.Equal(t, tt.wantTypes, got)
		})
	}
}

func TestRecorder_RejectsIncompleteEvent(t *testing.T) {
	s := memstore.New()
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		_, err := NewRecorder().Record(context.Background(), tx, Event{Type: models.ActivityBid})
		return err
	})
	assert.ErrorIs(t, err, ErrIncompleteEvent)
}
