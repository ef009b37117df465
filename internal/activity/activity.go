// Package activity records the append-only audit trail of marketplace events.
package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/store"
)

const DefaultFeedLimit = 50

var ErrIncompleteEvent = errors.New("activity requires a type and a user")

// Event is one audit entry before it is stored
type Event struct {
	Type       models.ActivityType
	UserID     int
	ArtworkID  *int
	AuctionID  *int
	Price      *decimal.Decimal
	FromUserID *int
	ToUserID   *int
}

// Recorder appends events; it has no update or delete path.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record stores e within the caller's transaction
func (r *Recorder) Record(ctx context.Context, tx store.Tx, e Event) (*models.Activity, error) {
	if e.Type == "" || e.UserID == 0 {
		return nil, ErrIncompleteEvent
	}
	a := &models.Activity{
		Type:       e.Type,
		UserID:     e.UserID,
		ArtworkID:  e.ArtworkID,
		AuctionID:  e.AuctionID,
		FromUserID: e.FromUserID,
		ToUserID:   e.ToUserID,
	}
	if e.Price != nil {
		a.Price = decimal.NewNullDecimal(*e.Price)
	}
	created, err := tx.InsertActivity(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s activity: %w", e.Type, err)
	}
	return created, nil
}

// UserFeed returns a user's events, newest first
func (r *Recorder) UserFeed(ctx context.Context, tx store.Tx, userID, limit int) ([]models.Activity, error) {
	return r.feed(ctx, tx, store.ActivityFilter{UserID: userID, Limit: limit})
}

// ArtworkFeed returns the events concerning an artwork, newest first
func (r *Recorder) ArtworkFeed(ctx context.Context, tx store.Tx, artworkID, limit int) ([]models.Activity, error) {
	return r.feed(ctx, tx, store.ActivityFilter{ArtworkID: artworkID, Limit: limit})
}

func (r *Recorder) feed(ctx context.Context, tx store.Tx, f store.ActivityFilter) ([]models.Activity, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultFeedLimit
	}
	items, err := tx.ListActivity(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	if items == nil {
		items = []models.Activity{}
	}
	return items, nil
}
