package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/store"
)

// Bids derives the standing of an auction from its active bid rows.
// Writes go through the engine only.
type Bids struct{}

// NewBids creates a bid ledger
func NewBids() *Bids {
	return &Bids{}
}

// LeadingBid picks the highest active bid. Equal amounts resolve to the
// earliest created_at, then the lowest id.
func LeadingBid(bids []models.Bid) *models.Bid {
	var lead *models.Bid
	for i := range bids {
		b := &bids[i]
		if !b.IsActive {
			continue
		}
		if lead == nil || outranks(b, lead) {
			lead = b
		}
	}
	return lead
}

func outranks(a, b *models.Bid) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// CurrentPrice is the leading amount, or the start price when nothing leads
func CurrentPrice(a *models.Auction, lead *models.Bid) decimal.Decimal {
	if lead == nil {
		return a.StartPrice
	}
	return lead.Amount
}

// Active returns the live bids of an auction in leaderboard order
func (l *Bids) Active(ctx context.Context, tx store.Tx, auctionID int) ([]models.Bid, error) {
	bids, err := tx.ActiveBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active bids: %w", err)
	}
	return bids, nil
}

// Leader returns the leading bid of an auction, or nil
func (l *Bids) Leader(ctx context.Context, tx store.Tx, auctionID int) (*models.Bid, error) {
	bids, err := l.Active(ctx, tx, auctionID)
	if err != nil {
		return nil, err
	}
	return LeadingBid(bids), nil
}

// CurrentBid returns the highest active amount, invalid when there are no bids
func (l *Bids) CurrentBid(ctx context.Context, tx store.Tx, auctionID int) (decimal.NullDecimal, error) {
	lead, err := l.Leader(ctx, tx, auctionID)
	if err != nil || lead == nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(lead.Amount), nil
}

func (l *Bids) Insert(ctx context.Context, tx store.Tx, auctionID, bidderID int, amount decimal.Decimal, expiresAt *time.Time) (*models.Bid, error) {
	bid, err := tx.InsertBid(ctx, &models.Bid{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert bid: %w", err)
	}
	return bid, nil
}

// Deactivate reports whether the bid was active before the call
func (l *Bids) Deactivate(ctx context.Context, tx store.Tx, bidID int) (bool, error) {
	ok, err := tx.DeactivateBid(ctx, bidID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate bid: %w", err)
	}
	return ok, nil
}

func (l *Bids) UpdateAmount(ctx context.Context, tx store.Tx, bidID int, amount decimal.Decimal) error {
	if err := tx.UpdateBidAmount(ctx, bidID, amount); err != nil {
		return fmt.Errorf("failed to update bid amount: %w", err)
	}
	return nil
}
