package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/auctionhouse/internal/ledger"
	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/store"
)

type SortOrder string

const (
	SortEndTime SortOrder = "end_time"
	SortPrice   SortOrder = "price"
	SortNewest  SortOrder = "newest"
)

// ListFilter narrows ListAuctions. An empty Status lists every status.
type ListFilter struct {
	Status   models.AuctionStatus
	SellerID int
	Keyword  string
	Category string
	Sort     SortOrder
}

// ListAuctions returns auction summaries with their current price derived
// from active bids.
func (e *Engine) ListAuctions(ctx context.Context, f ListFilter) ([]models.AuctionSummary, error) {
	summaries := []models.AuctionSummary{}
	err := e.view(ctx, func(tx store.Tx) error {
		summaries = summaries[:0]
		auctions, err := tx.ListAuctions(ctx, store.AuctionFilter{
			Status:   f.Status,
			SellerID: f.SellerID,
			Keyword:  f.Keyword,
			Category: f.Category,
			Newest:   f.Sort == SortNewest,
		})
		if err != nil {
			return err
		}
		for i := range auctions {
			a := &auctions[i]
			art, err := tx.GetArtwork(ctx, a.ArtworkID)
			if err != nil {
				return err
			}
			current, err := e.bids.CurrentBid(ctx, tx, a.ID)
			if err != nil {
				return err
			}
			price := a.StartPrice
			if current.Valid {
				price = current.Decimal
			}
			summaries = append(summaries, models.AuctionSummary{
				ID:           a.ID,
				ArtworkID:    a.ArtworkID,
				SellerID:     a.SellerID,
				Title:        art.Title,
				Category:     art.Category,
				ImageURL:     art.ImageURL,
				StartPrice:   a.StartPrice,
				CurrentBid:   current,
				CurrentPrice: price,
				Status:       a.Status,
				EndTime:      a.EndTime,
				WinnerID:     a.WinnerID,
				CreatedAt:    a.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if f.Sort == SortPrice {
		sort.SliceStable(summaries, func(i, j int) bool {
			return summaries[i].CurrentPrice.LessThan(summaries[j].CurrentPrice)
		})
	}
	return summaries, nil
}

// SellerAuctions lists every auction the user has created
func (e *Engine) SellerAuctions(ctx context.Context, sellerID int) ([]models.AuctionSummary, error) {
	return e.ListAuctions(ctx, ListFilter{SellerID: sellerID, Sort: SortNewest})
}

// AuctionDetail returns an auction with its artwork, seller and bid history
func (e *Engine) AuctionDetail(ctx context.Context, auctionID int) (*models.AuctionDetail, error) {
	var d models.AuctionDetail
	err := e.view(ctx, func(tx store.Tx) error {
		a, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		art, err := tx.GetArtwork(ctx, a.ArtworkID)
		if err != nil {
			return err
		}
		seller, err := tx.GetUser(ctx, a.SellerID)
		if err != nil {
			return err
		}
		history, err := tx.AuctionBids(ctx, a.ID)
		if err != nil {
			return err
		}
		if history == nil {
			history = []models.Bid{}
		}

		lead := ledger.LeadingBid(history)
		d = models.AuctionDetail{
			Auction:      *a,
			Artwork:      *art,
			Seller:       models.PublicUser{ID: seller.ID, Username: seller.Username, DisplayName: seller.DisplayName},
			CurrentPrice: ledger.CurrentPrice(a, lead),
			Bids:         history,
		}
		if lead != nil {
			d.CurrentBid = decimal.NewNullDecimal(lead.Amount)
			d.HighestBidderID = ptr(lead.BidderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// BidderBids lists every bid the user has placed with its auction's state
func (e *Engine) BidderBids(ctx context.Context, bidderID int) ([]models.UserBid, error) {
	out := []models.UserBid{}
	err := e.view(ctx, func(tx store.Tx) error {
		out = out[:0]
		bids, err := tx.BidderBids(ctx, bidderID)
		if err != nil {
			return err
		}
		auctions := map[int]*models.Auction{}
		titles := map[int]string{}
		for _, b := range bids {
			a, ok := auctions[b.AuctionID]
			if !ok {
				if a, err = tx.GetAuction(ctx, b.AuctionID); err != nil {
					return err
				}
				art, err := tx.GetArtwork(ctx, a.ArtworkID)
				if err != nil {
					return err
				}
				auctions[a.ID] = a
				titles[a.ID] = art.Title
			}
			out = append(out, models.UserBid{
				Bid:           b,
				AuctionStatus: a.Status,
				WinnerID:      a.WinnerID,
				ArtworkID:     a.ArtworkID,
				Title:         titles[a.ID],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UserActivity returns the user's audit trail, newest first
func (e *Engine) UserActivity(ctx context.Context, userID, limit int) ([]models.Activity, error) {
	var items []models.Activity
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		items, err = e.activity.UserFeed(ctx, tx, userID, limit)
		return err
	})
	return items, err
}

// ArtworkActivity returns the events concerning one artwork, newest first
func (e *Engine) ArtworkActivity(ctx context.Context, artworkID, limit int) ([]models.Activity, error) {
	var items []models.Activity
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		items, err = e.activity.ArtworkFeed(ctx, tx, artworkID, limit)
		return err
	})
	return items, err
}
