package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/auctionhouse/internal/activity"
	"github.com/xtrntr/auctionhouse/internal/ledger"
	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/notify"
	"github.com/xtrntr/auctionhouse/internal/store"
)

// CreateAuctionRequest lists either an existing artwork (ArtworkID) or a new
// one described by the inline fields.
type CreateAuctionRequest struct {
	ArtworkID    *int
	Title        string
	Description  string
	Category     string
	ImageURL     string
	StartPrice   decimal.Decimal
	ReservePrice *decimal.Decimal
	EndTime      time.Time
}

// CreateAuction opens an auction for an artwork owned by the seller
func (e *Engine) CreateAuction(ctx context.Context, sellerID int, req CreateAuctionRequest) (*models.Auction, error) {
	if req.StartPrice.IsNegative() || !req.StartPrice.Equal(req.StartPrice.Round(2)) {
		return nil, fmt.Errorf("%w: start_price must be a non-negative amount", ErrInvalidInput)
	}
	if req.ReservePrice != nil {
		if err := validateAmount(*req.ReservePrice); err != nil {
			return nil, err
		}
		if req.ReservePrice.LessThan(req.StartPrice) {
			return nil, fmt.Errorf("%w: reserve_price must not be below start_price", ErrInvalidInput)
		}
	}
	if req.ArtworkID == nil && req.Title == "" {
		return nil, fmt.Errorf("%w: artwork_id or title is required", ErrInvalidInput)
	}

	var created *models.Auction
	err := e.run(ctx, "create_auction", func(tx store.Tx, out *outbox) error {
		now := e.now()
		if !req.EndTime.After(now) {
			return fmt.Errorf("%w: end_time must be in the future", ErrInvalidInput)
		}
		seller, err := tx.GetUser(ctx, sellerID)
		if err != nil {
			return err
		}
		if !seller.HasRole(models.RoleSeller) {
			return fmt.Errorf("%w: seller", ErrForbidden)
		}

		var art *models.Artwork
		if req.ArtworkID != nil {
			if art, err = tx.GetArtwork(ctx, *req.ArtworkID); err != nil {
				return err
			}
			if art.OwnerID != sellerID {
				return ErrNotArtworkOwner
			}
			if art.ListingType == models.ListingAuction {
				return ErrArtworkListed
			}
		} else {
			art, err = tx.CreateArtwork(ctx, &models.Artwork{
				ArtistID:    sellerID,
				OwnerID:     sellerID,
				Title:       req.Title,
				Description: req.Description,
				Category:    req.Category,
				ImageURL:    req.ImageURL,
				ListingType: models.ListingAuction,
			})
			if err != nil {
				return err
			}
		}
		if err := tx.UpdateArtwork(ctx, art.ID, art.OwnerID, models.ListingAuction); err != nil {
			return err
		}

		auction := &models.Auction{
			ArtworkID:  art.ID,
			SellerID:   sellerID,
			StartPrice: req.StartPrice,
			EndTime:    req.EndTime,
		}
		if req.ReservePrice != nil {
			auction.ReservePrice = decimal.NewNullDecimal(*req.ReservePrice)
		}
		created, err = tx.CreateAuction(ctx, auction)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrArtworkListed
		}
		if err != nil {
			return err
		}

		if _, err := e.activity.Record(ctx, tx, activity.Event{
			Type:      models.ActivityListed,
			UserID:    sellerID,
			ArtworkID: &art.ID,
			AuctionID: &created.ID,
			Price:     &req.StartPrice,
		}); err != nil {
			return err
		}
		out.add(notify.Event{Type: notify.EventAuctionCreated, AuctionID: created.ID, UserID: sellerID, Amount: &req.StartPrice, At: now})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("auction created",
		zap.Int("auction_id", created.ID), zap.Int("artwork_id", created.ArtworkID), zap.Int("seller_id", sellerID))
	return created, nil
}

type Outcome string

const (
	OutcomeSold          Outcome = "sold"
	OutcomeNoBids        Outcome = "no_bids"
	OutcomeReserveNotMet Outcome = "reserve_not_met"
	OutcomeCancelled     Outcome = "cancelled"
	// OutcomeUnsold is reported for an auction closed earlier without a winner
	OutcomeUnsold        Outcome = "unsold"
)

// CloseResult describes a close. AlreadyClosed is set when the auction had
// reached a terminal state before the call and nothing was changed.
type CloseResult struct {
	AuctionID     int                  `json:"auction_id"`
	Status        models.AuctionStatus `json:"status"`
	WinnerID      *int                 `json:"winner_id"`
	Outcome       Outcome              `json:"outcome"`
	Amount        *decimal.Decimal     `json:"amount,omitempty"`
	AlreadyClosed bool                 `json:"already_closed"`
}

func terminalResult(a *models.Auction) *CloseResult {
	r := &CloseResult{AuctionID: a.ID, Status: a.Status, WinnerID: a.WinnerID, AlreadyClosed: true}
	switch {
	case a.Status == models.AuctionCancelled:
		r.Outcome = OutcomeCancelled
	case a.WinnerID != nil:
		r.Outcome = OutcomeSold
	default:
		r.Outcome = OutcomeUnsold
	}
	return r
}

// CloseAuction settles an auction exactly once. actorID 0 is the system
// closer; any other actor must be the seller and may close before end_time.
// Closing a closed or cancelled auction returns the stored result.
func (e *Engine) CloseAuction(ctx context.Context, auctionID, actorID int) (*CloseResult, error) {
	var result *CloseResult
	err := e.run(ctx, "close_auction", func(tx store.Tx, out *outbox) error {
		now := e.now()
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if actorID != 0 && actorID != a.SellerID {
			return ErrNotSeller
		}
		if a.Terminal() {
			result = terminalResult(a)
			return nil
		}

		active, err := e.bids.Active(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		var live, lapsed []models.Bid
		for _, b := range active {
			if b.Lapsed(now) {
				lapsed = append(lapsed, b)
			} else {
				live = append(live, b)
			}
		}
		lead := ledger.LeadingBid(live)

		result = &CloseResult{AuctionID: a.ID, Status: models.AuctionClosed}
		switch {
		case lead == nil:
			result.Outcome = OutcomeNoBids
		case a.ReservePrice.Valid && lead.Amount.LessThan(a.ReservePrice.Decimal):
			result.Outcome = OutcomeReserveNotMet
			result.Amount = ptr(lead.Amount)
		default:
			result.Outcome = OutcomeSold
			result.WinnerID = ptr(lead.BidderID)
			result.Amount = ptr(lead.Amount)
		}

		// claim the auction before any settlement effect
		claimed, err := tx.FinishAuction(ctx, a.ID, models.AuctionClosed, result.WinnerID, now)
		if err != nil {
			return err
		}
		if !claimed {
			if a, err = tx.GetAuction(ctx, a.ID); err != nil {
				return err
			}
			result = terminalResult(a)
			return nil
		}

		for _, b := range lapsed {
			if err := e.expireBid(ctx, tx, a, b, now, out); err != nil {
				return err
			}
		}

		art, err := tx.GetArtwork(ctx, a.ArtworkID)
		if err != nil {
			return err
		}

		if result.Outcome == OutcomeSold {
			if err := e.settle(ctx, tx, a, art, lead); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateArtwork(ctx, art.ID, art.OwnerID, models.ListingNone); err != nil {
				return err
			}
			if err := e.recordUnsold(ctx, tx, a, art, result); err != nil {
				return err
			}
		}

		for _, b := range live {
			if result.Outcome == OutcomeSold && b.ID == lead.ID {
				continue
			}
			if err := e.refundAtClose(ctx, tx, a, art, b, "Auction ended"); err != nil {
				return err
			}
		}

		out.add(notify.Event{Type: notify.EventAuctionClosed, AuctionID: a.ID, WinnerID: result.WinnerID, Amount: result.Amount, At: now})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyClosed {
		e.metrics.ObserveClose(string(result.Outcome))
		e.logger.Info("auction closed",
			zap.Int("auction_id", auctionID), zap.String("outcome", string(result.Outcome)), zap.Intp("winner_id", result.WinnerID))
	}
	return result, nil
}

// settle converts the winning reservation into a sale and transfers ownership
func (e *Engine) settle(ctx context.Context, tx store.Tx, a *models.Auction, art *models.Artwork, lead *models.Bid) error {
	amount := lead.Amount
	fee := amount.Mul(e.cfg.PlatformFeeRate).Round(2)

	if _, err := e.bids.Deactivate(ctx, tx, lead.ID); err != nil {
		return err
	}
	ref := ledger.Ref{
		ArtworkID:   &art.ID,
		AuctionID:   &a.ID,
		BidID:       ptr(lead.ID),
		Description: fmt.Sprintf("Auction #%d: %s", a.ID, art.Title),
	}
	if err := e.wallet.Settle(ctx, tx, lead.BidderID, a.SellerID, amount, fee, ref); err != nil {
		return err
	}
	if err := tx.UpdateArtwork(ctx, art.ID, lead.BidderID, models.ListingNone); err != nil {
		return err
	}

	for _, ev := range []activity.Event{
		{Type: models.ActivityAuctionWon, UserID: lead.BidderID, FromUserID: &a.SellerID, ToUserID: ptr(lead.BidderID)},
		{Type: models.ActivitySold, UserID: a.SellerID, FromUserID: &a.SellerID, ToUserID: ptr(lead.BidderID)},
	} {
		ev.ArtworkID = &art.ID
		ev.AuctionID = &a.ID
		ev.Price = &amount
		if _, err := e.activity.Record(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := e.notifyUser(ctx, tx, lead.BidderID, "auction_won", "Auction won",
		fmt.Sprintf("You won '%s' with a bid of $%s. The artwork is now yours.", art.Title, amount.StringFixed(2)),
		&art.ID); err != nil {
		return err
	}
	return e.notifyUser(ctx, tx, a.SellerID, "auction_sold", "Auction sold",
		fmt.Sprintf("'%s' sold for $%s. After the platform fee, $%s has been added to your balance.",
			art.Title, amount.StringFixed(2), amount.Sub(fee).StringFixed(2)),
		&art.ID)
}

func (e *Engine) recordUnsold(ctx context.Context, tx store.Tx, a *models.Auction, art *models.Artwork, r *CloseResult) error {
	if _, err := e.activity.Record(ctx, tx, activity.Event{
		Type:      models.ActivityAuctionEnded,
		UserID:    a.SellerID,
		ArtworkID: &art.ID,
		AuctionID: &a.ID,
		Price:     r.Amount,
	}); err != nil {
		return err
	}

	msg := fmt.Sprintf("Your auction for '%s' ended without any bids.", art.Title)
	if r.Outcome == OutcomeReserveNotMet {
		msg = fmt.Sprintf("Your auction for '%s' ended but the reserve price of $%s was not met. The highest bid was $%s. All bidders have been refunded.",
			art.Title, a.ReservePrice.Decimal.StringFixed(2), r.Amount.StringFixed(2))
	}
	return e.notifyUser(ctx, tx, a.SellerID, "auction_ended", "Auction ended", msg, &art.ID)
}

func (e *Engine) refundAtClose(ctx context.Context, tx store.Tx, a *models.Auction, art *models.Artwork, b models.Bid, reason string) error {
	if _, err := e.bids.Deactivate(ctx, tx, b.ID); err != nil {
		return err
	}
	ref := ledger.Ref{
		ArtworkID:   &art.ID,
		AuctionID:   &a.ID,
		BidID:       ptr(b.ID),
		Description: fmt.Sprintf("%s: refund for auction #%d", reason, a.ID),
	}
	if _, err := e.wallet.Release(ctx, tx, b.BidderID, b.Amount, ref); err != nil {
		return err
	}
	return e.notifyUser(ctx, tx, b.BidderID, "bid_refunded", reason,
		fmt.Sprintf("Your bid of $%s on '%s' has been refunded.", b.Amount.StringFixed(2), art.Title), &art.ID)
}

// CancelAuction withdraws an open auction. With active bids it is refused
// unless AllowCancelWithBids is set, in which case every bid is refunded.
func (e *Engine) CancelAuction(ctx context.Context, auctionID, sellerID int) error {
	err := e.run(ctx, "cancel_auction", func(tx store.Tx, out *outbox) error {
		now := e.now()
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.SellerID != sellerID {
			return ErrNotSeller
		}
		if err := checkBiddable(a, now); err != nil {
			return err
		}
		active, err := e.bids.Active(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if len(active) > 0 && !e.cfg.AllowCancelWithBids {
			return fmt.Errorf("auction %d has %d active bids: %w", a.ID, len(active), ErrAuctionHasBids)
		}

		claimed, err := tx.FinishAuction(ctx, a.ID, models.AuctionCancelled, nil, now)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrAuctionClosed
		}

		art, err := tx.GetArtwork(ctx, a.ArtworkID)
		if err != nil {
			return err
		}
		for _, b := range active {
			if err := e.refundAtClose(ctx, tx, a, art, b, "Auction cancelled"); err != nil {
				return err
			}
		}
		if err := tx.UpdateArtwork(ctx, art.ID, art.OwnerID, models.ListingNone); err != nil {
			return err
		}
		if _, err := e.activity.Record(ctx, tx, activity.Event{
			Type:      models.ActivityAuctionCancelled,
			UserID:    sellerID,
			ArtworkID: &art.ID,
			AuctionID: &a.ID,
		}); err != nil {
			return err
		}
		out.add(notify.Event{Type: notify.EventAuctionCancelled, AuctionID: a.ID, UserID: sellerID, At: now})
		return nil
	})
	if err != nil {
		return err
	}

	e.metrics.ObserveClose(string(OutcomeCancelled))
	e.logger.Info("auction cancelled", zap.Int("auction_id", auctionID), zap.Int("seller_id", sellerID))
	return nil
}

// ProcessEnded closes every open auction whose end_time has passed, each in
// its own transaction. A failure is logged and does not stop the batch.
// It returns the auctions this call closed.
func (e *Engine) ProcessEnded(ctx context.Context) ([]CloseResult, error) {
	var ids []int
	if err := e.view(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.EndedAuctionIDs(ctx, e.now())
		return err
	}); err != nil {
		return nil, err
	}

	results := []CloseResult{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		r, err := e.CloseAuction(ctx, id, 0)
		if err != nil {
			e.logger.Error("failed to close ended auction", zap.Int("auction_id", id), zap.Error(err))
			continue
		}
		if !r.AlreadyClosed {
			results = append(results, *r)
		}
	}
	return results, nil
}
