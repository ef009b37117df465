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

// checkBiddable rejects terminal auctions and auctions past end_time,
// whatever their stored status says.
func checkBiddable(a *models.Auction, now time.Time) error {
	if a.Terminal() {
		return fmt.Errorf("auction %d is %s: %w", a.ID, a.Status, ErrAuctionClosed)
	}
	if a.Expired(now) {
		return fmt.Errorf("auction %d ended at %s: %w", a.ID, a.EndTime.Format(time.RFC3339), ErrAuctionExpired)
	}
	return nil
}

func bidResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAuctionClosed), errors.Is(err, ErrAuctionExpired):
		return "closed"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	}
	return "rejected"
}

// PlaceBid records a new bid as the auction's leader. A bidder holds at most
// one active bid per auction, so an earlier bid by the same bidder is
// refunded before the full new amount is reserved.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID int, amount decimal.Decimal, expiresAt *time.Time) (*models.Bid, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var placed *models.Bid
	err := e.run(ctx, "place_bid", func(tx store.Tx, out *outbox) error {
		now := e.now()
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := checkBiddable(a, now); err != nil {
			return err
		}
		if a.SellerID == bidderID {
			return ErrSelfBid
		}
		bidder, err := tx.GetUser(ctx, bidderID)
		if err != nil {
			return err
		}
		if !bidder.HasRole(models.RoleBuyer) {
			return fmt.Errorf("%w: buyer", ErrForbidden)
		}
		if expiresAt != nil && (!expiresAt.After(now) || expiresAt.After(a.EndTime)) {
			return fmt.Errorf("%w: expires_at must be in the future and no later than the auction end", ErrInvalidInput)
		}

		active, err := e.liveBids(ctx, tx, a, now, out)
		if err != nil {
			return err
		}
		lead := ledger.LeadingBid(active)
		if floor := ledger.CurrentPrice(a, lead); !amount.GreaterThan(floor) {
			return fmt.Errorf("bid %s must exceed %s: %w", amount, floor, ErrBidTooLow)
		}

		ref := ledger.Ref{ArtworkID: &a.ArtworkID, AuctionID: &a.ID}
		for _, own := range active {
			if own.BidderID != bidderID {
				continue
			}
			if _, err := e.bids.Deactivate(ctx, tx, own.ID); err != nil {
				return err
			}
			refund := ref
			refund.BidID = ptr(own.ID)
			refund.Description = fmt.Sprintf("Refund of bid replaced on auction #%d", a.ID)
			if _, err := e.wallet.Release(ctx, tx, bidderID, own.Amount, refund); err != nil {
				return err
			}
		}

		placed, err = e.bids.Insert(ctx, tx, a.ID, bidderID, amount, expiresAt)
		if err != nil {
			return err
		}
		reserve := ref
		reserve.BidID = ptr(placed.ID)
		reserve.Description = fmt.Sprintf("Bid on auction #%d", a.ID)
		if _, err := e.wallet.Reserve(ctx, tx, bidderID, amount, models.TxBid, reserve); err != nil {
			return err
		}

		if lead != nil && lead.BidderID != bidderID {
			if err := e.supersede(ctx, tx, a, lead, amount, out); err != nil {
				return err
			}
		}

		if _, err := e.activity.Record(ctx, tx, activity.Event{
			Type:      models.ActivityBid,
			UserID:    bidderID,
			ArtworkID: &a.ArtworkID,
			AuctionID: &a.ID,
			Price:     &amount,
		}); err != nil {
			return err
		}
		out.add(notify.Event{Type: notify.EventBidPlaced, AuctionID: a.ID, UserID: bidderID, Amount: &amount, At: now})
		return nil
	})
	e.metrics.ObserveBid("place", bidResult(err))
	if err != nil {
		return nil, err
	}

	e.logger.Info("bid placed",
		zap.Int("auction_id", auctionID), zap.Int("bidder_id", bidderID),
		zap.Int("bid_id", placed.ID), zap.String("amount", amount.String()))
	return placed, nil
}

// supersede handles a leader who has just been outbid
func (e *Engine) supersede(ctx context.Context, tx store.Tx, a *models.Auction, lead *models.Bid, newAmount decimal.Decimal, out *outbox) error {
	if e.cfg.ReleaseOutbid {
		if _, err := e.bids.Deactivate(ctx, tx, lead.ID); err != nil {
			return err
		}
		ref := ledger.Ref{
			ArtworkID:   &a.ArtworkID,
			AuctionID:   &a.ID,
			BidID:       ptr(lead.ID),
			Description: fmt.Sprintf("Refund of outbid bid on auction #%d", a.ID),
		}
		if _, err := e.wallet.Release(ctx, tx, lead.BidderID, lead.Amount, ref); err != nil {
			return err
		}
	}

	if _, err := e.activity.Record(ctx, tx, activity.Event{
		Type:      models.ActivityOutbid,
		UserID:    lead.BidderID,
		ArtworkID: &a.ArtworkID,
		AuctionID: &a.ID,
		Price:     &newAmount,
	}); err != nil {
		return err
	}
	msg := fmt.Sprintf("Your bid of $%s on auction #%d was outbid at $%s.", lead.Amount.StringFixed(2), a.ID, newAmount.StringFixed(2))
	if e.cfg.ReleaseOutbid {
		msg += " Your funds have been returned to your available balance."
	}
	if err := e.notifyUser(ctx, tx, lead.BidderID, "outbid", "You have been outbid", msg, &a.ArtworkID); err != nil {
		return err
	}
	out.add(notify.Event{Type: notify.EventOutbid, AuctionID: a.ID, UserID: lead.BidderID, Amount: &newAmount, At: e.now()})
	return nil
}

// UpdateBid changes the amount of an active bid, reserving or releasing only
// the difference. The new amount must still beat every other active bid.
func (e *Engine) UpdateBid(ctx context.Context, bidID, userID int, newAmount decimal.Decimal) (*models.Bid, error) {
	if err := validateAmount(newAmount); err != nil {
		return nil, err
	}

	var updated *models.Bid
	err := e.run(ctx, "update_bid", func(tx store.Tx, out *outbox) error {
		now := e.now()
		a, bid, err := e.lockBid(ctx, tx, bidID, userID)
		if err != nil {
			return err
		}
		if err := checkBiddable(a, now); err != nil {
			return err
		}

		active, err := e.liveBids(ctx, tx, a, now, out)
		if err != nil {
			return err
		}
		if bid, err = tx.GetBid(ctx, bidID); err != nil {
			return err
		}
		if !bid.IsActive {
			return ErrBidInactive
		}
		if newAmount.Equal(bid.Amount) {
			return fmt.Errorf("%w: new amount equals the current amount", ErrInvalidInput)
		}

		others := make([]models.Bid, 0, len(active))
		for _, b := range active {
			if b.ID != bid.ID {
				others = append(others, b)
			}
		}
		rival := ledger.LeadingBid(others)
		if floor := ledger.CurrentPrice(a, rival); !newAmount.GreaterThan(floor) {
			return fmt.Errorf("bid %s must exceed %s: %w", newAmount, floor, ErrBidTooLow)
		}
		wasLeading := ledger.LeadingBid(active)
		overtakes := rival != nil && wasLeading != nil && wasLeading.ID == rival.ID

		ref := ledger.Ref{ArtworkID: &a.ArtworkID, AuctionID: &a.ID, BidID: &bid.ID}
		delta := newAmount.Sub(bid.Amount)
		if delta.IsPositive() {
			ref.Description = fmt.Sprintf("Bid increase on auction #%d", a.ID)
			_, err = e.wallet.Reserve(ctx, tx, userID, delta, models.TxBidIncrease, ref)
		} else {
			ref.Description = fmt.Sprintf("Bid decrease on auction #%d", a.ID)
			_, err = e.wallet.Release(ctx, tx, userID, delta.Neg(), ref)
		}
		if err != nil {
			return err
		}
		if err := e.bids.UpdateAmount(ctx, tx, bid.ID, newAmount); err != nil {
			return err
		}

		if overtakes {
			if err := e.supersede(ctx, tx, a, rival, newAmount, out); err != nil {
				return err
			}
		}

		if _, err := e.activity.Record(ctx, tx, activity.Event{
			Type:      models.ActivityBidUpdated,
			UserID:    userID,
			ArtworkID: &a.ArtworkID,
			AuctionID: &a.ID,
			Price:     &newAmount,
		}); err != nil {
			return err
		}

		updated = bid
		updated.Amount = newAmount
		out.add(notify.Event{Type: notify.EventBidUpdated, AuctionID: a.ID, UserID: userID, Amount: &newAmount, At: now})
		return nil
	})
	e.metrics.ObserveBid("update", bidResult(err))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelBid withdraws an active bid and releases its reservation
func (e *Engine) CancelBid(ctx context.Context, bidID, userID int) error {
	err := e.run(ctx, "cancel_bid", func(tx store.Tx, out *outbox) error {
		now := e.now()
		a, bid, err := e.lockBid(ctx, tx, bidID, userID)
		if err != nil {
			return err
		}
		if err := checkBiddable(a, now); err != nil {
			return err
		}
		if !bid.IsActive {
			return ErrBidInactive
		}

		if _, err := e.bids.Deactivate(ctx, tx, bid.ID); err != nil {
			return err
		}
		ref := ledger.Ref{
			ArtworkID:   &a.ArtworkID,
			AuctionID:   &a.ID,
			BidID:       &bid.ID,
			Description: fmt.Sprintf("Refund of cancelled bid on auction #%d", a.ID),
		}
		if _, err := e.wallet.Release(ctx, tx, userID, bid.Amount, ref); err != nil {
			return err
		}
		if _, err := e.activity.Record(ctx, tx, activity.Event{
			Type:      models.ActivityBidCancelled,
			UserID:    userID,
			ArtworkID: &a.ArtworkID,
			AuctionID: &a.ID,
			Price:     &bid.Amount,
		}); err != nil {
			return err
		}
		out.add(notify.Event{Type: notify.EventBidCancelled, AuctionID: a.ID, UserID: userID, Amount: &bid.Amount, At: now})
		return nil
	})
	e.metrics.ObserveBid("cancel", bidResult(err))
	return err
}

// lockBid checks ownership, locks the bid's auction and rereads the bid under the lock
func (e *Engine) lockBid(ctx context.Context, tx store.Tx, bidID, userID int) (*models.Auction, *models.Bid, error) {
	bid, err := tx.GetBid(ctx, bidID)
	if err != nil {
		return nil, nil, err
	}
	if bid.BidderID != userID {
		return nil, nil, ErrNotBidOwner
	}
	a, err := tx.LockAuction(ctx, bid.AuctionID)
	if err != nil {
		return nil, nil, err
	}
	if bid, err = tx.GetBid(ctx, bidID); err != nil {
		return nil, nil, err
	}
	return a, bid, nil
}

// liveBids expires lapsed bids of a locked auction and returns the rest
func (e *Engine) liveBids(ctx context.Context, tx store.Tx, a *models.Auction, now time.Time, out *outbox) ([]models.Bid, error) {
	active, err := e.bids.Active(ctx, tx, a.ID)
	if err != nil {
		return nil, err
	}
	live := make([]models.Bid, 0, len(active))
	for _, b := range active {
		if !b.Lapsed(now) {
			live = append(live, b)
			continue
		}
		if err := e.expireBid(ctx, tx, a, b, now, out); err != nil {
			return nil, err
		}
	}
	return live, nil
}

func (e *Engine) expireBid(ctx context.Context, tx store.Tx, a *models.Auction, b models.Bid, now time.Time, out *outbox) error {
	if _, err := e.bids.Deactivate(ctx, tx, b.ID); err != nil {
		return err
	}
	ref := ledger.Ref{
		ArtworkID:   &a.ArtworkID,
		AuctionID:   &a.ID,
		BidID:       ptr(b.ID),
		Description: fmt.Sprintf("Refund of expired bid on auction #%d", a.ID),
	}
	if _, err := e.wallet.Release(ctx, tx, b.BidderID, b.Amount, ref); err != nil {
		return err
	}
	if _, err := e.activity.Record(ctx, tx, activity.Event{
		Type:      models.ActivityBidExpired,
		UserID:    b.BidderID,
		ArtworkID: &a.ArtworkID,
		AuctionID: &a.ID,
		Price:     &b.Amount,
	}); err != nil {
		return err
	}
	e.metrics.ObserveBid("expire", "ok")
	out.add(notify.Event{Type: notify.EventBidExpired, AuctionID: a.ID, UserID: b.BidderID, Amount: ptr(b.Amount), At: now})
	return nil
}

// ExpireBids deactivates and refunds every lapsed bid on open auctions.
// It returns the number of bids expired.
func (e *Engine) ExpireBids(ctx context.Context) (int, error) {
	var ids []int
	if err := e.view(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.LapsedAuctionIDs(ctx, e.now())
		return err
	}); err != nil {
		return 0, err
	}

	total := 0
	for _, id := range ids {
		var n int
		err := e.run(ctx, "expire_bids", func(tx store.Tx, out *outbox) error {
			now := e.now()
			a, err := tx.LockAuction(ctx, id)
			if err != nil {
				return err
			}
			if a.Terminal() {
				return nil
			}
			active, err := e.bids.Active(ctx, tx, a.ID)
			if err != nil {
				return err
			}
			live, err := e.liveBids(ctx, tx, a, now, out)
			if err != nil {
				return err
			}
			n = len(active) - len(live)
			return nil
		})
		if err != nil {
			e.logger.Error("failed to expire bids", zap.Int("auction_id", id), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}
