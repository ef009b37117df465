package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/store"
)

type tx struct {
	s *state
}

func notFound(kind string, id int) error {
	return fmt.Errorf("%s %d: %w", kind, id, store.ErrNotFound)
}

func (t *tx) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	for _, existing := range t.s.users {
		if existing.Username == u.Username {
			return nil, fmt.Errorf("username %q: %w", u.Username, store.ErrDuplicate)
		}
	}
	created := *u
	created.ID = t.s.nextID()
	created.CreatedAt = time.Now()
	t.s.users[created.ID] = created
	t.s.balances[created.ID] = models.Balance{UserID: created.ID}
	return &created, nil
}

func (t *tx) GetUser(ctx context.Context, id int) (*models.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (t *tx) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range t.s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
}

func (t *tx) CreateArtwork(ctx context.Context, a *models.Artwork) (*models.Artwork, error) {
	created := *a
	created.ID = t.s.nextID()
	created.CreatedAt = time.Now()
	t.s.artworks[created.ID] = created
	return &created, nil
}

func (t *tx) GetArtwork(ctx context.Context, id int) (*models.Artwork, error) {
	a, ok := t.s.artworks[id]
	if !ok {
		return nil, notFound("artwork", id)
	}
	return &a, nil
}

func (t *tx) UpdateArtwork(ctx context.Context, id, ownerID int, listing models.ListingType) error {
	a, ok := t.s.artworks[id]
	if !ok {
		return notFound("artwork", id)
	}
	a.OwnerID = ownerID
	a.ListingType = listing
	t.s.artworks[id] = a
	return nil
}

func (t *tx) CreateAuction(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	if _, ok := t.s.artworks[a.ArtworkID]; !ok {
		return nil, notFound("artwork", a.ArtworkID)
	}
	for _, existing := range t.s.auctions {
		if existing.ArtworkID == a.ArtworkID && existing.Status == models.AuctionOpen {
			return nil, fmt.Errorf("open auction for artwork %d: %w", a.ArtworkID, store.ErrDuplicate)
		}
	}
	created := *a
	created.ID = t.s.nextID()
	created.Status = models.AuctionOpen
	created.CreatedAt = time.Now()
	t.s.auctions[created.ID] = created
	return &created, nil
}

func (t *tx) GetAuction(ctx context.Context, id int) (*models.Auction, error) {
	a, ok := t.s.auctions[id]
	if !ok {
		return nil, notFound("auction", id)
	}
	return &a, nil
}

// LockAuction needs no extra locking: the store lock is held for the whole transaction.
func (t *tx) LockAuction(ctx context.Context, id int) (*models.Auction, error) {
	return t.GetAuction(ctx, id)
}

func (t *tx) FinishAuction(ctx context.Context, id int, status models.AuctionStatus, winnerID *int, at time.Time) (bool, error) {
	a, ok := t.s.auctions[id]
	if !ok {
		return false, notFound("auction", id)
	}
	if a.Status != models.AuctionOpen {
		return false, nil
	}
	a.Status = status
	a.WinnerID = winnerID
	a.ClosedAt = &at
	t.s.auctions[id] = a
	return true, nil
}

func (t *tx) ListAuctions(ctx context.Context, f store.AuctionFilter) ([]models.Auction, error) {
	keyword := strings.ToLower(f.Keyword)
	var out []models.Auction
	for _, a := range t.s.auctions {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.SellerID != 0 && a.SellerID != f.SellerID {
			continue
		}
		art := t.s.artworks[a.ArtworkID]
		if f.Category != "" && !strings.EqualFold(art.Category, f.Category) {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(art.Title), keyword) &&
			!strings.Contains(strings.ToLower(art.Description), keyword) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Newest {
			return out[i].ID > out[j].ID
		}
		if out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndTime.Before(out[j].EndTime)
	})
	return out, nil
}

func (t *tx) EndedAuctionIDs(ctx context.Context, now time.Time) ([]int, error) {
	var ids []int
	for _, a := range t.s.auctions {
		if a.Status == models.AuctionOpen && a.Expired(now) {
			ids = append(ids, a.ID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (t *tx) InsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error) {
	if _, ok := t.s.auctions[b.AuctionID]; !ok {
		return nil, notFound("auction", b.AuctionID)
	}
	for _, existing := range t.s.bids {
		if existing.IsActive && existing.AuctionID == b.AuctionID && existing.BidderID == b.BidderID {
			return nil, fmt.Errorf("active bid for bidder %d: %w", b.BidderID, store.ErrDuplicate)
		}
	}
	created := *b
	created.ID = t.s.nextID()
	created.IsActive = true
	created.CreatedAt = time.Now()
	t.s.bids[created.ID] = created
	return &created, nil
}

func (t *tx) GetBid(ctx context.Context, id int) (*models.Bid, error) {
	b, ok := t.s.bids[id]
	if !ok {
		return nil, notFound("bid", id)
	}
	return &b, nil
}

func (t *tx) DeactivateBid(ctx context.Context, id int) (bool, error) {
	b, ok := t.s.bids[id]
	if !ok {
		return false, notFound("bid", id)
	}
	if !b.IsActive {
		return false, nil
	}
	b.IsActive = false
	t.s.bids[id] = b
	return true, nil
}

func (t *tx) UpdateBidAmount(ctx context.Context, id int, amount decimal.Decimal) error {
	b, ok := t.s.bids[id]
	if !ok || !b.IsActive {
		return notFound("active bid", id)
	}
	b.Amount = amount
	t.s.bids[id] = b
	return nil
}

func (t *tx) ActiveBids(ctx context.Context, auctionID int) ([]models.Bid, error) {
	var out []models.Bid
	for _, b := range t.s.bids {
		if b.AuctionID == auctionID && b.IsActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) AuctionBids(ctx context.Context, auctionID int) ([]models.Bid, error) {
	var out []models.Bid
	for _, b := range t.s.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *tx) BidderBids(ctx context.Context, bidderID int) ([]models.Bid, error) {
	var out []models.Bid
	for _, b := range t.s.bids {
		if b.BidderID == bidderID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *tx) LapsedAuctionIDs(ctx context.Context, now time.Time) ([]int, error) {
	seen := map[int]bool{}
	var ids []int
	for _, b := range t.s.bids {
		if !b.IsActive || !b.Lapsed(now) || seen[b.AuctionID] {
			continue
		}
		if a, ok := t.s.auctions[b.AuctionID]; ok && a.Status == models.AuctionOpen {
			seen[b.AuctionID] = true
			ids = append(ids, b.AuctionID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (t *tx) GetBalance(ctx context.Context, userID int) (*models.Balance, error) {
	b, ok := t.s.balances[userID]
	if !ok {
		return &models.Balance{UserID: userID}, nil
	}
	return &b, nil
}

func (t *tx) AdjustBalance(ctx context.Context, userID int, d store.BalanceDelta) (*models.Balance, error) {
	b, ok := t.s.balances[userID]
	if !ok {
		b = models.Balance{UserID: userID}
	}
	available := b.Available.Add(d.Available)
	pending := b.Pending.Add(d.Pending)
	if available.IsNegative() || pending.IsNegative() {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNegativeBalance)
	}
	b.Available = available
	b.Pending = pending
	t.s.balances[userID] = b
	return &b, nil
}

func (t *tx) InsertTransaction(ctx context.Context, tr *models.Transaction) (*models.Transaction, error) {
	created := *tr
	created.ID = t.s.nextID()
	created.CreatedAt = time.Now()
	t.s.transactions = append(t.s.transactions, created)
	return &created, nil
}

func (t *tx) ListTransactions(ctx context.Context, userID, limit, offset int) ([]models.Transaction, int, error) {
	var mine []models.Transaction
	for i := len(t.s.transactions) - 1; i >= 0; i-- {
		if t.s.transactions[i].UserID == userID {
			mine = append(mine, t.s.transactions[i])
		}
	}
	total := len(mine)
	if offset >= total {
		return []models.Transaction{}, total, nil
	}
	end := min(offset+limit, total)
	return mine[offset:end], total, nil
}

func (t *tx) CompletedTotals(ctx context.Context, userID int) (map[models.TransactionType]decimal.Decimal, error) {
	totals := map[models.TransactionType]decimal.Decimal{}
	for _, tr := range t.s.transactions {
		if tr.UserID != userID || tr.Status != models.TxCompleted {
			continue
		}
		totals[tr.Type] = totals[tr.Type].Add(tr.Amount)
	}
	return totals, nil
}

func (t *tx) InsertActivity(ctx context.Context, a *models.Activity) (*models.Activity, error) {
	created := *a
	created.ID = t.s.nextID()
	created.CreatedAt = time.Now()
	t.s.activities = append(t.s.activities, created)
	return &created, nil
}

func (t *tx) ListActivity(ctx context.Context, f store.ActivityFilter) ([]models.Activity, error) {
	var out []models.Activity
	for i := len(t.s.activities) - 1; i >= 0; i-- {
		a := t.s.activities[i]
		if f.UserID != 0 && a.UserID != f.UserID {
			continue
		}
		if f.ArtworkID != 0 && (a.ArtworkID == nil || *a.ArtworkID != f.ArtworkID) {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (t *tx) InsertNotification(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	created := *n
	created.ID = t.s.nextID()
	created.CreatedAt = time.Now()
	t.s.notifications = append(t.s.notifications, created)
	return &created, nil
}
