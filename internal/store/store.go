// Package store defines the transactional storage port used by the engine.
// Adapters live in internal/db (PostgreSQL) and internal/memstore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionhouse/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNegativeBalance is returned when a balance adjustment would take
	// either counter below zero. The row is left untouched.
	ErrNegativeBalance = errors.New("balance would become negative")
	// ErrSerialization is returned once retries on deadlock or
	// serialization failure are exhausted.
	ErrSerialization = errors.New("transaction could not be serialized")
)

// Store runs units of work atomically.
type Store interface {
	// WithTx runs fn inside one transaction. fn may be invoked more than
	// once if the adapter retries; it must not leak side effects.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

// AuctionFilter narrows ListAuctions. Zero values mean no constraint.
type AuctionFilter struct {
	Status   models.AuctionStatus
	SellerID int
	Keyword  string
	Category string
	// Newest orders by creation time descending instead of end_time.
	Newest bool
}

// ActivityFilter narrows ListActivity.
type ActivityFilter struct {
	UserID    int
	ArtworkID int
	Limit     int
}

// BalanceDelta is applied as an atomic increment to a balance row.
type BalanceDelta struct {
	Available decimal.Decimal
	Pending   decimal.Decimal
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	GetUser(ctx context.Context, id int) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	CreateArtwork(ctx context.Context, a *models.Artwork) (*models.Artwork, error)
	GetArtwork(ctx context.Context, id int) (*models.Artwork, error)
	// UpdateArtwork sets the owner and listing type of an artwork.
	UpdateArtwork(ctx context.Context, id, ownerID int, listing models.ListingType) error

	CreateAuction(ctx context.Context, a *models.Auction) (*models.Auction, error)
	GetAuction(ctx context.Context, id int) (*models.Auction, error)
	// LockAuction reads the auction and holds it exclusively until the
	// transaction ends.
	LockAuction(ctx context.Context, id int) (*models.Auction, error)
	// FinishAuction moves an open auction to a terminal status. It reports
	// false when the auction was no longer open.
	FinishAuction(ctx context.Context, id int, status models.AuctionStatus, winnerID *int, at time.Time) (bool, error)
	ListAuctions(ctx context.Context, f AuctionFilter) ([]models.Auction, error)
	EndedAuctionIDs(ctx context.Context, now time.Time) ([]int, error)

	InsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error)
	GetBid(ctx context.Context, id int) (*models.Bid, error)
	// DeactivateBid reports false when the bid was already inactive.
	DeactivateBid(ctx context.Context, id int) (bool, error)
	UpdateBidAmount(ctx context.Context, id int, amount decimal.Decimal) error
	// ActiveBids returns the active bids of an auction ordered by amount
	// descending, then created_at and id ascending.
	ActiveBids(ctx context.Context, auctionID int) ([]models.Bid, error)
	// AuctionBids returns every bid of an auction, newest first.
	AuctionBids(ctx context.Context, auctionID int) ([]models.Bid, error)
	BidderBids(ctx context.Context, bidderID int) ([]models.Bid, error)
	// LapsedAuctionIDs lists open auctions holding active bids whose
	// expires_at is at or before now.
	LapsedAuctionIDs(ctx context.Context, now time.Time) ([]int, error)

	GetBalance(ctx context.Context, userID int) (*models.Balance, error)
	// AdjustBalance creates the row if missing and applies d atomically.
	AdjustBalance(ctx context.Context, userID int, d BalanceDelta) (*models.Balance, error)
	InsertTransaction(ctx context.Context, t *models.Transaction) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID, limit, offset int) ([]models.Transaction, int, error)
	// CompletedTotals sums completed transaction amounts per type.
	CompletedTotals(ctx context.Context, userID int) (map[models.TransactionType]decimal.Decimal, error)

	InsertActivity(ctx context.Context, a *models.Activity) (*models.Activity, error)
	ListActivity(ctx context.Context, f ActivityFilter) ([]models.Activity, error)
	InsertNotification(ctx context.Context, n *models.Notification) (*models.Notification, error)
}
