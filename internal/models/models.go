package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Role is a capability a user holds; a user may hold both.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// User represents a registered user
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasRole reports whether the user holds the given role
func (u *User) HasRole(r Role) bool {
	return slices.Contains(u.Roles, string(r))
}

type ListingType string

const (
	ListingFixed   ListingType = "fixed"
	ListingAuction ListingType = "auction"
	ListingDisplay ListingType = "display"
	ListingNone    ListingType = "none"
)

// Artwork is a listable asset. ArtistID and OwnerID diverge after a sale.
type Artwork struct {
	ID          int                 `json:"id"`
	ArtistID    int                 `json:"artist_id"`
	OwnerID     int                 `json:"owner_id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Category    string              `json:"category"`
	ImageURL    string              `json:"image_url"`
	ListingType ListingType         `json:"listing_type"`
	Price       decimal.NullDecimal `json:"price"`
	CreatedAt   time.Time           `json:"created_at"`
}

type AuctionStatus string

const (
	AuctionOpen      AuctionStatus = "open"
	AuctionClosed    AuctionStatus = "closed"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Auction holds no current bid or leader; both are derived from active bids.
type Auction struct {
	ID           int                 `json:"id"`
	ArtworkID    int                 `json:"artwork_id"`
	SellerID     int                 `json:"seller_id"`
	StartPrice   decimal.Decimal     `json:"start_price"`
	ReservePrice decimal.NullDecimal `json:"reserve_price"`
	EndTime      time.Time           `json:"end_time"`
	Status       AuctionStatus       `json:"status"`
	WinnerID     *int                `json:"winner_id"`
	CreatedAt    time.Time           `json:"created_at"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
}

// Terminal reports whether the auction can no longer change state
func (a *Auction) Terminal() bool {
	return a.Status == AuctionClosed || a.Status == AuctionCancelled
}

// Expired reports whether end_time has been reached at now
func (a *Auction) Expired(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// Bid is immutable apart from IsActive and, while active, Amount.
type Bid struct {
	ID        int             `json:"id"`
	AuctionID int             `json:"auction_id"`
	BidderID  int             `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// Lapsed reports whether the bid carries an expiry that has passed
func (b *Bid) Lapsed(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// Balance is a cache of the transaction log for one user.
type Balance struct {
	UserID    int             `json:"user_id"`
	Available decimal.Decimal `json:"available_balance"`
	Pending   decimal.Decimal `json:"pending_balance"`
}

type TransactionType string

const (
	TxDeposit     TransactionType = "deposit"
	TxWithdrawal  TransactionType = "withdrawal"
	TxPurchase    TransactionType = "purchase"
	TxSale        TransactionType = "sale"
	TxBid         TransactionType = "bid"
	TxBidIncrease TransactionType = "bid_increase"
	TxBidRefund   TransactionType = "bid_refund"
)

type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
	TxPending   TransactionStatus = "pending"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
)

// Transaction is an immutable ledger row
type Transaction struct {
	ID          int               `json:"id"`
	UserID      int               `json:"user_id"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description"`
	ArtworkID   *int              `json:"artwork_id"`
	AuctionID   *int              `json:"auction_id"`
	BidID       *int              `json:"bid_id"`
	CreatedAt   time.Time         `json:"created_at"`
}

type ActivityType string

const (
	ActivityListed           ActivityType = "listed"
	ActivityBid              ActivityType = "bid"
	ActivityBidUpdated       ActivityType = "bid_updated"
	ActivityBidCancelled     ActivityType = "bid_cancelled"
	ActivityBidExpired       ActivityType = "bid_expired"
	ActivityOutbid           ActivityType = "outbid"
	ActivityAuctionWon       ActivityType = "auction_won"
	ActivitySold             ActivityType = "sold"
	ActivityAuctionEnded     ActivityType = "auction_ended"
	ActivityAuctionCancelled ActivityType = "auction_cancelled"
	ActivityPurchased        ActivityType = "purchased"
)

// Activity is an append-only audit event
type Activity struct {
	ID         int                 `json:"id"`
	Type       ActivityType        `json:"activity_type"`
	UserID     int                 `json:"user_id"`
	ArtworkID  *int                `json:"artwork_id"`
	AuctionID  *int                `json:"auction_id"`
	Price      decimal.NullDecimal `json:"price"`
	FromUserID *int                `json:"from_user_id"`
	ToUserID   *int                `json:"to_user_id"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Notification is persisted alongside the operation that caused it
type Notification struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ArtworkID *int      `json:"artwork_id"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// AuctionSummary is the list view of an auction
type AuctionSummary struct {
	ID           int                 `json:"id"`
	ArtworkID    int                 `json:"artwork_id"`
	SellerID     int                 `json:"seller_id"`
	Title        string              `json:"title"`
	Category     string              `json:"category"`
	ImageURL     string              `json:"image_url"`
	StartPrice   decimal.Decimal     `json:"start_price"`
	CurrentBid   decimal.NullDecimal `json:"current_bid"`
	CurrentPrice decimal.Decimal     `json:"current_price"`
	Status       AuctionStatus       `json:"status"`
	EndTime      time.Time           `json:"end_time"`
	WinnerID     *int                `json:"winner_id"`
	CreatedAt    time.Time           `json:"created_at"`
}

// AuctionDetail is the full view of an auction with its bid history
type AuctionDetail struct {
	Auction         Auction             `json:"auction"`
	Artwork         Artwork             `json:"artwork"`
	Seller          PublicUser          `json:"seller"`
	CurrentBid      decimal.NullDecimal `json:"current_bid"`
	CurrentPrice    decimal.Decimal     `json:"current_price"`
	HighestBidderID *int                `json:"highest_bidder_id"`
	Bids            []Bid               `json:"bids"`
}

// PublicUser is the subset of a user exposed to other users
type PublicUser struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// UserBid is a bid joined with the state of its auction
type UserBid struct {
	Bid
	AuctionStatus AuctionStatus `json:"auction_status"`
	WinnerID      *int          `json:"winner_id"`
	ArtworkID     int           `json:"artwork_id"`
	Title         string        `json:"title"`
}
