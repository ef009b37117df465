package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/store"
)

// pgTx implements store.Tx on top of a pgx transaction
type pgTx struct {
	tx pgx.Tx
}

const userColumns = "id, username, password_hash, display_name, roles, created_at"

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Roles, &u.CreatedAt)
	return u, err
}

// CreateUser inserts a new user together with an empty balance row
func (t *pgTx) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	user, err := scanUser(t.tx.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, display_name, roles) VALUES ($1, $2, $3, $4) RETURNING "+userColumns,
		u.Username, u.PasswordHash, u.DisplayName, u.Roles))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", mapError(err))
	}
	if _, err := t.tx.Exec(ctx, "INSERT INTO balances (user_id) VALUES ($1)", user.ID); err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", mapError(err))
	}
	return user, nil
}

// GetUser retrieves a user by id
func (t *pgTx) GetUser(ctx context.Context, id int) (*models.User, error) {
	user, err := scanUser(t.tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, mapError(err))
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (t *pgTx) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(t.tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", mapError(err))
	}
	return user, nil
}

const artworkColumns = "id, artist_id, owner_id, title, description, category, image_url, listing_type, price, created_at"

func scanArtwork(row pgx.Row) (*models.Artwork, error) {
	a := &models.Artwork{}
	err := row.Scan(&a.ID, &a.ArtistID, &a.OwnerID, &a.Title, &a.Description, &a.Category,
		&a.ImageURL, &a.ListingType, &a.Price, &a.CreatedAt)
	return a, err
}

// CreateArtwork inserts a new artwork
func (t *pgTx) CreateArtwork(ctx context.Context, a *models.Artwork) (*models.Artwork, error) {
	art, err := scanArtwork(t.tx.QueryRow(ctx,
		`INSERT INTO artworks (artist_id, owner_id, title, description, category, image_url, listing_type, price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+artworkColumns,
		a.ArtistID, a.OwnerID, a.Title, a.Description, a.Category, a.ImageURL, a.ListingType, a.Price))
	if err != nil {
		return nil, fmt.Errorf("failed to create artwork: %w", mapError(err))
	}
	return art, nil
}

// GetArtwork retrieves an artwork by id
func (t *pgTx) GetArtwork(ctx context.Context, id int) (*models.Artwork, error) {
	art, err := scanArtwork(t.tx.QueryRow(ctx, "SELECT "+artworkColumns+" FROM artworks WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get artwork %d: %w", id, mapError(err))
	}
	return art, nil
}

// UpdateArtwork sets owner and listing type
func (t *pgTx) UpdateArtwork(ctx context.Context, id, ownerID int, listing models.ListingType) error {
	tag, err := t.tx.Exec(ctx, "UPDATE artworks SET owner_id = $1, listing_type = $2 WHERE id = $3", ownerID, listing, id)
	if err != nil {
		return fmt.Errorf("failed to update artwork %d: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("artwork %d: %w", id, store.ErrNotFound)
	}
	return nil
}

const auctionColumns = "id, artwork_id, seller_id, start_price, reserve_price, end_time, status, winner_id, created_at, closed_at"

func scanAuction(row pgx.Row) (*models.Auction, error) {
	a := &models.Auction{}
	err := row.Scan(&a.ID, &a.ArtworkID, &a.SellerID, &a.StartPrice, &a.ReservePrice,
		&a.EndTime, &a.Status, &a.WinnerID, &a.CreatedAt, &a.ClosedAt)
	return a, err
}

// CreateAuction inserts a new open auction
func (t *pgTx) CreateAuction(ctx context.Context, a *models.Auction) (*models.Auction, error) {
	auction, err := scanAuction(t.tx.QueryRow(ctx,
		`INSERT INTO auctions (artwork_id, seller_id, start_price, reserve_price, end_time)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+auctionColumns,
		a.ArtworkID, a.SellerID, a.StartPrice, a.ReservePrice, a.EndTime))
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", mapError(err))
	}
	return auction, nil
}

// GetAuction retrieves an auction without locking it
func (t *pgTx) GetAuction(ctx context.Context, id int) (*models.Auction, error) {
	auction, err := scanAuction(t.tx.QueryRow(ctx, "SELECT "+auctionColumns+" FROM auctions WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get auction %d: %w", id, mapError(err))
	}
	return auction, nil
}

// LockAuction locks the auction row for update to serialize writers on it
func (t *pgTx) LockAuction(ctx context.Context, id int) (*models.Auction, error) {
	auction, err := scanAuction(t.tx.QueryRow(ctx, "SELECT "+auctionColumns+" FROM auctions WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock auction %d: %w", id, mapError(err))
	}
	return auction, nil
}

// FinishAuction moves an open auction to a terminal state
func (t *pgTx) FinishAuction(ctx context.Context, id int, status models.AuctionStatus, winnerID *int, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		"UPDATE auctions SET status = $1, winner_id = $2, closed_at = $3 WHERE id = $4 AND status = 'open'",
		status, winnerID, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to finish auction %d: %w", id, mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// ListAuctions retrieves auctions matching the filter
func (t *pgTx) ListAuctions(ctx context.Context, f store.AuctionFilter) ([]models.Auction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("au.status = $%d", f.Status)
	}
	if f.SellerID != 0 {
		add("au.seller_id = $%d", f.SellerID)
	}
	if f.Category != "" {
		add("LOWER(ar.category) = LOWER($%d)", f.Category)
	}
	if f.Keyword != "" {
		args = append(args, "%"+f.Keyword+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(ar.title ILIKE $%d OR ar.description ILIKE $%d)", n, n))
	}

	query := "SELECT au.id, au.artwork_id, au.seller_id, au.start_price, au.reserve_price, au.end_time, " +
		"au.status, au.winner_id, au.created_at, au.closed_at " +
		"FROM auctions au JOIN artworks ar ON ar.id = au.artwork_id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Newest {
		query += " ORDER BY au.created_at DESC, au.id DESC"
	} else {
		query += " ORDER BY au.end_time ASC, au.id ASC"
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

// EndedAuctionIDs lists open auctions whose end_time has passed
func (t *pgTx) EndedAuctionIDs(ctx context.Context, now time.Time) ([]int, error) {
	return t.ids(ctx, "SELECT id FROM auctions WHERE status = 'open' AND end_time <= $1 ORDER BY end_time, id", now)
}

func (t *pgTx) ids(ctx context.Context, query string, args ...any) ([]int, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to collect ids: %w", err)
	}
	return ids, nil
}

const bidColumns = "id, auction_id, bidder_id, amount, expires_at, is_active, created_at"

func scanBid(row pgx.Row) (*models.Bid, error) {
	b := &models.Bid{}
	err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.ExpiresAt, &b.IsActive, &b.CreatedAt)
	return b, err
}

func (t *pgTx) bids(ctx context.Context, query string, args ...any) ([]models.Bid, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

// InsertBid records a new active bid
func (t *pgTx) InsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error) {
	bid, err := scanBid(t.tx.QueryRow(ctx,
		"INSERT INTO bids (auction_id, bidder_id, amount, expires_at) VALUES ($1, $2, $3, $4) RETURNING "+bidColumns,
		b.AuctionID, b.BidderID, b.Amount, b.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create bid: %w", mapError(err))
	}
	return bid, nil
}

// GetBid retrieves a bid by id
func (t *pgTx) GetBid(ctx context.Context, id int) (*models.Bid, error) {
	bid, err := scanBid(t.tx.QueryRow(ctx, "SELECT "+bidColumns+" FROM bids WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get bid %d: %w", id, mapError(err))
	}
	return bid, nil
}

// DeactivateBid flips is_active off; bids are never deleted or revived
func (t *pgTx) DeactivateBid(ctx context.Context, id int) (bool, error) {
	tag, err := t.tx.Exec(ctx, "UPDATE bids SET is_active = FALSE WHERE id = $1 AND is_active", id)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate bid %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateBidAmount changes the amount of an active bid
func (t *pgTx) UpdateBidAmount(ctx context.Context, id int, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, "UPDATE bids SET amount = $1 WHERE id = $2 AND is_active", amount, id)
	if err != nil {
		return fmt.Errorf("failed to update bid %d: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("active bid %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// ActiveBids retrieves the live bids of an auction in leaderboard order
func (t *pgTx) ActiveBids(ctx context.Context, auctionID int) ([]models.Bid, error) {
	return t.bids(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE auction_id = $1 AND is_active ORDER BY amount DESC, created_at ASC, id ASC",
		auctionID)
}

// AuctionBids retrieves the full bid history of an auction
func (t *pgTx) AuctionBids(ctx context.Context, auctionID int) ([]models.Bid, error) {
	return t.bids(ctx, "SELECT "+bidColumns+" FROM bids WHERE auction_id = $1 ORDER BY id DESC", auctionID)
}

// BidderBids retrieves every bid placed by a user
func (t *pgTx) BidderBids(ctx context.Context, bidderID int) ([]models.Bid, error) {
	return t.bids(ctx, "SELECT "+bidColumns+" FROM bids WHERE bidder_id = $1 ORDER BY id DESC", bidderID)
}

// LapsedAuctionIDs lists open auctions holding expired active bids
func (t *pgTx) LapsedAuctionIDs(ctx context.Context, now time.Time) ([]int, error) {
	return t.ids(ctx,
		`SELECT DISTINCT b.auction_id FROM bids b JOIN auctions au ON au.id = b.auction_id
		 WHERE b.is_active AND b.expires_at <= $1 AND au.status = 'open' ORDER BY b.auction_id`, now)
}

// GetBalance retrieves a user's balance, zero if no row exists
func (t *pgTx) GetBalance(ctx context.Context, userID int) (*models.Balance, error) {
	b := &models.Balance{UserID: userID}
	err := t.tx.QueryRow(ctx,
		"SELECT available_balance, pending_balance FROM balances WHERE user_id = $1",
		userID).Scan(&b.Available, &b.Pending)
	if err == pgx.ErrNoRows {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// AdjustBalance applies an atomic increment guarded against negative counters
func (t *pgTx) AdjustBalance(ctx context.Context, userID int, d store.BalanceDelta) (*models.Balance, error) {
	if _, err := t.tx.Exec(ctx, "INSERT INTO balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID); err != nil {
		return nil, fmt.Errorf("failed to ensure balance: %w", mapError(err))
	}

	b := &models.Balance{UserID: userID}
	err := t.tx.QueryRow(ctx,
		`UPDATE balances
		 SET available_balance = available_balance + $2, pending_balance = pending_balance + $3
		 WHERE user_id = $1 AND available_balance + $2 >= 0 AND pending_balance + $3 >= 0
		 RETURNING available_balance, pending_balance`,
		userID, d.Available, d.Pending).Scan(&b.Available, &b.Pending)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNegativeBalance)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to adjust balance: %w", mapError(err))
	}
	return b, nil
}

const transactionColumns = "id, user_id, type, amount, status, description, artwork_id, auction_id, bid_id, created_at"

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	tr := &models.Transaction{}
	err := row.Scan(&tr.ID, &tr.UserID, &tr.Type, &tr.Amount, &tr.Status, &tr.Description,
		&tr.ArtworkID, &tr.AuctionID, &tr.BidID, &tr.CreatedAt)
	return tr, err
}

// InsertTransaction appends a ledger row
func (t *pgTx) InsertTransaction(ctx context.Context, tr *models.Transaction) (*models.Transaction, error) {
	created, err := scanTransaction(t.tx.QueryRow(ctx,
		`INSERT INTO transactions (user_id, type, amount, status, description, artwork_id, auction_id, bid_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+transactionColumns,
		tr.UserID, tr.Type, tr.Amount, tr.Status, tr.Description, tr.ArtworkID, tr.AuctionID, tr.BidID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", mapError(err))
	}
	return created, nil
}

// ListTransactions retrieves a page of a user's ledger, newest first, and the total count
func (t *pgTx) ListTransactions(ctx context.Context, userID, limit, offset int) ([]models.Transaction, int, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *tr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := t.tx.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return transactions, total, nil
}

// CompletedTotals sums completed transactions per type
func (t *pgTx) CompletedTotals(ctx context.Context, userID int) (map[models.TransactionType]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT type, SUM(amount) FROM transactions WHERE user_id = $1 AND status = 'completed' GROUP BY type",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum transactions: %w", err)
	}
	defer rows.Close()

	totals := map[models.TransactionType]decimal.Decimal{}
	for rows.Next() {
		var (
			kind models.TransactionType
			sum  decimal.Decimal
		)
		if err := rows.Scan(&kind, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan total: %w", err)
		}
		totals[kind] = sum
	}
	return totals, rows.Err()
}

const activityColumns = "id, activity_type, user_id, artwork_id, auction_id, price, from_user_id, to_user_id, created_at"

func scanActivity(row pgx.Row) (*models.Activity, error) {
	a := &models.Activity{}
	err := row.Scan(&a.ID, &a.Type, &a.UserID, &a.ArtworkID, &a.AuctionID, &a.Price,
		&a.FromUserID, &a.ToUserID, &a.CreatedAt)
	return a, err
}

// InsertActivity appends an audit event
func (t *pgTx) InsertActivity(ctx context.Context, a *models.Activity) (*models.Activity, error) {
	created, err := scanActivity(t.tx.QueryRow(ctx,
		`INSERT INTO activity (activity_type, user_id, artwork_id, auction_id, price, from_user_id, to_user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+activityColumns,
		a.Type, a.UserID, a.ArtworkID, a.AuctionID, a.Price, a.FromUserID, a.ToUserID))
	if err != nil {
		return nil, fmt.Errorf("failed to record activity: %w", mapError(err))
	}
	return created, nil
}

// ListActivity retrieves audit events, newest first
func (t *pgTx) ListActivity(ctx context.Context, f store.ActivityFilter) ([]models.Activity, error) {
	query := "SELECT " + activityColumns + " FROM activity WHERE ($1 = 0 OR user_id = $1) AND ($2 = 0 OR artwork_id = $2) ORDER BY created_at DESC, id DESC"
	args := []any{f.UserID, f.ArtworkID}
	if f.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, f.Limit)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var activities []models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}

// InsertNotification persists a notification for later delivery
func (t *pgTx) InsertNotification(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	created := *n
	err := t.tx.QueryRow(ctx,
		`INSERT INTO notifications (user_id, kind, title, message, artwork_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, is_read, created_at`,
		n.UserID, n.Kind, n.Title, n.Message, n.ArtworkID).Scan(&created.ID, &created.IsRead, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", mapError(err))
	}
	return &created, nil
}
