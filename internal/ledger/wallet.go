// Package ledger holds the bid and wallet ledgers. Both operate on a
// store.Tx supplied by the caller so that fund movements and bid writes
// commit together with the engine operation that caused them.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/store"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Ref links a ledger row to the marketplace objects it concerns
type Ref struct {
	ArtworkID   *int
	AuctionID   *int
	BidID       *int
	Description string
}

// Summary is a balance with its derived lifetime totals
type Summary struct {
	Available   decimal.Decimal `json:"available_balance"`
	Pending     decimal.Decimal `json:"pending_balance"`
	TotalEarned decimal.Decimal `json:"total_earned"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
}

// TransactionPage is one page of a user's transaction history
type TransactionPage struct {
	Transactions []models.Transaction `json:"transactions"`
	Total        int                  `json:"total"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

// Reconciliation compares the cached balance row against the transaction log
// and the user's live bids.
type Reconciliation struct {
	UserID          int             `json:"user_id"`
	Available       decimal.Decimal `json:"available_balance"`
	Pending         decimal.Decimal `json:"pending_balance"`
	LedgerAvailable decimal.Decimal `json:"ledger_available"`
	LedgerPending   decimal.Decimal `json:"ledger_pending"`
	ActiveBidTotal  decimal.Decimal `json:"active_bid_total"`
	Consistent      bool            `json:"consistent"`
}

// Wallet moves funds between the available and pending counters of a
// balance and writes a transaction row for every movement.
type Wallet struct {
	logger *zap.Logger
}

// NewWallet creates a wallet ledger
func NewWallet(logger *zap.Logger) *Wallet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wallet{logger: logger}
}

// Reserve locks amount from the user's available balance. kind is bid or bid_increase.
func (w *Wallet) Reserve(ctx context.Context, tx store.Tx, userID int, amount decimal.Decimal, kind models.TransactionType, ref Ref) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	_, err := tx.AdjustBalance(ctx, userID, store.BalanceDelta{Available: amount.Neg(), Pending: amount})
	if errors.Is(err, store.ErrNegativeBalance) {
		return nil, fmt.Errorf("reserve %s for user %d: %w", amount, userID, ErrInsufficientFunds)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve funds: %w", err)
	}
	return w.record(ctx, tx, userID, kind, amount, ref)
}

// Release returns amount from pending to available
func (w *Wallet) Release(ctx context.Context, tx store.Tx, userID int, amount decimal.Decimal, ref Ref) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := tx.AdjustBalance(ctx, userID, store.BalanceDelta{Available: amount, Pending: amount.Neg()}); err != nil {
		// pending should always cover a release; log loudly since Reconcile will flag it
		w.logger.Error("release exceeds pending balance",
			zap.Int("user_id", userID), zap.String("amount", amount.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to release funds: %w", err)
	}
	return w.record(ctx, tx, userID, models.TxBidRefund, amount, ref)
}

// Settle converts the winner's reservation into a purchase and credits the
// seller with amount minus fee. No funds re-enter the winner's available balance.
func (w *Wallet) Settle(ctx context.Context, tx store.Tx, winnerID, sellerID int, amount, fee decimal.Decimal, ref Ref) error {
	if !amount.IsPositive() || fee.IsNegative() || fee.GreaterThan(amount) {
		return ErrInvalidAmount
	}
	if _, err := tx.AdjustBalance(ctx, winnerID, store.BalanceDelta{Pending: amount.Neg()}); err != nil {
		return fmt.Errorf("failed to debit winner: %w", err)
	}
	if _, err := w.record(ctx, tx, winnerID, models.TxPurchase, amount, ref); err != nil {
		return err
	}

	proceeds := amount.Sub(fee)
	if !proceeds.IsPositive() {
		return nil
	}
	if _, err := tx.AdjustBalance(ctx, sellerID, store.BalanceDelta{Available: proceeds}); err != nil {
		return fmt.Errorf("failed to credit seller: %w", err)
	}
	_, err := w.record(ctx, tx, sellerID, models.TxSale, proceeds, ref)
	return err
}

// Deposit credits the user's available balance
func (w *Wallet) Deposit(ctx context.Context, tx store.Tx, userID int, amount decimal.Decimal) (*models.Balance, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	bal, err := tx.AdjustBalance(ctx, userID, store.BalanceDelta{Available: amount})
	if err != nil {
		return nil, fmt.Errorf("failed to deposit: %w", err)
	}
	if _, err := w.record(ctx, tx, userID, models.TxDeposit, amount, Ref{Description: "Deposit"}); err != nil {
		return nil, err
	}
	return bal, nil
}

// Withdraw debits the user's available balance
func (w *Wallet) Withdraw(ctx context.Context, tx store.Tx, userID int, amount decimal.Decimal) (*models.Balance, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	bal, err := tx.AdjustBalance(ctx, userID, store.BalanceDelta{Available: amount.Neg()})
	if errors.Is(err, store.ErrNegativeBalance) {
		return nil, fmt.Errorf("withdraw %s for user %d: %w", amount, userID, ErrInsufficientFunds)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to withdraw: %w", err)
	}
	if _, err := w.record(ctx, tx, userID, models.TxWithdrawal, amount, Ref{Description: "Withdrawal"}); err != nil {
		return nil, err
	}
	return bal, nil
}

// Summary returns the balance counters and totals computed from the log
func (w *Wallet) Summary(ctx context.Context, tx store.Tx, userID int) (*Summary, error) {
	bal, err := tx.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	totals, err := tx.CompletedTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get totals: %w", err)
	}
	return &Summary{
		Available:   bal.Available,
		Pending:     bal.Pending,
		TotalEarned: totals[models.TxSale],
		TotalSpent:  totals[models.TxPurchase],
	}, nil
}

// ClampLimit bounds a page size to 1..MaxPageSize, using DefaultPageSize for zero
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultPageSize
	case limit < 1:
		return 1
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

// Transactions returns a page of the user's history, newest first
func (w *Wallet) Transactions(ctx context.Context, tx store.Tx, userID, limit, offset int) (*TransactionPage, error) {
	limit = ClampLimit(limit)
	offset = max(offset, 0)
	txs, total, err := tx.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return &TransactionPage{Transactions: txs, Total: total, Limit: limit, Offset: offset}, nil
}

// LedgerBalance rebuilds available and pending from completed transaction totals
func LedgerBalance(totals map[models.TransactionType]decimal.Decimal) (available, pending decimal.Decimal) {
	reserved := totals[models.TxBid].Add(totals[models.TxBidIncrease])
	refunded := totals[models.TxBidRefund]

	available = totals[models.TxDeposit].
		Sub(totals[models.TxWithdrawal]).
		Sub(reserved).
		Add(refunded).
		Add(totals[models.TxSale])
	pending = reserved.Sub(refunded).Sub(totals[models.TxPurchase])
	return available, pending
}

// Reconcile checks the balance row against the transaction log and the
// user's active bids. The log is authoritative on any mismatch.
func (w *Wallet) Reconcile(ctx context.Context, tx store.Tx, userID int) (*Reconciliation, error) {
	bal, err := tx.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	totals, err := tx.CompletedTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get totals: %w", err)
	}
	bids, err := tx.BidderBids(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}

	r := &Reconciliation{UserID: userID, Available: bal.Available, Pending: bal.Pending}
	r.LedgerAvailable, r.LedgerPending = LedgerBalance(totals)
	for _, b := range bids {
		if b.IsActive {
			r.ActiveBidTotal = r.ActiveBidTotal.Add(b.Amount)
		}
	}
	r.Consistent = r.Available.Equal(r.LedgerAvailable) &&
		r.Pending.Equal(r.LedgerPending) &&
		r.Pending.Equal(r.ActiveBidTotal)

	if !r.Consistent {
		w.logger.Warn("balance drift detected",
			zap.Int("user_id", userID),
			zap.String("available", r.Available.String()),
			zap.String("ledger_available", r.LedgerAvailable.String()),
			zap.String("pending", r.Pending.String()),
			zap.String("ledger_pending", r.LedgerPending.String()),
			zap.String("active_bids", r.ActiveBidTotal.String()))
	}
	return r, nil
}

func (w *Wallet) record(ctx context.Context, tx store.Tx, userID int, kind models.TransactionType, amount decimal.Decimal, ref Ref) (*models.Transaction, error) {
	t, err := tx.InsertTransaction(ctx, &models.Transaction{
		UserID:      userID,
		Type:        kind,
		Amount:      amount,
		Status:      models.TxCompleted,
		Description: ref.Description,
		ArtworkID:   ref.ArtworkID,
		AuctionID:   ref.AuctionID,
		BidID:       ref.BidID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record %s transaction: %w", kind, err)
	}
	return t, nil
}
