package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/auctionhouse/internal/ledger"
	"github.com/xtrntr/auctionhouse/internal/store"
)

func walletError(err error) error {
	if errors.Is(err, ledger.ErrInvalidAmount) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

// Deposit credits the user's available balance
func (e *Engine) Deposit(ctx context.Context, userID int, amount decimal.Decimal) (*ledger.Summary, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	var sum *ledger.Summary
	err := e.run(ctx, "deposit", func(tx store.Tx, _ *outbox) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		if _, err := e.wallet.Deposit(ctx, tx, userID, amount); err != nil {
			return err
		}
		var err error
		sum, err = e.wallet.Summary(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, walletError(err)
	}
	e.logger.Info("deposit", zap.Int("user_id", userID), zap.String("amount", amount.String()))
	return sum, nil
}

// Withdraw debits the user's available balance; reserved funds cannot be withdrawn
func (e *Engine) Withdraw(ctx context.Context, userID int, amount decimal.Decimal) (*ledger.Summary, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	var sum *ledger.Summary
	err := e.run(ctx, "withdraw", func(tx store.Tx, _ *outbox) error {
		if _, err := e.wallet.Withdraw(ctx, tx, userID, amount); err != nil {
			return err
		}
		var err error
		sum, err = e.wallet.Summary(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, walletError(err)
	}
	e.logger.Info("withdrawal", zap.Int("user_id", userID), zap.String("amount", amount.String()))
	return sum, nil
}

// Balance returns the user's counters and lifetime totals
func (e *Engine) Balance(ctx context.Context, userID int) (*ledger.Summary, error) {
	var sum *ledger.Summary
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		sum, err = e.wallet.Summary(ctx, tx, userID)
		return err
	})
	return sum, err
}

func (e *Engine) Transactions(ctx context.Context, userID, limit, offset int) (*ledger.TransactionPage, error) {
	var page *ledger.TransactionPage
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		page, err = e.wallet.Transactions(ctx, tx, userID, limit, offset)
		return err
	})
	return page, err
}

// Reconcile rebuilds the user's balance from the transaction log and
// reports whether the cached counters agree with it.
func (e *Engine) Reconcile(ctx context.Context, userID int) (*ledger.Reconciliation, error) {
	var r *ledger.Reconciliation
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		r, err = e.wallet.Reconcile(ctx, tx, userID)
		return err
	})
	return r, err
}
