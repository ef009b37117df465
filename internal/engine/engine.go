// Package engine implements the auction state machine. Every operation runs
// in one storage transaction that locks the auction row first, so bids and
// closes on one auction are totally ordered. Events are published only after
// the transaction commits.
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
	"github.com/xtrntr/auctionhouse/internal/metrics"
	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/notify"
	"github.com/xtrntr/auctionhouse/internal/store"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientFunds      = ledger.ErrInsufficientFunds
	ErrBidTooLow              = errors.New("bid too low")
	ErrAuctionClosed          = errors.New("auction is not open")
	ErrAuctionExpired         = errors.New("auction has ended")
	ErrSelfBid                = errors.New("sellers cannot bid on their own auction")
	ErrNotBidOwner            = errors.New("not the owner of this bid")
	ErrNotSeller              = errors.New("not the seller of this auction")
	ErrNotArtworkOwner        = errors.New("not the owner of this artwork")
	ErrForbidden              = errors.New("missing required role")
	ErrConcurrentModification = errors.New("concurrent modification, retry")
	ErrAuctionHasBids         = errors.New("auction has active bids")
	ErrArtworkListed          = errors.New("artwork already has an open auction")
	ErrBidInactive            = errors.New("bid is no longer active")
)

// Config holds the policy switches of the engine
type Config struct {
	// PlatformFeeRate is deducted from the seller's proceeds
	PlatformFeeRate decimal.Decimal
	// ReleaseOutbid refunds a leader as soon as they are outbid. When false
	// their bid stays active and funds stay locked until close.
	ReleaseOutbid bool
	// AllowCancelWithBids lets a seller cancel an auction that has active
	// bids; every bid is refunded.
	AllowCancelWithBids bool
}

func DefaultConfig() Config {
	return Config{
		PlatformFeeRate: decimal.RequireFromString("0.025"),
		ReleaseOutbid:   true,
	}
}

type Engine struct {
	store     store.Store
	cfg       Config
	bids      *ledger.Bids
	wallet    *ledger.Wallet
	activity  *activity.Recorder
	publisher notify.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(s store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		cfg:       cfg,
		bids:      ledger.NewBids(),
		activity:  activity.NewRecorder(),
		publisher: notify.Nop{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.wallet = ledger.NewWallet(e.logger)
	return e
}

// outbox collects what an operation will publish once it commits
type outbox struct {
	events []notify.Event
}

func (o *outbox) add(e notify.Event) {
	o.events = append(o.events, e)
}

// run executes fn in a transaction and publishes its events after commit.
// The outbox is reset on every attempt since the store may retry fn.
func (e *Engine) run(ctx context.Context, op string, fn func(tx store.Tx, out *outbox) error) error {
	defer e.metrics.Time(op)()

	var out outbox
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		out = outbox{}
		return fn(tx, &out)
	})
	if err != nil {
		return e.translate(op, err)
	}

	for _, ev := range out.events {
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Warn("failed to publish event",
				zap.String("op", op), zap.String("event", string(ev.Type)), zap.Error(err))
		}
	}
	return nil
}

// view runs a read-only fn in a transaction
func (e *Engine) view(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := e.store.WithTx(ctx, fn); err != nil {
		return e.translate("view", err)
	}
	return nil
}

func (e *Engine) translate(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrSerialization):
		e.metrics.ObserveConflict()
		e.logger.Warn("transaction retries exhausted", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, ErrConcurrentModification)
	case errors.Is(err, store.ErrNotFound) && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// validateAmount requires a positive value with at most two decimal places
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount has more than two decimal places", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) notifyUser(ctx context.Context, tx store.Tx, userID int, kind, title, message string, artworkID *int) error {
	_, err := tx.InsertNotification(ctx, &models.Notification{
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		ArtworkID: artworkID,
	})
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
