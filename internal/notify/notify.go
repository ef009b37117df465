// Package notify delivers engine events after their transaction commits.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBidPlaced        EventType = "bid_placed"
	EventBidUpdated       EventType = "bid_updated"
	EventBidCancelled     EventType = "bid_cancelled"
	EventBidExpired       EventType = "bid_expired"
	EventOutbid           EventType = "outbid"
	EventAuctionCreated   EventType = "auction_created"
	EventAuctionClosed    EventType = "auction_closed"
	EventAuctionCancelled EventType = "auction_cancelled"
)

// Event is the wire shape pushed to websocket clients and Redis subscribers
type Event struct {
	Type      EventType        `json:"type"`
	AuctionID int              `json:"auction_id"`
	UserID    int              `json:"user_id,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	WinnerID  *int             `json:"winner_id,omitempty"`
	At        time.Time        `json:"at"`
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
