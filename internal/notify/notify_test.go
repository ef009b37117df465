package notify

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	amount := decimal.NewFromInt(20)
	require.NoError(t, hub.Publish(context.Background(), Event{Type: EventBidPlaced, AuctionID: 7, UserID: 3, Amount: &amount}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, EventBidPlaced, got.Type)
	assert.Equal(t, 7, got.AuctionID)
	require.NotNil(t, got.Amount)
	assert.True(t, got.Amount.Equal(amount))

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRedisPublisher_RoundTrip(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	pub := NewRedisPublisher(client, "auction-events-test")
	got := make(chan Event, 1)
	go pub.Subscribe(ctx, func(e Event) { got <- e })

	// wait for the subscription before publishing
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "auction-events-test").Result()
		return err == nil && n["auction-events-test"] > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, pub.Publish(ctx, Event{Type: EventAuctionClosed, AuctionID: 9}))

	select {
	case e := <-got:
		assert.Equal(t, EventAuctionClosed, e.Type)
		assert.Equal(t, 9, e.AuctionID)
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}
