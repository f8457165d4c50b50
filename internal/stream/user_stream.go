// Package stream maintains the exchange user-data stream: the push channel
// for order-status updates.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"fadebot/pkg/exchanges/common"
)

// ListenKeyClient is the slice of the exchange client the stream needs.
type ListenKeyClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, key string) error
}

// UpdateHandler receives every order-status push.
type UpdateHandler func(ctx context.Context, symbol, clientOrderID string, status common.OrderStatus)

// UserStream holds the user-data websocket open, renewing the listen key and
// reconnecting on failure. While the stream is down the trading layer falls
// back to polling, driven by the health callbacks.
type UserStream struct {
	client  ListenKeyClient
	url     string
	dialer  *websocket.Dialer
	handler UpdateHandler

	// OnUp and OnDown fire on connectivity transitions. Optional.
	OnUp   func()
	OnDown func()

	keepAliveEvery time.Duration
}

// New builds a user stream; testnet toggles the host.
func New(client ListenKeyClient, handler UpdateHandler, testnet bool) *UserStream {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &UserStream{
		client:  client,
		url:     "wss://" + host + "/ws/",
		dialer:  websocket.DefaultDialer,
		handler: handler,
		// Listen keys expire after 60 minutes without a keepalive.
		keepAliveEvery: 25 * time.Minute,
	}
}

// Run blocks until ctx is done, keeping the stream connected with backoff.
func (s *UserStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("user stream: %v", err)
		}
		if s.OnDown != nil {
			s.OnDown()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// connect runs one stream session: fresh listen key, dial, read until error
// or expiry.
func (s *UserStream) connect(ctx context.Context) error {
	key, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url+key, nil)
	if err != nil {
		return fmt.Errorf("dial user stream: %w", err)
	}
	defer conn.Close()

	log.Println("user stream: connected")
	if s.OnUp != nil {
		s.OnUp()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.keepAlive(sessionCtx, key, conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read user stream: %w", err)
		}
		if expired := s.handle(ctx, msg); expired {
			return fmt.Errorf("listen key expired")
		}
	}
}

// keepAlive renews the listen key until the session ends. A failed renewal
// closes the connection so the outer loop starts a clean session.
func (s *UserStream) keepAlive(ctx context.Context, key string, conn *websocket.Conn) {
	t := time.NewTicker(s.keepAliveEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.client.KeepAliveListenKey(ctx, key); err != nil {
				log.Printf("user stream: keepalive failed: %v", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// handle dispatches one raw message. Returns true when the exchange declared
// the listen key expired.
func (s *UserStream) handle(ctx context.Context, msg []byte) bool {
	var head struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		log.Printf("user stream: parse error: %v", err)
		return false
	}

	switch head.Event {
	case "listenKeyExpired":
		return true
	case "ORDER_TRADE_UPDATE":
		update, err := parseOrderUpdate(msg)
		if err != nil {
			log.Printf("user stream: parse order update: %v", err)
			return false
		}
		s.handler(ctx, update.Symbol, update.ClientOrderID, update.Status)
	}
	return false
}

type orderUpdate struct {
	Symbol        string
	ClientOrderID string
	Status        common.OrderStatus
}

func parseOrderUpdate(msg []byte) (orderUpdate, error) {
	var wire struct {
		Order struct {
			Symbol        string `json:"s"`
			ClientOrderID string `json:"c"`
			Status        string `json:"X"`
		} `json:"o"`
	}
	if err := json.Unmarshal(msg, &wire); err != nil {
		return orderUpdate{}, err
	}
	return orderUpdate{
		Symbol:        wire.Order.Symbol,
		ClientOrderID: wire.Order.ClientOrderID,
		Status:        mapStatus(wire.Order.Status),
	}, nil
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}
