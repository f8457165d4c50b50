// Package market streams futures trade prices onto the event bus.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fadebot/internal/events"
)

// Feed subscribes to the aggregated-trade streams of the configured symbols
// over one combined websocket connection and publishes an EventPriceTick per
// trade. It reconnects with backoff until the context is done.
type Feed struct {
	bus     *events.Bus
	symbols []string
	url     string
	dialer  *websocket.Dialer
}

// NewFeed builds a feed; testnet toggles the host.
func NewFeed(bus *events.Bus, symbols []string, testnet bool) *Feed {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@aggTrade"
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/stream",
		RawQuery: "streams=" + strings.Join(streams, "/"),
	}
	return &Feed{
		bus:     bus,
		symbols: symbols,
		url:     u.String(),
		dialer:  websocket.DefaultDialer,
	}
}

// Run blocks until ctx is done, holding the stream open and republishing
// every trade as a price tick.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := f.stream(ctx); err != nil {
			log.Printf("market feed: %v", err)
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

func (f *Feed) stream(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial market stream: %w", err)
	}
	defer conn.Close()
	log.Printf("market feed: connected (%d symbols)", len(f.symbols))

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read market stream: %w", err)
		}
		tick, err := parseAggTrade(msg)
		if err != nil {
			log.Printf("market feed: parse error: %v", err)
			continue
		}
		f.bus.Publish(events.EventPriceTick, tick)
	}
}

// combined-stream envelope: {"stream":"btcusdt@aggTrade","data":{...}}
type aggTradeEnvelope struct {
	Data aggTradeData `json:"data"`
}

type aggTradeData struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

func parseAggTrade(msg []byte) (events.PriceTick, error) {
	var env aggTradeEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return events.PriceTick{}, err
	}
	price, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		return events.PriceTick{}, fmt.Errorf("parse price %q: %w", env.Data.Price, err)
	}
	return events.PriceTick{
		Symbol: env.Data.Symbol,
		Price:  price,
		Time:   env.Data.TradeTime,
	}, nil
}
