package stream

import (
	"context"
	"testing"

	"fadebot/pkg/exchanges/common"
)

func TestHandleOrderTradeUpdate(t *testing.T) {
	var got orderUpdate
	s := New(nil, func(ctx context.Context, symbol, clientOrderID string, status common.OrderStatus) {
		got = orderUpdate{Symbol: symbol, ClientOrderID: clientOrderID, Status: status}
	}, false)

	msg := []byte(`{"e":"ORDER_TRADE_UPDATE","E":1693489587200,"o":{"s":"BTCUSDT","c":"take_0_1693489587123","S":"SELL","X":"FILLED","q":"0.25"}}`)
	if expired := s.handle(context.Background(), msg); expired {
		t.Fatal("order update misread as expiry")
	}
	if got.Symbol != "BTCUSDT" || got.ClientOrderID != "take_0_1693489587123" {
		t.Fatalf("unexpected update: %+v", got)
	}
	if got.Status != common.StatusFilled {
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestHandleListenKeyExpired(t *testing.T) {
	s := New(nil, func(context.Context, string, string, common.OrderStatus) {
		t.Fatal("handler should not fire for expiry events")
	}, false)

	if expired := s.handle(context.Background(), []byte(`{"e":"listenKeyExpired"}`)); !expired {
		t.Fatal("expected expiry to be reported")
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	called := false
	s := New(nil, func(context.Context, string, string, common.OrderStatus) { called = true }, false)

	if expired := s.handle(context.Background(), []byte(`{"e":"ACCOUNT_UPDATE","a":{}}`)); expired {
		t.Fatal("unexpected expiry")
	}
	if called {
		t.Fatal("handler fired for unrelated event")
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]common.OrderStatus{
		"NEW":              common.StatusNew,
		"PARTIALLY_FILLED": common.StatusPartial,
		"FILLED":           common.StatusFilled,
		"CANCELED":         common.StatusCanceled,
		"REJECTED":         common.StatusRejected,
		"EXPIRED":          common.StatusExpired,
		"SOMETHING_NEW":    common.StatusUnknown,
	}
	for in, want := range cases {
		if got := mapStatus(in); got != want {
			t.Fatalf("mapStatus(%q) = %s, want %s", in, got, want)
		}
	}
}
