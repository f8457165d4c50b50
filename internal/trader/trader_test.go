package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"fadebot/internal/engine"
	"fadebot/internal/events"
	"fadebot/internal/signal"
)

type fakeSched struct {
	mu        sync.Mutex
	scheduled []string
	canceled  []string
}

func (s *fakeSched) ScheduleOnce(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, key)
}

func (s *fakeSched) ScheduleRepeating(key string, initialDelay, period time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, key)
}

func (s *fakeSched) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, key)
}

func (s *fakeSched) has(list *[]string, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range *list {
		if k == key {
			return true
		}
	}
	return false
}

func newDryTrader(sc engine.Scheduler) (*Trader, *engine.Manager) {
	m := engine.New(engine.Config{Symbol: "BTCUSDT", Leverage: 5, PositionLiveTime: time.Minute}, nil, sc, nil, nil)
	tr := New(Config{PollInterval: time.Second, DryRun: true}, nil, sc, events.NewBus(), map[string]*engine.Manager{"BTCUSDT": m})
	return tr, m
}

// A dry run consumes signals but must never touch the exchange; the nil
// client would panic if it did.
func TestDryRunEndpointDoesNotTrade(t *testing.T) {
	tr, m := newDryTrader(&fakeSched{})

	tr.onEndpoint(context.Background(), signal.Endpoint{
		Symbol:    "BTCUSDT",
		Imbalance: engine.Imbalance{Direction: engine.DirectionUp, StartPrice: 90000, EndPrice: 93000},
		Price:     93000,
	})

	if m.State() != engine.StateEmpty {
		t.Fatalf("state = %s, want EMPTY", m.State())
	}
}

func TestEndpointForUnmanagedSymbolIgnored(t *testing.T) {
	tr, m := newDryTrader(&fakeSched{})

	tr.onEndpoint(context.Background(), signal.Endpoint{Symbol: "ETHUSDT", Price: 1600})

	if m.State() != engine.StateEmpty {
		t.Fatalf("state = %s, want EMPTY", m.State())
	}
}

func TestPushDownSchedulesPollingAndShutdownCancels(t *testing.T) {
	sc := &fakeSched{}
	tr, _ := newDryTrader(sc)

	tr.PushDown()
	if !sc.has(&sc.scheduled, "poll:BTCUSDT") {
		t.Fatal("push down did not schedule the polling fallback")
	}

	tr.Shutdown()
	if !sc.has(&sc.canceled, "poll:BTCUSDT") {
		t.Fatal("shutdown did not cancel the polling task")
	}
}
