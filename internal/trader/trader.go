// Package trader wires signals, push updates and the reconciliation engine
// into a running trading loop for one account.
package trader

import (
	"context"
	"fmt"
	"log"
	"time"

	"fadebot/internal/engine"
	"fadebot/internal/events"
	"fadebot/internal/signal"
	"fadebot/pkg/exchanges/binance/futures"
	"fadebot/pkg/exchanges/common"
)

// Config tunes the trader.
type Config struct {
	Leverage int

	// PollInterval is the reconciliation cadence while the push stream is
	// down. Zero disables the fallback.
	PollInterval time.Duration

	// ReconcileOnBoot runs one reconciliation pass per manager before any
	// trading starts, recovering state left by a crash.
	ReconcileOnBoot bool

	// DryRun logs what each signal would do instead of placing orders.
	DryRun bool
}

// Trader owns the per-symbol managers and routes signals and health
// transitions to them.
type Trader struct {
	cfg      Config
	exchange *futures.Client
	sched    engine.Scheduler
	bus      *events.Bus
	managers map[string]*engine.Manager
}

// New creates a trader over the given managers, keyed by symbol.
func New(cfg Config, exchange *futures.Client, scheduler engine.Scheduler, bus *events.Bus, managers map[string]*engine.Manager) *Trader {
	return &Trader{
		cfg:      cfg,
		exchange: exchange,
		sched:    scheduler,
		bus:      bus,
		managers: managers,
	}
}

// Bootstrap verifies the account is usable and applies leverage and margin
// settings. Any failure here is fatal: trading with a half-configured account
// risks positions the exit plan was not sized for.
func (t *Trader) Bootstrap(ctx context.Context) error {
	info, err := t.exchange.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch account info: %w", err)
	}
	if !info.CanTrade {
		return fmt.Errorf("account is not allowed to trade")
	}

	balance, err := t.exchange.AvailableBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	if balance <= 0 {
		return fmt.Errorf("available balance is zero")
	}

	for symbol := range t.managers {
		if err := t.exchange.SetMarginType(ctx, symbol, "ISOLATED"); err != nil {
			return fmt.Errorf("set margin type for %s: %w", symbol, err)
		}
		if err := t.exchange.SetLeverage(ctx, symbol, t.cfg.Leverage); err != nil {
			return fmt.Errorf("set leverage for %s: %w", symbol, err)
		}
	}

	if t.cfg.ReconcileOnBoot {
		for symbol, m := range t.managers {
			if err := m.Reconcile(ctx); err != nil {
				return fmt.Errorf("boot reconcile %s: %w", symbol, err)
			}
		}
	}

	log.Printf("trader: bootstrap complete (balance=%.2f, leverage=%dx, %d symbols)", balance, t.cfg.Leverage, len(t.managers))
	return nil
}

// Run consumes imbalance endpoints until ctx is done.
func (t *Trader) Run(ctx context.Context) {
	ch, unsub := t.bus.Subscribe(events.EventImbalanceEndpoint, 16)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			ep, ok := msg.(signal.Endpoint)
			if !ok {
				continue
			}
			t.onEndpoint(ctx, ep)
		}
	}
}

func (t *Trader) onEndpoint(ctx context.Context, ep signal.Endpoint) {
	m, ok := t.managers[ep.Symbol]
	if !ok {
		return
	}
	if t.cfg.DryRun {
		log.Printf("trader %s: dry run, would fade %s imbalance at %.4f", ep.Symbol, ep.Imbalance.Direction, ep.Price)
		return
	}
	if err := m.PlaceOpen(ctx, ep.Imbalance, ep.Price); err != nil {
		log.Printf("trader %s: open failed: %v", ep.Symbol, err)
	}
}

// HandlePushUpdate routes an order-status push to the owning manager.
func (t *Trader) HandlePushUpdate(ctx context.Context, symbol, clientOrderID string, status common.OrderStatus) {
	m, ok := t.managers[symbol]
	if !ok {
		return
	}
	m.HandlePushUpdate(ctx, clientOrderID, status)
}

// PushUp is called when the user-data stream connects: polling stops and one
// catch-up reconciliation covers anything missed while the stream was down.
func (t *Trader) PushUp() {
	t.bus.Publish(events.EventPushHealth, true)
	for symbol, m := range t.managers {
		t.sched.Cancel(pollKey(symbol))
		go t.reconcileOnce(m)
	}
	log.Println("trader: push stream up, polling cancelled")
}

// PushDown is called when the user-data stream drops: schedule the polling
// fallback so fills are still observed.
func (t *Trader) PushDown() {
	t.bus.Publish(events.EventPushHealth, false)
	if t.cfg.PollInterval <= 0 {
		return
	}
	for symbol, m := range t.managers {
		m := m
		t.sched.ScheduleRepeating(pollKey(symbol), t.cfg.PollInterval, t.cfg.PollInterval, func() {
			t.reconcileOnce(m)
		})
	}
	log.Printf("trader: push stream down, polling every %v", t.cfg.PollInterval)
}

func (t *Trader) reconcileOnce(m *engine.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Reconcile(ctx); err != nil {
		log.Printf("trader %s: reconcile failed: %v", m.Symbol(), err)
	}
}

// Shutdown stops the polling fallback. Managed positions are deliberately
// left alone: their exit orders keep resting server-side, and the boot
// reconciliation adopts them on the next start.
func (t *Trader) Shutdown() {
	for symbol := range t.managers {
		t.sched.Cancel(pollKey(symbol))
	}
}

func pollKey(symbol string) string {
	return "poll:" + symbol
}
