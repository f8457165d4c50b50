package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"fadebot/internal/events"
	"fadebot/pkg/exchanges/common"
)

// Config wires a Manager to one account/symbol.
type Config struct {
	Symbol           string
	Leverage         int
	PositionLiveTime time.Duration
	Params           Params
}

// Manager owns the order lifecycle for one account: the declared state, the
// role registry and the current imbalance reference. Every mutation — push
// callback, poll reconciliation, auto-close timer, external reset — goes
// through one lock, so transitions observe a consistent (state, registry)
// pair and apply their corrective actions without interleaving.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	exchange ExchangeClient
	sched    Scheduler
	factory  *Factory
	bus      *events.Bus
	store    AuditStore

	state     State
	registry  *Registry
	imbalance *Imbalance

	handlers map[State]func(ctx context.Context, pos *common.Position, open []common.Order)
}

// New creates a Manager in state EMPTY. bus and store may be nil.
func New(cfg Config, exchange ExchangeClient, scheduler Scheduler, bus *events.Bus, store AuditStore) *Manager {
	if cfg.PositionLiveTime == 0 {
		cfg.PositionLiveTime = 15 * time.Minute
	}
	m := &Manager{
		cfg:      cfg,
		exchange: exchange,
		sched:    scheduler,
		factory:  NewFactory(cfg.Symbol, cfg.Params),
		bus:      bus,
		store:    store,
		state:    StateEmpty,
		registry: NewRegistry(),
	}
	m.handlers = map[State]func(ctx context.Context, pos *common.Position, open []common.Order){
		StateEmpty:           m.handleEmpty,
		StateOpenPlaced:      m.handleOpenPlaced,
		StateOpenFilled:      m.handleOpenFilled,
		StateStopsPlaced:     m.handleStopsPlaced,
		StateFirstTakeFilled: m.handleFirstTakeFilled,
		StateBreakEvenPlaced: m.handleBreakEvenPlaced,
	}
	return m
}

// Symbol returns the traded symbol.
func (m *Manager) Symbol() string { return m.cfg.Symbol }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RegistrySnapshot returns a copy of the current role→order mapping.
func (m *Manager) RegistrySnapshot() map[Role]common.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Snapshot()
}

func (m *Manager) autoCloseKey() string {
	return "autoclose:" + m.cfg.Symbol
}

// PlaceOpen opens a position against the imbalance at the given reference
// price. Outside state EMPTY it is an idempotent no-op. Sizing failures are
// rejected locally; no order is sent.
func (m *Manager) PlaceOpen(ctx context.Context, imb Imbalance, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateEmpty {
		log.Printf("engine %s: open requested in state %s, ignoring", m.cfg.Symbol, m.state)
		return nil
	}
	if price <= 0 {
		return fmt.Errorf("%w: price %.8f", ErrInvalidSizing, price)
	}

	balance, err := m.exchange.AvailableBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	qty := balance * float64(m.cfg.Leverage) / price
	if qty <= 0 {
		return fmt.Errorf("%w: balance %.8f, leverage %d, price %.8f", ErrInvalidSizing, balance, m.cfg.Leverage, price)
	}

	req := m.factory.Open(imb, qty)
	order, err := m.exchange.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("place open order: %w", err)
	}

	cp := imb
	m.imbalance = &cp
	m.registry.Register(RoleOpen, order)
	m.setState(StateOpenPlaced)
	m.audit(ctx, RoleOpen, order)
	log.Printf("engine %s: open %s qty=%.6f id=%s", m.cfg.Symbol, order.Side, order.Qty, order.ClientOrderID)
	return nil
}

// HandlePushUpdate is the websocket fast path for order-status events. A fill
// of a role the registry knows drives its transition directly; an unknown ID
// or a terminal non-fill of a known one falls through to a full
// reconciliation pass, since either means reality diverged from the registry.
func (m *Manager) HandlePushUpdate(ctx context.Context, clientOrderID string, status common.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	role, ok := m.registry.RoleOf(clientOrderID)
	if !ok {
		log.Printf("engine %s: push update for unknown order %s (%s), reconciling", m.cfg.Symbol, clientOrderID, status)
		if err := m.reconcile(ctx); err != nil {
			log.Printf("engine %s: reconcile after unknown push failed: %v", m.cfg.Symbol, err)
		}
		return
	}

	if status != common.StatusFilled {
		if o, ok := m.registry.Get(role); ok {
			o.Status = status
			m.registry.Register(role, o)
		}
		// A terminal non-fill of a tracked order means part of the exit plan
		// was cancelled or killed out of band. While push is healthy polling
		// is off, so reconcile now instead of leaving the divergence resting.
		switch status {
		case common.StatusCanceled, common.StatusRejected, common.StatusExpired:
			log.Printf("engine %s: %s (%s) reported %s, reconciling", m.cfg.Symbol, role, clientOrderID, status)
			if err := m.reconcile(ctx); err != nil {
				log.Printf("engine %s: reconcile after %s %s failed: %v", m.cfg.Symbol, role, status, err)
			}
		}
		return
	}

	log.Printf("engine %s: %s filled (%s)", m.cfg.Symbol, role, clientOrderID)
	switch {
	case role == RoleOpen:
		m.transitionOpenFilled(ctx)
	case role == RoleTake0:
		m.transitionFirstTakeFilled(ctx)
	case role.Closing():
		m.reset(ctx)
	}
}

// Reconcile is the polling fallback and crash-recovery path: it fetches the
// exchange's position and open-order snapshot and dispatches to the handler
// for the current state.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconcile(ctx)
}

// Reset forces the lifecycle back to EMPTY, cancelling the auto-close timer
// and any residual open orders. Used on account shutdown and as the terminal
// step of every repair.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset(ctx)
}

// reconcile requires m.mu.
func (m *Manager) reconcile(ctx context.Context) error {
	pos, err := m.exchange.OpenPosition(ctx, m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch position: %w", err)
	}
	open, err := m.exchange.OpenOrders(ctx, m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	m.dispatch(ctx, pos, open)
	return nil
}

// dispatch routes to the handler for the current state. Every declared state
// has a handler; a missing one is a programming error, logged and skipped.
func (m *Manager) dispatch(ctx context.Context, pos *common.Position, open []common.Order) {
	h, ok := m.handlers[m.state]
	if !ok {
		log.Printf("engine %s: no handler for state %s", m.cfg.Symbol, m.state)
		return
	}
	h(ctx, pos, open)
}

// transitionOpenFilled runs the OPEN_FILLED transition: fetch the live
// position and place the closing set. Requires m.mu.
func (m *Manager) transitionOpenFilled(ctx context.Context) {
	m.setState(StateOpenFilled)
	m.registry.Deregister(RoleOpen)

	pos, err := m.exchange.OpenPosition(ctx, m.cfg.Symbol)
	if err != nil {
		// Stay in OPEN_FILLED; the next reconcile pass retries the transition.
		log.Printf("engine %s: fetch position after open fill failed: %v", m.cfg.Symbol, err)
		return
	}
	if pos == nil {
		m.repair(ctx, "position missing after open fill")
		return
	}
	m.placeClosingSet(ctx, *pos)
}

// transitionFirstTakeFilled runs the TAKE_0-filled transition. Requires m.mu.
func (m *Manager) transitionFirstTakeFilled(ctx context.Context) {
	m.setState(StateFirstTakeFilled)

	pos, err := m.exchange.OpenPosition(ctx, m.cfg.Symbol)
	if err != nil {
		log.Printf("engine %s: fetch position after first take fill failed: %v", m.cfg.Symbol, err)
		return
	}
	if pos == nil {
		m.repair(ctx, "position missing after first take fill")
		return
	}
	m.promoteToBreakEven(ctx, *pos)
}

// placeClosingSet sends STOP, TAKE_0 and TAKE_1 concurrently, joins, and
// branches on the collected failures. Requires m.mu; the three requests
// themselves run on their own goroutines to minimize the exposure window.
func (m *Manager) placeClosingSet(ctx context.Context, pos common.Position) {
	if m.imbalance == nil {
		m.repair(ctx, "closing set requested without imbalance reference")
		return
	}
	imb := *m.imbalance

	type placement struct {
		role Role
		req  common.OrderRequest
		ord  common.Order
		err  error
	}
	placements := []*placement{
		{role: RoleStop, req: m.factory.Stop(imb, pos)},
		{role: RoleTake0, req: m.factory.Take(pos, imb.Size(), 0)},
		{role: RoleTake1, req: m.factory.Take(pos, imb.Size(), 1)},
	}

	var wg sync.WaitGroup
	for _, p := range placements {
		wg.Add(1)
		go func(p *placement) {
			defer wg.Done()
			p.ord, p.err = m.exchange.PlaceOrder(ctx, p.req)
		}(p)
	}
	wg.Wait()

	flat := false
	fatal := ""
	for _, p := range placements {
		if p.err == nil {
			continue
		}
		switch common.ReasonOf(p.err) {
		case common.ReasonReduceOnlyRejected:
			// Position already flat; nothing left to protect.
			flat = true
		case common.ReasonDuplicateClientOrderID:
			// Already applied server-side; adopt the request as placed.
			p.ord = requestAsOrder(p.req)
			p.err = nil
		default:
			fatal = fmt.Sprintf("%s placement failed: %v", p.role, p.err)
		}
	}

	if flat {
		log.Printf("engine %s: closing set rejected reduce-only, position already flat", m.cfg.Symbol)
		m.reset(ctx)
		return
	}
	if fatal != "" {
		m.repair(ctx, fatal)
		return
	}

	for _, p := range placements {
		m.registry.Register(p.role, p.ord)
		m.audit(ctx, p.role, p.ord)
	}
	m.setState(StateStopsPlaced)
	m.sched.ScheduleOnce(m.autoCloseKey(), m.cfg.PositionLiveTime, m.autoClose)
	log.Printf("engine %s: closing set placed (stop=%.4f take0=%.4f take1=%.4f), auto-close in %v",
		m.cfg.Symbol, placements[0].req.StopPrice, placements[1].req.Price, placements[2].req.Price, m.cfg.PositionLiveTime)
}

// promoteToBreakEven replaces the protective stop with one at the break-even
// price after the first take-profit fills. Requires m.mu.
func (m *Manager) promoteToBreakEven(ctx context.Context, pos common.Position) {
	if stop, ok := m.registry.Get(RoleStop); ok {
		if err := m.exchange.CancelOrder(ctx, m.cfg.Symbol, stop.ClientOrderID); err != nil {
			// Best effort: the break-even stop supersedes it either way.
			log.Printf("engine %s: cancel stop %s failed: %v", m.cfg.Symbol, stop.ClientOrderID, err)
		}
	}

	req := m.factory.BreakEven(pos)
	order, err := m.exchange.PlaceOrder(ctx, req)
	if err != nil {
		if common.ReasonOf(err) == common.ReasonWouldTriggerImmediately {
			log.Printf("engine %s: break-even stop would trigger immediately, closing", m.cfg.Symbol)
		}
		m.repair(ctx, fmt.Sprintf("break-even placement failed: %v", err))
		return
	}

	m.registry.Deregister(RoleTake0)
	m.registry.Deregister(RoleStop)
	m.registry.Register(RoleBreakEven, order)
	m.setState(StateBreakEvenPlaced)
	m.audit(ctx, RoleBreakEven, order)
	log.Printf("engine %s: break-even stop placed at %.4f", m.cfg.Symbol, order.StopPrice)
}

// defensiveClose is the self-healing step: cancel everything open for the
// symbol (registered or not), re-read the live position and flatten it with a
// reduce-only MARKET order sized against reality. Requires m.mu.
func (m *Manager) defensiveClose(ctx context.Context, role Role) {
	if err := m.exchange.CancelAllOpenOrders(ctx, m.cfg.Symbol); err != nil {
		log.Printf("engine %s: cancel all open orders failed: %v", m.cfg.Symbol, err)
	}
	m.registry.Clear()

	pos, err := m.exchange.OpenPosition(ctx, m.cfg.Symbol)
	if err != nil {
		log.Printf("engine %s: fetch position for defensive close failed: %v", m.cfg.Symbol, err)
		return
	}
	if pos == nil {
		m.reset(ctx)
		return
	}

	req := m.factory.CloseMarket(*pos, role)
	order, err := m.exchange.PlaceOrder(ctx, req)
	if err != nil {
		if common.ReasonOf(err) == common.ReasonReduceOnlyRejected {
			m.reset(ctx)
			return
		}
		log.Printf("engine %s: defensive close order failed: %v", m.cfg.Symbol, err)
		return
	}
	m.registry.Register(role, order)
	m.audit(ctx, role, order)
	log.Printf("engine %s: defensive close sent (%s %s qty=%.6f)", m.cfg.Symbol, role, order.Side, order.Qty)
}

// DefensiveClose flattens the position and cancels all resting orders. The
// engine stays in its current state; the close fill (or the next
// reconciliation finding a flat position) completes the reset.
func (m *Manager) DefensiveClose(ctx context.Context, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defensiveClose(ctx, role)
}

// autoClose fires when the position exceeded its allowed live time.
func (m *Manager) autoClose() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateEmpty {
		return
	}
	log.Printf("engine %s: position live time exceeded, closing", m.cfg.Symbol)
	m.recordDecision(ctx, "timeout", "position live time exceeded")
	m.defensiveClose(ctx, RoleTimeout)
}

// repair is the conservative path for any mismatch not explained by a known
// code: defensive close, then reset. An incorrect close only costs an early
// exit; an incorrect accept risks unmanaged exposure. Requires m.mu.
func (m *Manager) repair(ctx context.Context, reason string) {
	log.Printf("engine %s: repair in state %s: %s", m.cfg.Symbol, m.state, reason)
	m.recordDecision(ctx, "repair", reason)
	if m.bus != nil {
		m.bus.Publish(events.EventEngineRepair, reason)
	}
	m.defensiveClose(ctx, RoleClose)
	m.reset(ctx)
}

// reset returns to EMPTY: cancel the auto-close timer, drop the registry and
// imbalance reference, and clear any residual open orders. Requires m.mu.
func (m *Manager) reset(ctx context.Context) {
	m.sched.Cancel(m.autoCloseKey())
	m.registry.Clear()
	m.imbalance = nil
	if err := m.exchange.CancelAllOpenOrders(ctx, m.cfg.Symbol); err != nil {
		log.Printf("engine %s: cancel residual orders on reset failed: %v", m.cfg.Symbol, err)
	}
	if m.state != StateEmpty {
		m.setState(StateEmpty)
		if m.bus != nil {
			m.bus.Publish(events.EventEngineReset, m.cfg.Symbol)
		}
		log.Printf("engine %s: reset to EMPTY", m.cfg.Symbol)
	}
}

// setState requires m.mu.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.bus != nil {
		m.bus.Publish(events.EventEngineStateChanged, s)
	}
}

func (m *Manager) audit(ctx context.Context, role Role, o common.Order) {
	if m.bus != nil {
		m.bus.Publish(events.EventOrderUpdate, o)
	}
	if m.store == nil {
		return
	}
	if err := m.store.RecordOrder(ctx, string(role), o); err != nil {
		log.Printf("engine %s: audit order %s failed: %v", m.cfg.Symbol, o.ClientOrderID, err)
	}
}

func (m *Manager) recordDecision(ctx context.Context, decision, detail string) {
	if m.store == nil {
		return
	}
	if err := m.store.RecordReconcileEvent(ctx, m.cfg.Symbol, string(m.state), decision, detail); err != nil {
		log.Printf("engine %s: audit reconcile event failed: %v", m.cfg.Symbol, err)
	}
}

// requestAsOrder adopts a request the exchange reports as already applied
// (duplicate client ID) without re-sending it.
func requestAsOrder(req common.OrderRequest) common.Order {
	return common.Order{
		Symbol:        req.Symbol,
		ClientOrderID: req.ClientOrderID,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Qty:           req.Qty,
		ReduceOnly:    req.ReduceOnly,
		ClosePosition: req.ClosePosition,
		TimeInForce:   req.TimeInForce,
		Status:        common.StatusNew,
		CreatedAt:     time.Now(),
	}
}
