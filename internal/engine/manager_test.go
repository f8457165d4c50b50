package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"fadebot/pkg/exchanges/common"
)

// fakeExchange is a scriptable ExchangeClient. The closing set is placed from
// three goroutines, so every method locks.
type fakeExchange struct {
	mu sync.Mutex

	balance    float64
	balanceErr error
	position   *common.Position
	open       []common.Order

	placed     []common.OrderRequest
	canceled   []string
	cancelAll  int
	queries    map[string]common.Order
	queryErrs  map[string]error
	placeFails func(common.OrderRequest) error

	positionCalls int
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeFails != nil {
		if err := f.placeFails(req); err != nil {
			return common.Order{}, err
		}
	}
	f.placed = append(f.placed, req)
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
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, clientOrderID)
	return nil
}

func (f *fakeExchange) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll++
	f.open = nil
	return nil
}

func (f *fakeExchange) QueryOrder(ctx context.Context, symbol, clientOrderID string) (common.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.queryErrs[clientOrderID]; ok {
		return common.Order{}, err
	}
	if o, ok := f.queries[clientOrderID]; ok {
		return o, nil
	}
	return common.Order{}, errors.New("order not found")
}

func (f *fakeExchange) OpenPosition(ctx context.Context, symbol string) (*common.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionCalls++
	if f.position == nil {
		return nil, nil
	}
	cp := *f.position
	return &cp, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.Order, len(f.open))
	copy(out, f.open)
	return out, nil
}

func (f *fakeExchange) AvailableBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

// lastByRole returns the most recent placed request whose client ID carries
// the role.
func (f *fakeExchange) lastByRole(role Role) (common.OrderRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.placed) - 1; i >= 0; i-- {
		if r, ok := RoleFromClientID(f.placed[i].ClientOrderID); ok && r == role {
			return f.placed[i], true
		}
	}
	return common.OrderRequest{}, false
}

func (f *fakeExchange) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

// fakeSched records keyed tasks without running them.
type fakeSched struct {
	mu       sync.Mutex
	once     map[string]func()
	canceled []string
}

func newFakeSched() *fakeSched {
	return &fakeSched{once: make(map[string]func())}
}

func (s *fakeSched) ScheduleOnce(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once[key] = fn
}

func (s *fakeSched) ScheduleRepeating(key string, initialDelay, period time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once[key] = fn
}

func (s *fakeSched) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, key)
	delete(s.once, key)
}

func (s *fakeSched) task(key string) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.once[key]
	return fn, ok
}

func newTestManager(t *testing.T) (*Manager, *fakeExchange, *fakeSched) {
	t.Helper()
	ex := &fakeExchange{balance: 10000}
	sc := newFakeSched()
	m := New(Config{
		Symbol:           "BTCUSDT",
		Leverage:         10,
		PositionLiveTime: time.Minute,
	}, ex, sc, nil, nil)
	return m, ex, sc
}

func upImbalance() Imbalance {
	return Imbalance{Direction: DirectionUp, StartPrice: 90000, EndPrice: 93000}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// openShort walks the manager into OPEN_PLACED with a SELL entry and returns
// the entry client order ID.
func openShort(t *testing.T, m *Manager, ex *fakeExchange) string {
	t.Helper()
	if err := m.PlaceOpen(context.Background(), upImbalance(), 93000); err != nil {
		t.Fatalf("place open: %v", err)
	}
	req, ok := ex.lastByRole(RoleOpen)
	if !ok {
		t.Fatal("no entry order placed")
	}
	return req.ClientOrderID
}

func TestPlaceOpenSizesAgainstBalance(t *testing.T) {
	m, ex, _ := newTestManager(t)

	id := openShort(t, m, ex)

	req, _ := ex.lastByRole(RoleOpen)
	if req.Side != common.SideSell {
		t.Fatalf("upward imbalance must be sold into, got %s", req.Side)
	}
	if req.Type != common.OrderTypeMarket {
		t.Fatalf("entry must be MARKET, got %s", req.Type)
	}
	if want := 10000.0 * 10 / 93000; !almostEqual(req.Qty, want) {
		t.Fatalf("qty = %.6f, want %.6f", req.Qty, want)
	}
	if m.State() != StateOpenPlaced {
		t.Fatalf("state = %s, want OPEN_PLACED", m.State())
	}
	if o, ok := m.RegistrySnapshot()[RoleOpen]; !ok || o.ClientOrderID != id {
		t.Fatal("entry order not registered under OPEN")
	}
}

func TestPlaceOpenIgnoredOutsideEmpty(t *testing.T) {
	m, ex, _ := newTestManager(t)

	openShort(t, m, ex)
	before := ex.placedCount()

	if err := m.PlaceOpen(context.Background(), upImbalance(), 93000); err != nil {
		t.Fatalf("second open errored: %v", err)
	}
	if ex.placedCount() != before {
		t.Fatal("second open placed an order")
	}
}

func TestPlaceOpenInvalidSizing(t *testing.T) {
	m, ex, _ := newTestManager(t)

	if err := m.PlaceOpen(context.Background(), upImbalance(), 0); !errors.Is(err, ErrInvalidSizing) {
		t.Fatalf("zero price: got %v, want ErrInvalidSizing", err)
	}

	ex.balance = 0
	if err := m.PlaceOpen(context.Background(), upImbalance(), 93000); !errors.Is(err, ErrInvalidSizing) {
		t.Fatalf("zero balance: got %v, want ErrInvalidSizing", err)
	}
	if ex.placedCount() != 0 {
		t.Fatal("sizing failure still placed an order")
	}
	if m.State() != StateEmpty {
		t.Fatalf("state = %s, want EMPTY", m.State())
	}
}

func TestOpenFillPlacesClosingSet(t *testing.T) {
	m, ex, sc := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty, BreakEvenPrice: 92985}

	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	if m.State() != StateStopsPlaced {
		t.Fatalf("state = %s, want STOPS_PLACED", m.State())
	}

	stop, ok := ex.lastByRole(RoleStop)
	if !ok {
		t.Fatal("no stop placed")
	}
	if !almostEqual(stop.StopPrice, 93060) {
		t.Fatalf("stop price = %.2f, want 93060", stop.StopPrice)
	}
	if stop.Side != common.SideBuy || !stop.ClosePosition {
		t.Fatalf("stop must be a BUY close-position order: %+v", stop)
	}

	take0, _ := ex.lastByRole(RoleTake0)
	take1, _ := ex.lastByRole(RoleTake1)
	if !almostEqual(take0.Price, 91950) {
		t.Fatalf("take0 price = %.2f, want 91950", take0.Price)
	}
	if !almostEqual(take1.Price, 90750) {
		t.Fatalf("take1 price = %.2f, want 90750", take1.Price)
	}
	// Quantity conservation: the two takes together close the full position.
	if !almostEqual(take0.Qty+take1.Qty, qty) {
		t.Fatalf("takes close %.6f, position is %.6f", take0.Qty+take1.Qty, qty)
	}
	if !take0.ReduceOnly || !take1.ReduceOnly {
		t.Fatal("takes must be reduce-only")
	}

	reg := m.RegistrySnapshot()
	for _, role := range []Role{RoleStop, RoleTake0, RoleTake1} {
		if _, ok := reg[role]; !ok {
			t.Fatalf("%s missing from registry", role)
		}
	}
	if _, ok := reg[RoleOpen]; ok {
		t.Fatal("OPEN still registered after fill")
	}
	if _, ok := sc.task("autoclose:BTCUSDT"); !ok {
		t.Fatal("auto-close timer not scheduled")
	}
}

func TestFirstTakeFillPromotesToBreakEven(t *testing.T) {
	m, ex, _ := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty, BreakEvenPrice: 92985}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	stopReq, _ := ex.lastByRole(RoleStop)
	take0Req, _ := ex.lastByRole(RoleTake0)

	ex.position.Amount = -qty / 2
	m.HandlePushUpdate(ctx, take0Req.ClientOrderID, common.StatusFilled)

	if m.State() != StateBreakEvenPlaced {
		t.Fatalf("state = %s, want BREAK_EVEN_PLACED", m.State())
	}

	found := false
	for _, id := range ex.canceled {
		if id == stopReq.ClientOrderID {
			found = true
		}
	}
	if !found {
		t.Fatal("protective stop was not cancelled")
	}

	be, ok := ex.lastByRole(RoleBreakEven)
	if !ok {
		t.Fatal("no break-even stop placed")
	}
	if !almostEqual(be.StopPrice, 92985) || !be.ClosePosition {
		t.Fatalf("break-even stop mismatch: %+v", be)
	}

	reg := m.RegistrySnapshot()
	if len(reg) != 2 {
		t.Fatalf("registry has %d roles, want 2", len(reg))
	}
	for _, role := range []Role{RoleTake1, RoleBreakEven} {
		if _, ok := reg[role]; !ok {
			t.Fatalf("%s missing from registry", role)
		}
	}
}

func TestClosingFillResets(t *testing.T) {
	m, ex, sc := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	stopReq, _ := ex.lastByRole(RoleStop)
	ex.position = nil
	m.HandlePushUpdate(ctx, stopReq.ClientOrderID, common.StatusFilled)

	if m.State() != StateEmpty {
		t.Fatalf("state = %s, want EMPTY", m.State())
	}
	if len(m.RegistrySnapshot()) != 0 {
		t.Fatal("registry not cleared on reset")
	}
	cancelled := false
	for _, key := range sc.canceled {
		if key == "autoclose:BTCUSDT" {
			cancelled = true
		}
	}
	if !cancelled {
		t.Fatal("auto-close timer not cancelled on reset")
	}
}

func TestNonFillPushOnlyUpdatesStatus(t *testing.T) {
	m, ex, _ := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	m.HandlePushUpdate(ctx, openID, common.StatusPartial)

	if m.State() != StateOpenPlaced {
		t.Fatalf("state = %s, want OPEN_PLACED", m.State())
	}
	if o := m.RegistrySnapshot()[RoleOpen]; o.Status != common.StatusPartial {
		t.Fatalf("registered status = %s, want PARTIALLY_FILLED", o.Status)
	}
}

// An out-of-band cancel of a tracked exit order arrives as a terminal push
// while polling is off. The engine must reconcile immediately, not leave the
// position resting without its protection.
func TestCanceledPushOnRegisteredOrderReconciles(t *testing.T) {
	m, ex, _ := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty, BreakEvenPrice: 92985}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	take0Req, _ := ex.lastByRole(RoleTake0)
	ex.position.Amount = -qty / 2
	m.HandlePushUpdate(ctx, take0Req.ClientOrderID, common.StatusFilled)
	if m.State() != StateBreakEvenPlaced {
		t.Fatalf("state = %s, want BREAK_EVEN_PLACED", m.State())
	}

	beReq, _ := ex.lastByRole(RoleBreakEven)
	take1Req, _ := ex.lastByRole(RoleTake1)

	// The break-even stop vanishes: only TAKE_1 still rests, and a query
	// confirms the cancel.
	ex.open = []common.Order{{Symbol: "BTCUSDT", ClientOrderID: take1Req.ClientOrderID, Status: common.StatusNew}}
	ex.queries = map[string]common.Order{
		beReq.ClientOrderID: {ClientOrderID: beReq.ClientOrderID, Status: common.StatusCanceled},
	}
	m.HandlePushUpdate(ctx, beReq.ClientOrderID, common.StatusCanceled)

	if m.State() != StateEmpty {
		t.Fatalf("state = %s, want EMPTY after repair", m.State())
	}
	closeReq, ok := ex.lastByRole(RoleClose)
	if !ok {
		t.Fatal("half position left resting without a protective stop")
	}
	if !closeReq.ReduceOnly || !almostEqual(closeReq.Qty, qty/2) {
		t.Fatalf("defensive close mismatch: %+v", closeReq)
	}
}

func TestUnknownPushTriggersReconcile(t *testing.T) {
	m, ex, _ := newTestManager(t)

	before := ex.positionCalls
	m.HandlePushUpdate(context.Background(), "manual_override_123", common.StatusFilled)
	if ex.positionCalls != before+1 {
		t.Fatal("unknown push did not reconcile")
	}
}

func TestReduceOnlyRejectionOnClosingSetResets(t *testing.T) {
	m, ex, _ := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty}

	ex.placeFails = func(req common.OrderRequest) error {
		if req.ReduceOnly {
			return &common.APIError{Code: -2022, Message: "ReduceOnly Order is rejected"}
		}
		return nil
	}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	if m.State() != StateEmpty {
		t.Fatalf("state = %s, want EMPTY after reduce-only rejection", m.State())
	}
}

func TestDuplicateClientIDAdoptedAsPlaced(t *testing.T) {
	m, ex, _ := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty}

	failedOnce := false
	ex.placeFails = func(req common.OrderRequest) error {
		if role, _ := RoleFromClientID(req.ClientOrderID); role == RoleTake1 && !failedOnce {
			failedOnce = true
			return &common.APIError{Code: -4116, Message: "ClientOrderID is duplicated"}
		}
		return nil
	}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	if m.State() != StateStopsPlaced {
		t.Fatalf("state = %s, want STOPS_PLACED", m.State())
	}
	if _, ok := m.RegistrySnapshot()[RoleTake1]; !ok {
		t.Fatal("duplicate-rejected take not adopted into registry")
	}
}

func TestFatalClosingSetErrorRepairs(t *testing.T) {
	m, ex, _ := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty}

	ex.placeFails = func(req common.OrderRequest) error {
		if role, _ := RoleFromClientID(req.ClientOrderID); role == RoleStop {
			return &common.APIError{Code: -1000, Message: "internal error"}
		}
		return nil
	}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	if m.State() != StateEmpty {
		t.Fatalf("state = %s, want EMPTY after repair", m.State())
	}
	// The repair must have flattened the position with a reduce-only MARKET.
	closeReq, ok := ex.lastByRole(RoleClose)
	if !ok {
		t.Fatal("repair placed no defensive close")
	}
	if closeReq.Type != common.OrderTypeMarket || !closeReq.ReduceOnly {
		t.Fatalf("defensive close must be reduce-only MARKET: %+v", closeReq)
	}
	if closeReq.Side != common.SideBuy || !almostEqual(closeReq.Qty, qty) {
		t.Fatalf("defensive close sized from stale data: %+v", closeReq)
	}
}

func TestBreakEvenWouldTriggerImmediatelyRepairs(t *testing.T) {
	m, ex, _ := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty, BreakEvenPrice: 92985}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	take0Req, _ := ex.lastByRole(RoleTake0)
	ex.placeFails = func(req common.OrderRequest) error {
		if role, _ := RoleFromClientID(req.ClientOrderID); role == RoleBreakEven {
			return &common.APIError{Code: -2021, Message: "Order would immediately trigger"}
		}
		return nil
	}
	m.HandlePushUpdate(ctx, take0Req.ClientOrderID, common.StatusFilled)

	if m.State() != StateEmpty {
		t.Fatalf("state = %s, want EMPTY after repair", m.State())
	}
	if _, ok := ex.lastByRole(RoleClose); !ok {
		t.Fatal("repair placed no defensive close")
	}
}

func TestAutoCloseTimerFlattens(t *testing.T) {
	m, ex, sc := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	fire, ok := sc.task("autoclose:BTCUSDT")
	if !ok {
		t.Fatal("auto-close timer not scheduled")
	}
	fire()

	timeoutReq, ok := ex.lastByRole(RoleTimeout)
	if !ok {
		t.Fatal("timeout close not placed")
	}
	if timeoutReq.Type != common.OrderTypeMarket || !timeoutReq.ReduceOnly {
		t.Fatalf("timeout close must be reduce-only MARKET: %+v", timeoutReq)
	}

	// The close fill completes the cycle.
	ex.position = nil
	m.HandlePushUpdate(ctx, timeoutReq.ClientOrderID, common.StatusFilled)
	if m.State() != StateEmpty {
		t.Fatalf("state = %s, want EMPTY after timeout close fill", m.State())
	}
}

func TestAutoCloseWhileEmptyIsNoop(t *testing.T) {
	m, ex, sc := newTestManager(t)
	ctx := context.Background()

	openID := openShort(t, m, ex)
	qty := 10000.0 * 10 / 93000
	ex.position = &common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -qty}
	m.HandlePushUpdate(ctx, openID, common.StatusFilled)

	fire, _ := sc.task("autoclose:BTCUSDT")

	// The position closes normally before the timer fires.
	stopReq, _ := ex.lastByRole(RoleStop)
	ex.position = nil
	m.HandlePushUpdate(ctx, stopReq.ClientOrderID, common.StatusFilled)

	before := ex.placedCount()
	fire()
	if ex.placedCount() != before {
		t.Fatal("stale timer placed an order in EMPTY")
	}
}
