package engine

import (
	"context"
	"fmt"
	"log"

	"fadebot/pkg/exchanges/common"
)

// Reconciliation handlers, one per state. Each receives the exchange-reported
// position (nil when flat) and open-order snapshot, and decides to accept
// (belief already matches reality), advance (enough evidence to move on
// without waiting for a push event), or repair (defensive close + reset).
//
// A closing order is "valid" when its registered client order ID appears in
// the open-order snapshot. A registered-but-absent order is never assumed
// filled: its status is queried explicitly, since an exchange-side cancel
// must repair rather than advance. All handlers require m.mu.

// handleEmpty: nothing should exist. A live position means either a restart
// that left our own exit orders resting, or something opened out of band.
// Resting orders carry their role in the client ID, so a recognizable exit
// set is re-registered and the lifecycle resumes where it left off instead of
// being torn down. Anything else is adopted through OPEN_PLACED.
func (m *Manager) handleEmpty(ctx context.Context, pos *common.Position, open []common.Order) {
	if pos == nil {
		return
	}

	byRole := make(map[Role]common.Order)
	for _, o := range open {
		if role, ok := RoleFromClientID(o.ClientOrderID); ok {
			byRole[role] = o
		}
	}
	if resumed, ok := resumeState(byRole); ok {
		for _, role := range ExpectedRoles(resumed) {
			m.registry.Register(role, byRole[role])
		}
		m.setState(resumed)
		if resumed == StateStopsPlaced {
			// The original entry time did not survive the restart; the
			// live-time clock starts over.
			m.sched.ScheduleOnce(m.autoCloseKey(), m.cfg.PositionLiveTime, m.autoClose)
		}
		m.recordDecision(ctx, "advance", fmt.Sprintf("resumed %s from resting exit orders", resumed))
		log.Printf("engine %s: resumed %s from resting exit orders (amt=%.6f)", m.cfg.Symbol, resumed, pos.Amount)
		return
	}

	log.Printf("engine %s: adopting externally opened position (amt=%.6f entry=%.4f)", m.cfg.Symbol, pos.Amount, pos.EntryPrice)
	m.recordDecision(ctx, "advance", "adopted external position")
	m.setState(StateOpenPlaced)
}

// resumeState matches role-tagged resting orders against the states whose
// expected sets they could complete.
func resumeState(byRole map[Role]common.Order) (State, bool) {
	has := func(roles ...Role) bool {
		for _, r := range roles {
			if _, ok := byRole[r]; !ok {
				return false
			}
		}
		return true
	}
	switch {
	case has(RoleStop, RoleTake0, RoleTake1):
		return StateStopsPlaced, true
	case has(RoleTake1, RoleBreakEven):
		return StateBreakEvenPlaced, true
	}
	return "", false
}

// handleOpenPlaced: the entry order should be resting or filled.
func (m *Manager) handleOpenPlaced(ctx context.Context, pos *common.Position, open []common.Order) {
	reg, registered := m.registry.Get(RoleOpen)
	var snap *common.Order
	if registered {
		snap = findByClientID(open, reg.ClientOrderID)
	}

	if pos == nil {
		// No position and no resting entry order: the opportunity is gone
		// (rejected, canceled, or adopted-then-vanished). Nothing to close.
		if !registered || snap == nil {
			m.recordDecision(ctx, "reset", "no position and no entry order")
			m.reset(ctx)
			return
		}
		// Entry still resting (NEW or partially filled into nothing yet).
		return
	}

	if !registered {
		// Adopted position with no entry order of ours: treat as filled.
		m.recordDecision(ctx, "advance", "position exists without entry order")
		m.transitionOpenFilled(ctx)
		return
	}

	if snap != nil {
		switch snap.Status {
		case common.StatusNew, common.StatusPartial:
			return
		default:
			m.repair(ctx, fmt.Sprintf("entry order in unexpected status %s", snap.Status))
		}
		return
	}

	// Registered but absent from the snapshot: query before concluding.
	q, err := m.exchange.QueryOrder(ctx, m.cfg.Symbol, reg.ClientOrderID)
	if err != nil {
		log.Printf("engine %s: query entry order failed: %v", m.cfg.Symbol, err)
		return
	}
	if q.Status == common.StatusFilled {
		m.recordDecision(ctx, "advance", "entry order filled")
		m.transitionOpenFilled(ctx)
		return
	}
	m.repair(ctx, fmt.Sprintf("entry order gone with status %s while position exists", q.Status))
}

// handleOpenFilled: transitional; a reconcile pass landing here means the
// closing set never completed (crash or earlier network failure). Retry it.
func (m *Manager) handleOpenFilled(ctx context.Context, pos *common.Position, open []common.Order) {
	if pos == nil {
		m.repair(ctx, "position missing before closing set")
		return
	}
	m.placeClosingSet(ctx, *pos)
}

// handleStopsPlaced: STOP, TAKE_0 and TAKE_1 should all be resting. The only
// advancing evidence is a confirmed TAKE_0 fill; everything else repairs.
func (m *Manager) handleStopsPlaced(ctx context.Context, pos *common.Position, open []common.Order) {
	if pos == nil {
		m.repair(ctx, "position gone while closing set resting")
		return
	}

	missing := m.missingRoles(open, RoleStop, RoleTake0, RoleTake1)
	if len(missing) == 0 {
		return
	}

	if len(missing) == 1 && missing[0] == RoleTake0 {
		take0, ok := m.registry.Get(RoleTake0)
		if !ok {
			m.repair(ctx, "first take not registered while closing set resting")
			return
		}
		q, err := m.exchange.QueryOrder(ctx, m.cfg.Symbol, take0.ClientOrderID)
		if err != nil {
			log.Printf("engine %s: query first take failed: %v", m.cfg.Symbol, err)
			return
		}
		if q.Status == common.StatusFilled {
			m.recordDecision(ctx, "advance", "first take filled")
			m.transitionFirstTakeFilled(ctx)
			return
		}
		m.repair(ctx, fmt.Sprintf("first take gone with status %s", q.Status))
		return
	}

	m.repair(ctx, fmt.Sprintf("closing set mismatch, missing %v", missing))
}

// handleFirstTakeFilled: transitional; the break-even promotion never
// completed. Retry it.
func (m *Manager) handleFirstTakeFilled(ctx context.Context, pos *common.Position, open []common.Order) {
	if pos == nil {
		m.repair(ctx, "position missing before break-even promotion")
		return
	}
	m.promoteToBreakEven(ctx, *pos)
}

// handleBreakEvenPlaced: TAKE_1 and BREAK_EVEN should be resting; either one
// filling ends the trade.
func (m *Manager) handleBreakEvenPlaced(ctx context.Context, pos *common.Position, open []common.Order) {
	if pos == nil {
		// Normal close: one of the two exits took the position out.
		m.recordDecision(ctx, "reset", "position flat after break-even phase")
		m.reset(ctx)
		return
	}

	missing := m.missingRoles(open, RoleTake1, RoleBreakEven)
	if len(missing) == 0 {
		return
	}

	for _, role := range missing {
		reg, registered := m.registry.Get(role)
		if !registered {
			m.repair(ctx, fmt.Sprintf("%s not registered in break-even phase", role))
			return
		}
		q, err := m.exchange.QueryOrder(ctx, m.cfg.Symbol, reg.ClientOrderID)
		if err != nil {
			log.Printf("engine %s: query %s failed: %v", m.cfg.Symbol, role, err)
			return
		}
		if q.Status != common.StatusFilled {
			m.repair(ctx, fmt.Sprintf("%s gone with status %s", role, q.Status))
			return
		}
	}
	// Every missing order filled; the position snapshot is just stale.
	m.recordDecision(ctx, "reset", "exit order filled")
	m.reset(ctx)
}

// missingRoles returns the roles among want that are not valid: either not
// registered at all or registered but absent from the open-order snapshot.
func (m *Manager) missingRoles(open []common.Order, want ...Role) []Role {
	var missing []Role
	for _, role := range want {
		reg, ok := m.registry.Get(role)
		if !ok || findByClientID(open, reg.ClientOrderID) == nil {
			missing = append(missing, role)
		}
	}
	return missing
}

func findByClientID(orders []common.Order, clientOrderID string) *common.Order {
	for i := range orders {
		if orders[i].ClientOrderID == clientOrderID {
			return &orders[i]
		}
	}
	return nil
}
