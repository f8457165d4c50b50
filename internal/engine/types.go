package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"fadebot/pkg/exchanges/common"
)

// Role identifies an order's purpose in the exit plan.
type Role string

const (
	RoleOpen      Role = "OPEN"
	RoleStop      Role = "STOP"
	RoleTake0     Role = "TAKE_0"
	RoleTake1     Role = "TAKE_1"
	RoleBreakEven Role = "BREAK_EVEN"
	RoleClose     Role = "CLOSE"
	RoleTimeout   Role = "TIMEOUT"
)

var allRoles = []Role{RoleOpen, RoleStop, RoleTake0, RoleTake1, RoleBreakEven, RoleClose, RoleTimeout}

// Closing reports whether a fill of this role leaves nothing to manage: the
// position is either flat or about to be flat via the close order itself.
// TAKE_0 is not closing; its fill promotes the stop to break-even instead.
func (r Role) Closing() bool {
	switch r {
	case RoleStop, RoleTake1, RoleBreakEven, RoleClose, RoleTimeout:
		return true
	}
	return false
}

// clientIDPrefix is the lowercase role tag embedded in client order IDs.
func (r Role) clientIDPrefix() string {
	return strings.ToLower(string(r))
}

// RoleFromClientID recovers the role embedded in an engine-generated client
// order ID ("take_0_1693489587123" → TAKE_0). Returns false for foreign IDs.
func RoleFromClientID(clientOrderID string) (Role, bool) {
	i := strings.LastIndexByte(clientOrderID, '_')
	if i < 0 {
		return "", false
	}
	suffix := clientOrderID[i+1:]
	if suffix == "" || strings.IndexFunc(suffix, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return "", false
	}
	prefix := clientOrderID[:i]
	for _, r := range allRoles {
		if r.clientIDPrefix() == prefix {
			return r, true
		}
	}
	return "", false
}

// State is the declared phase of the order lifecycle for one account.
type State string

const (
	StateEmpty           State = "EMPTY"
	StateOpenPlaced      State = "OPEN_PLACED"
	StateOpenFilled      State = "OPEN_FILLED"
	StateStopsPlaced     State = "STOPS_PLACED"
	StateFirstTakeFilled State = "FIRST_TAKE_FILLED"
	StateBreakEvenPlaced State = "BREAK_EVEN_PLACED"
)

// expectedRoles is the invariant set of registry roles per state. Any observed
// deviation is an inconsistency to reconcile, never something to tolerate.
var expectedRoles = map[State][]Role{
	StateEmpty:           {},
	StateOpenPlaced:      {RoleOpen},
	StateOpenFilled:      {},
	StateStopsPlaced:     {RoleStop, RoleTake0, RoleTake1},
	StateFirstTakeFilled: {RoleStop, RoleTake0, RoleTake1},
	StateBreakEvenPlaced: {RoleTake1, RoleBreakEven},
}

// ExpectedRoles returns the registry roles the state table declares for s.
func ExpectedRoles(s State) []Role {
	roles := expectedRoles[s]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// Direction of a detected imbalance.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Imbalance is a detected directional price excursion used as the entry
// signal. Immutable once handed to the Manager for a position's lifetime.
type Imbalance struct {
	Direction    Direction
	StartTime    time.Time
	StartPrice   float64
	EndTime      time.Time
	EndPrice     float64
	CompleteTime time.Time
}

// Size returns the absolute price delta of the excursion.
func (i Imbalance) Size() float64 {
	return math.Abs(i.EndPrice - i.StartPrice)
}

// ExchangeClient is the slice of the exchange collaborator the engine
// consumes. Every call is already wrapped in a bounded retry by the
// implementation and returns exactly once, successfully or with a terminal
// error.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (common.Order, error)
	OpenPosition(ctx context.Context, symbol string) (*common.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]common.Order, error)
	AvailableBalance(ctx context.Context) (float64, error)
}

// Scheduler is the scheduling collaborator: keyed tasks where re-scheduling
// under an existing key replaces the previous instance.
type Scheduler interface {
	ScheduleOnce(key string, delay time.Duration, fn func())
	ScheduleRepeating(key string, initialDelay, period time.Duration, fn func())
	Cancel(key string)
}

// AuditStore receives a durable trail of orders and reconciliation decisions.
type AuditStore interface {
	RecordOrder(ctx context.Context, role string, o common.Order) error
	RecordReconcileEvent(ctx context.Context, symbol, state, decision, detail string) error
}
