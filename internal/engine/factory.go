package engine

import (
	"fmt"
	"time"

	"fadebot/pkg/exchanges/common"
)

// Params are the exit-plan tuning knobs. They are configuration, not
// constants: the defaults match the live trading requirements but every value
// can be overridden from the trading config file.
type Params struct {
	// TakeThresholds are the fractions of the imbalance size at which the two
	// partial take-profits rest beyond the entry price.
	TakeThresholds [2]float64
	// StopModifier is the fraction of the imbalance size the stop price sits
	// past the worse of entry and imbalance end.
	StopModifier float64
}

// DefaultParams returns the canonical exit-plan parameters.
func DefaultParams() Params {
	return Params{
		TakeThresholds: [2]float64{0.35, 0.75},
		StopModifier:   0.02,
	}
}

// Factory builds well-formed order requests for each role. It is stateless
// apart from the clock and never touches the network.
type Factory struct {
	symbol string
	params Params
	now    func() time.Time
}

// NewFactory creates a factory for one symbol.
func NewFactory(symbol string, params Params) *Factory {
	if params.TakeThresholds == [2]float64{} {
		params.TakeThresholds = DefaultParams().TakeThresholds
	}
	if params.StopModifier == 0 {
		params.StopModifier = DefaultParams().StopModifier
	}
	return &Factory{symbol: symbol, params: params, now: time.Now}
}

// clientID builds a fresh role-tagged client order ID. The role and placement
// time are recoverable from the ID, which is how push events are correlated.
func (f *Factory) clientID(role Role) string {
	return fmt.Sprintf("%s_%d", role.clientIDPrefix(), f.now().UnixMilli())
}

// Open builds the MARKET entry order that fades the imbalance: an upward
// excursion is sold into, a downward one is bought.
func (f *Factory) Open(imb Imbalance, qty float64) common.OrderRequest {
	side := common.SideBuy
	if imb.Direction == DirectionUp {
		side = common.SideSell
	}
	return common.OrderRequest{
		Symbol:        f.symbol,
		Side:          side,
		Type:          common.OrderTypeMarket,
		Qty:           qty,
		ClientOrderID: f.clientID(RoleOpen),
	}
}

// Take builds partial take-profit number index (0 or 1): a reduce-only GTC
// LIMIT for half the position, resting the configured threshold fraction of
// the imbalance size beyond the entry price.
func (f *Factory) Take(pos common.Position, imbalanceSize float64, index int) common.OrderRequest {
	role := RoleTake0
	if index == 1 {
		role = RoleTake1
	}
	offset := f.params.TakeThresholds[index] * imbalanceSize
	price := pos.EntryPrice - offset
	if pos.Long() {
		price = pos.EntryPrice + offset
	}
	return common.OrderRequest{
		Symbol:        f.symbol,
		Side:          pos.CloseSide(),
		Type:          common.OrderTypeLimit,
		Qty:           0.5 * pos.Quantity(),
		Price:         price,
		TimeInForce:   common.TIFGTC,
		ReduceOnly:    true,
		ClientOrderID: f.clientID(role),
	}
}

// Stop builds the protective STOP_MARKET that flattens the whole position.
// The trigger sits a small fraction of the imbalance size past the worse of
// the entry price and the imbalance end price.
func (f *Factory) Stop(imb Imbalance, pos common.Position) common.OrderRequest {
	pad := imb.Size() * f.params.StopModifier
	var stopPrice float64
	if pos.Long() {
		stopPrice = min(pos.EntryPrice, imb.EndPrice) - pad
	} else {
		stopPrice = max(pos.EntryPrice, imb.EndPrice) + pad
	}
	return common.OrderRequest{
		Symbol:        f.symbol,
		Side:          pos.CloseSide(),
		Type:          common.OrderTypeStopMarket,
		StopPrice:     stopPrice,
		ClosePosition: true,
		ClientOrderID: f.clientID(RoleStop),
	}
}

// BreakEven builds the replacement stop at the position's break-even price,
// armed once the first take-profit has locked in partial profit.
func (f *Factory) BreakEven(pos common.Position) common.OrderRequest {
	return common.OrderRequest{
		Symbol:        f.symbol,
		Side:          pos.CloseSide(),
		Type:          common.OrderTypeStopMarket,
		StopPrice:     pos.BreakEvenPrice,
		ClosePosition: true,
		ClientOrderID: f.clientID(RoleBreakEven),
	}
}

// CloseMarket builds a reduce-only MARKET order sized and sided against the
// live position at send time, never from stale local data.
func (f *Factory) CloseMarket(pos common.Position, role Role) common.OrderRequest {
	return common.OrderRequest{
		Symbol:        f.symbol,
		Side:          pos.CloseSide(),
		Type:          common.OrderTypeMarket,
		Qty:           pos.Quantity(),
		ReduceOnly:    true,
		ClientOrderID: f.clientID(role),
	}
}
