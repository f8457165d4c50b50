package engine

import (
	"testing"

	"fadebot/pkg/exchanges/common"
)

func testFactory() *Factory {
	return NewFactory("BTCUSDT", DefaultParams())
}

func TestOpenFadesImbalance(t *testing.T) {
	f := testFactory()

	up := f.Open(Imbalance{Direction: DirectionUp, StartPrice: 90000, EndPrice: 93000}, 1.0753)
	if up.Side != common.SideSell {
		t.Fatalf("UP imbalance must be sold, got %s", up.Side)
	}
	if up.Type != common.OrderTypeMarket || up.Qty != 1.0753 {
		t.Fatalf("unexpected entry order: %+v", up)
	}
	if role, ok := RoleFromClientID(up.ClientOrderID); !ok || role != RoleOpen {
		t.Fatalf("entry client ID %q does not carry OPEN", up.ClientOrderID)
	}

	down := f.Open(Imbalance{Direction: DirectionDown, StartPrice: 93000, EndPrice: 90000}, 2)
	if down.Side != common.SideBuy {
		t.Fatalf("DOWN imbalance must be bought, got %s", down.Side)
	}
}

func TestTakeProfitPricesShort(t *testing.T) {
	f := testFactory()
	pos := common.Position{Symbol: "BTCUSDT", EntryPrice: 93000, Amount: -1.0753}

	take0 := f.Take(pos, 3000, 0)
	take1 := f.Take(pos, 3000, 1)

	if !almostEqual(take0.Price, 91950) {
		t.Fatalf("take0 price = %.2f, want 91950", take0.Price)
	}
	if !almostEqual(take1.Price, 90750) {
		t.Fatalf("take1 price = %.2f, want 90750", take1.Price)
	}
	for _, take := range []common.OrderRequest{take0, take1} {
		if take.Side != common.SideBuy {
			t.Fatalf("short take must BUY, got %s", take.Side)
		}
		if take.Type != common.OrderTypeLimit || take.TimeInForce != common.TIFGTC || !take.ReduceOnly {
			t.Fatalf("take must be reduce-only GTC LIMIT: %+v", take)
		}
		if !almostEqual(take.Qty, 1.0753/2) {
			t.Fatalf("take qty = %.6f, want half the position", take.Qty)
		}
	}
	if r0, _ := RoleFromClientID(take0.ClientOrderID); r0 != RoleTake0 {
		t.Fatalf("take0 client ID %q carries %s", take0.ClientOrderID, r0)
	}
	if r1, _ := RoleFromClientID(take1.ClientOrderID); r1 != RoleTake1 {
		t.Fatalf("take1 client ID %q carries %s", take1.ClientOrderID, r1)
	}
}

func TestTakeProfitPricesLong(t *testing.T) {
	f := testFactory()
	pos := common.Position{Symbol: "BTCUSDT", EntryPrice: 90000, Amount: 2}

	take0 := f.Take(pos, 3000, 0)
	if !almostEqual(take0.Price, 91050) {
		t.Fatalf("long take0 price = %.2f, want 91050", take0.Price)
	}
	if take0.Side != common.SideSell {
		t.Fatalf("long take must SELL, got %s", take0.Side)
	}
}

func TestStopPlacement(t *testing.T) {
	f := testFactory()

	t.Run("short", func(t *testing.T) {
		imb := Imbalance{Direction: DirectionUp, StartPrice: 90000, EndPrice: 93000}
		pos := common.Position{EntryPrice: 93000, Amount: -1}
		stop := f.Stop(imb, pos)
		if !almostEqual(stop.StopPrice, 93060) {
			t.Fatalf("stop price = %.2f, want 93060", stop.StopPrice)
		}
		if stop.Side != common.SideBuy || stop.Type != common.OrderTypeStopMarket || !stop.ClosePosition {
			t.Fatalf("unexpected stop: %+v", stop)
		}
	})

	t.Run("short entry above end", func(t *testing.T) {
		imb := Imbalance{Direction: DirectionUp, StartPrice: 90000, EndPrice: 93000}
		pos := common.Position{EntryPrice: 93500, Amount: -1}
		stop := f.Stop(imb, pos)
		// Worse of entry and imbalance end for a short is the higher price.
		if !almostEqual(stop.StopPrice, 93560) {
			t.Fatalf("stop price = %.2f, want 93560", stop.StopPrice)
		}
	})

	t.Run("long", func(t *testing.T) {
		imb := Imbalance{Direction: DirectionDown, StartPrice: 93000, EndPrice: 90000}
		pos := common.Position{EntryPrice: 90000, Amount: 1}
		stop := f.Stop(imb, pos)
		if !almostEqual(stop.StopPrice, 89940) {
			t.Fatalf("stop price = %.2f, want 89940", stop.StopPrice)
		}
		if stop.Side != common.SideSell {
			t.Fatalf("long stop must SELL, got %s", stop.Side)
		}
	})
}

func TestBreakEvenUsesPositionPrice(t *testing.T) {
	f := testFactory()
	pos := common.Position{EntryPrice: 93000, Amount: -0.5, BreakEvenPrice: 92985}

	be := f.BreakEven(pos)
	if be.StopPrice != 92985 {
		t.Fatalf("break-even price = %.2f, want 92985", be.StopPrice)
	}
	if be.Type != common.OrderTypeStopMarket || !be.ClosePosition || be.Side != common.SideBuy {
		t.Fatalf("unexpected break-even stop: %+v", be)
	}
}

func TestCloseMarketSizedFromPosition(t *testing.T) {
	f := testFactory()
	pos := common.Position{EntryPrice: 93000, Amount: -0.4}

	req := f.CloseMarket(pos, RoleTimeout)
	if req.Side != common.SideBuy || req.Type != common.OrderTypeMarket {
		t.Fatalf("unexpected close: %+v", req)
	}
	if !almostEqual(req.Qty, 0.4) || !req.ReduceOnly {
		t.Fatalf("close must reduce the full live size: %+v", req)
	}
	if role, _ := RoleFromClientID(req.ClientOrderID); role != RoleTimeout {
		t.Fatalf("close client ID %q carries %s", req.ClientOrderID, role)
	}
}

func TestFactoryDefaultsApplied(t *testing.T) {
	f := NewFactory("BTCUSDT", Params{})
	if f.params.TakeThresholds != DefaultParams().TakeThresholds {
		t.Fatalf("zero thresholds not defaulted: %v", f.params.TakeThresholds)
	}
	if f.params.StopModifier != DefaultParams().StopModifier {
		t.Fatalf("zero stop modifier not defaulted: %v", f.params.StopModifier)
	}
}
