// Package signal turns the raw price stream into imbalance endpoint signals:
// a directional excursion large enough to fade, detected once the move stops
// extending.
package signal

import (
	"context"
	"log"
	"time"

	"fadebot/internal/engine"
	"fadebot/internal/events"
)

// Config tunes the detector for one symbol.
type Config struct {
	Symbol string

	// MinSize is the minimum excursion as a fraction of the start price.
	MinSize float64

	// Window bounds how far back the excursion may have started; slower moves
	// are ignored.
	Window time.Duration

	// Settle is how long a candidate must stop making new extremes before its
	// endpoint is considered complete.
	Settle time.Duration
}

// Endpoint is the completed signal handed to the trading layer.
type Endpoint struct {
	Symbol    string
	Imbalance engine.Imbalance
	// Price is the last trade price at completion time, used as the sizing
	// reference for the entry order.
	Price float64
}

// Detector is a single-symbol imbalance detector. It is not self-locking: all
// ticks for a symbol arrive on one goroutine (the bus subscription loop).
type Detector struct {
	cfg Config
	bus *events.Bus

	// Rolling extremes while no candidate is active. Each rebases to the
	// current price once it ages out of the window.
	lowPrice, highPrice float64
	lowTime, highTime   time.Time

	active     bool
	direction  engine.Direction
	startPrice float64
	startTime  time.Time
	endPrice   float64
	endTime    time.Time
}

// New creates a detector for one symbol.
func New(cfg Config, bus *events.Bus) *Detector {
	return &Detector{cfg: cfg, bus: bus}
}

// Run consumes price ticks from the bus until ctx is done, publishing an
// EventImbalanceEndpoint for every completed excursion.
func (d *Detector) Run(ctx context.Context) {
	ch, unsub := d.bus.Subscribe(events.EventPriceTick, 256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			tick, ok := msg.(events.PriceTick)
			if !ok || tick.Symbol != d.cfg.Symbol {
				continue
			}
			if ep, ok := d.OnTick(tick.Price, time.UnixMilli(tick.Time)); ok {
				log.Printf("signal %s: imbalance endpoint %s %.4f -> %.4f", d.cfg.Symbol, ep.Imbalance.Direction, ep.Imbalance.StartPrice, ep.Imbalance.EndPrice)
				d.bus.Publish(events.EventImbalanceEndpoint, ep)
			}
		}
	}
}

// OnTick advances the detector with one trade and reports a completed
// endpoint, if any. Exported for direct-drive testing.
func (d *Detector) OnTick(price float64, at time.Time) (Endpoint, bool) {
	if price <= 0 {
		return Endpoint{}, false
	}
	if d.lowPrice == 0 {
		d.rebase(price, at)
		return Endpoint{}, false
	}

	if d.active {
		return d.extendOrComplete(price, at)
	}
	d.observe(price, at)
	return Endpoint{}, false
}

// observe tracks rolling extremes and promotes a candidate once the price
// travels MinSize away from one of them within the window.
func (d *Detector) observe(price float64, at time.Time) {
	if price < d.lowPrice || at.Sub(d.lowTime) > d.cfg.Window {
		d.lowPrice, d.lowTime = price, at
	}
	if price > d.highPrice || at.Sub(d.highTime) > d.cfg.Window {
		d.highPrice, d.highTime = price, at
	}

	if price-d.lowPrice >= d.cfg.MinSize*d.lowPrice {
		d.begin(engine.DirectionUp, d.lowPrice, d.lowTime, price, at)
		return
	}
	if d.highPrice-price >= d.cfg.MinSize*d.highPrice {
		d.begin(engine.DirectionDown, d.highPrice, d.highTime, price, at)
	}
}

func (d *Detector) begin(dir engine.Direction, startPrice float64, startTime time.Time, price float64, at time.Time) {
	d.active = true
	d.direction = dir
	d.startPrice = startPrice
	d.startTime = startTime
	d.endPrice = price
	d.endTime = at
}

// extendOrComplete pushes the candidate's endpoint while new extremes print,
// and completes it once the excursion stops extending for the settle window.
func (d *Detector) extendOrComplete(price float64, at time.Time) (Endpoint, bool) {
	extends := (d.direction == engine.DirectionUp && price > d.endPrice) ||
		(d.direction == engine.DirectionDown && price < d.endPrice)
	if extends {
		d.endPrice = price
		d.endTime = at
		return Endpoint{}, false
	}

	if at.Sub(d.endTime) < d.cfg.Settle {
		return Endpoint{}, false
	}

	ep := Endpoint{
		Symbol: d.cfg.Symbol,
		Imbalance: engine.Imbalance{
			Direction:    d.direction,
			StartTime:    d.startTime,
			StartPrice:   d.startPrice,
			EndTime:      d.endTime,
			EndPrice:     d.endPrice,
			CompleteTime: at,
		},
		Price: price,
	}
	// The endpoint becomes the next reference: a reversal from here is
	// measured against the extreme just printed.
	d.rebase(d.endPrice, d.endTime)
	return ep, true
}

func (d *Detector) rebase(price float64, at time.Time) {
	d.lowPrice, d.lowTime = price, at
	d.highPrice, d.highTime = price, at
	d.active = false
	d.direction = ""
	d.startPrice = 0
	d.endPrice = 0
}
