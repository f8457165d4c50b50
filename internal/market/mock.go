package market

import (
	"context"
	"log"
	"math/rand"
	"time"

	"fadebot/internal/events"
)

// MockFeed generates synthetic ticks for local development: a random walk
// with occasional sharp excursions so the detector has something to find.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
}

// Run blocks until ctx is done, publishing one tick per symbol per interval.
func (m *MockFeed) Run(ctx context.Context) {
	if m.Bus == nil {
		log.Println("mock feed: bus not set")
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	start := m.StartPrice
	if start == 0 {
		start = 100.0
	}
	step := m.Step
	if step == 0 {
		step = 0.05
	}
	interval := m.Interval
	if interval == 0 {
		interval = time.Second
	}

	prices := make(map[string]float64, len(m.Symbols))
	drift := make(map[string]int, len(m.Symbols))
	for _, sym := range m.Symbols {
		prices[sym] = start
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, sym := range m.Symbols {
				// Every so often commit to a directional burst for a while.
				if drift[sym] == 0 && rand.Float64() < 0.01 {
					drift[sym] = 30
					if rand.Float64() < 0.5 {
						drift[sym] = -30
					}
				}
				move := (rand.Float64()*2 - 1) * step * prices[sym] / 100
				switch {
				case drift[sym] > 0:
					move += step * prices[sym] / 100
					drift[sym]--
				case drift[sym] < 0:
					move -= step * prices[sym] / 100
					drift[sym]++
				}
				prices[sym] += move
				m.Bus.Publish(events.EventPriceTick, events.PriceTick{
					Symbol: sym,
					Price:  prices[sym],
					Time:   now.UnixMilli(),
				})
			}
		}
	}
}
