package events

// Event enumerates high-level topics inside the trading client.
type Event string

const (
	EventPriceTick          Event = "price_tick"
	EventImbalanceEndpoint  Event = "imbalance_endpoint"
	EventOrderUpdate        Event = "order.update"
	EventEngineStateChanged Event = "engine.state_changed"
	EventEngineReset        Event = "engine.reset"
	EventEngineRepair       Event = "engine.repair"
	EventPushHealth         Event = "push.health"
)

// PriceTick is the payload published for every market price update.
type PriceTick struct {
	Symbol string
	Price  float64
	Time   int64 // ms
}
