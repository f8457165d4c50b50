package futures

import (
	"time"

	"fadebot/pkg/exchanges/common"
)

// wireOrder is the order payload shape shared by the place/query/open-orders
// endpoints.
type wireOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	TimeInForce   string `json:"timeInForce"`
	Status        string `json:"status"`
	UpdateTime    int64  `json:"updateTime"`
	Time          int64  `json:"time"`
}

func (w wireOrder) toOrder() common.Order {
	created := w.Time
	if created == 0 {
		created = w.UpdateTime
	}
	return common.Order{
		Symbol:          w.Symbol,
		ClientOrderID:   w.ClientOrderID,
		ExchangeOrderID: formatInt(w.OrderID),
		Side:            common.Side(w.Side),
		Type:            common.OrderType(w.Type),
		Price:           toFloat(w.Price),
		StopPrice:       toFloat(w.StopPrice),
		Qty:             toFloat(w.OrigQty),
		ExecutedQty:     toFloat(w.ExecutedQty),
		ReduceOnly:      w.ReduceOnly,
		ClosePosition:   w.ClosePosition,
		TimeInForce:     common.TimeInForce(w.TimeInForce),
		Status:          mapStatus(w.Status),
		CreatedAt:       time.UnixMilli(created),
	}
}

type wirePosition struct {
	Symbol         string `json:"symbol"`
	PositionAmt    string `json:"positionAmt"`
	EntryPrice     string `json:"entryPrice"`
	BreakEvenPrice string `json:"breakEvenPrice"`
	Leverage       string `json:"leverage"`
}

// AccountInfo returns futures account flags used at startup.
type AccountInfo struct {
	CanTrade   bool  `json:"canTrade"`
	UpdateTime int64 `json:"updateTime"`
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}
