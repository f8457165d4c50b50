package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fadebot/pkg/exchanges/common"
)

// OrderRow is one audited order placement.
type OrderRow struct {
	ID              int64     `json:"id"`
	ClientOrderID   string    `json:"client_order_id"`
	ExchangeOrderID string    `json:"exchange_order_id"`
	Role            string    `json:"role"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Type            string    `json:"type"`
	Price           float64   `json:"price"`
	StopPrice       float64   `json:"stop_price"`
	Qty             float64   `json:"qty"`
	ReduceOnly      bool      `json:"reduce_only"`
	ClosePosition   bool      `json:"close_position"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReconcileEventRow is one audited reconciliation decision.
type ReconcileEventRow struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	State     string    `json:"state"`
	Decision  string    `json:"decision"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Store writes and reads the audit trail: every order the engine places and
// every reconciliation decision it takes. Losing a row never affects trading,
// so callers treat write errors as log-and-continue.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened database.
func NewStore(d *Database) *Store {
	return &Store{db: d.DB}
}

// RecordOrder appends an order placement to the audit trail.
func (s *Store) RecordOrder(ctx context.Context, role string, o common.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (client_order_id, exchange_order_id, role, symbol, side, type,
			price, stop_price, qty, reduce_only, close_position, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ClientOrderID, o.ExchangeOrderID, role, o.Symbol, string(o.Side), string(o.Type),
		o.Price, o.StopPrice, o.Qty, o.ReduceOnly, o.ClosePosition, string(o.Status))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// RecordReconcileEvent appends a reconciliation decision.
func (s *Store) RecordReconcileEvent(ctx context.Context, symbol, state, decision, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconcile_events (symbol, state, decision, detail)
		VALUES (?, ?, ?, ?)
	`, symbol, state, decision, detail)
	if err != nil {
		return fmt.Errorf("insert reconcile event: %w", err)
	}
	return nil
}

// RecordImbalance appends a detected imbalance, acted or not.
func (s *Store) RecordImbalance(ctx context.Context, symbol, direction string, startPrice, endPrice float64, startTime, endTime, completeTime time.Time, acted bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO imbalances (symbol, direction, start_price, end_price, start_time, end_time, complete_time, acted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, symbol, direction, startPrice, endPrice, startTime, endTime, completeTime, acted)
	if err != nil {
		return fmt.Errorf("insert imbalance: %w", err)
	}
	return nil
}

// RecentOrders returns the newest audited orders for a symbol, newest first.
func (s *Store) RecentOrders(ctx context.Context, symbol string, limit int) ([]OrderRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_order_id, exchange_order_id, role, symbol, side, type,
			price, stop_price, qty, reduce_only, close_position, status, created_at
		FROM orders
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var r OrderRow
		if err := rows.Scan(&r.ID, &r.ClientOrderID, &r.ExchangeOrderID, &r.Role, &r.Symbol,
			&r.Side, &r.Type, &r.Price, &r.StopPrice, &r.Qty, &r.ReduceOnly, &r.ClosePosition,
			&r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentEvents returns the newest reconciliation decisions for a symbol,
// newest first.
func (s *Store) RecentEvents(ctx context.Context, symbol string, limit int) ([]ReconcileEventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, state, decision, detail, created_at
		FROM reconcile_events
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query reconcile events: %w", err)
	}
	defer rows.Close()

	var out []ReconcileEventRow
	for rows.Next() {
		var r ReconcileEventRow
		if err := rows.Scan(&r.ID, &r.Symbol, &r.State, &r.Decision, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconcile event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
