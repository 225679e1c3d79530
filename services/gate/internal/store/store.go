// Package store persists gate orders. The Postgres store is the production
// backend; the memory store backs tests and single-process demos.
//
// Schema:
//
//	CREATE TABLE gate_orders (
//	    order_id        text PRIMARY KEY,
//	    amount          bigint NOT NULL,
//	    memo            text NOT NULL DEFAULT '',
//	    context         jsonb NOT NULL DEFAULT '{}',
//	    context_hash    text NOT NULL,
//	    status          text NOT NULL DEFAULT 'pending',
//	    receipt_address text NOT NULL DEFAULT '',
//	    created_at      timestamptz NOT NULL,
//	    paid_at         timestamptz
//	);
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"augenpay/services/gate/internal/gate"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) CreateOrder(ctx context.Context, o gate.Order) error {
	doc, err := json.Marshal(o.Context)
	if err != nil {
		return fmt.Errorf("encode order context: %w", err)
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO gate_orders(order_id,amount,memo,context,context_hash,status,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7)
`, o.OrderID, int64(o.Amount), o.Memo, doc, o.ContextHash, o.Status, o.CreatedAt)
	return err
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (gate.Order, error) {
	var o gate.Order
	var amount int64
	var doc []byte
	err := s.DB.QueryRow(ctx, `
SELECT order_id,amount,memo,context,context_hash,status,receipt_address,created_at,paid_at
FROM gate_orders WHERE order_id=$1
`, orderID).Scan(&o.OrderID, &amount, &o.Memo, &doc, &o.ContextHash, &o.Status, &o.ReceiptAddress, &o.CreatedAt, &o.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return gate.Order{}, gate.ErrOrderNotFound
		}
		return gate.Order{}, err
	}
	o.Amount = uint64(amount)
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &o.Context); err != nil {
			return gate.Order{}, fmt.Errorf("decode order context: %w", err)
		}
	}
	return o, nil
}

// MarkPaid transitions pending -> paid. The status predicate makes the update
// conditional, so concurrent proofs resolve to exactly one winner.
func (s *Store) MarkPaid(ctx context.Context, orderID, receiptAddress string, paidAt time.Time) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE gate_orders SET status='paid', receipt_address=$2, paid_at=$3
WHERE order_id=$1 AND status='pending'
`, orderID, receiptAddress, paidAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, s.orderExists(ctx, orderID)
	}
	return true, nil
}

func (s *Store) MarkFulfilled(ctx context.Context, orderID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE gate_orders SET status='fulfilled'
WHERE order_id=$1 AND status='paid'
`, orderID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, s.orderExists(ctx, orderID)
	}
	return true, nil
}

func (s *Store) orderExists(ctx context.Context, orderID string) error {
	var one int
	err := s.DB.QueryRow(ctx, `SELECT 1 FROM gate_orders WHERE order_id=$1`, orderID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return gate.ErrOrderNotFound
	}
	return err
}
