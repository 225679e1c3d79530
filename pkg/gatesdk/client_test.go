package gatesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientOrderFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/gate/v1/orders":
			var req struct {
				Amount  uint64         `json:"amount"`
				Memo    string         `json:"memo"`
				Context map[string]any `json:"context"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Amount != 120 {
				t.Errorf("server saw amount %d", req.Amount)
			}
			if req.Context["sku"] != "pro-plan" {
				t.Errorf("server saw context %+v", req.Context)
			}
			w.WriteHeader(201)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"order": map[string]any{"order_id": "ord_1", "amount": 120, "status": "pending", "context_hash": "ab12"},
				"challenge": map[string]any{
					"order_id": "ord_1", "merchant": "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
					"receiving_account": "So11111111111111111111111111111111111111112",
					"amount":            120, "context_hash": "ab12",
					"context": map[string]any{"order_id": "ord_1", "amount": 120, "sku": "pro-plan"},
				},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/gate/v1/orders/ord_1/proof":
			var req struct {
				ReceiptAddress string `json:"receipt_address"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]any{"valid": true, "receipt_address": req.ReceiptAddress})
		case r.Method == http.MethodGet && r.URL.Path == "/gate/v1/orders/ord_1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"order":    map[string]any{"order_id": "ord_1", "amount": 120, "status": "paid", "context_hash": "ab12"},
				"unlocked": true,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/gate/v1/orders/ord_1/fulfill":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"order": map[string]any{"order_id": "ord_1", "amount": 120, "status": "fulfilled", "context_hash": "ab12"},
			})
		default:
			http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	created, err := c.CreateOrder(ctx, 120, "api credits", map[string]any{"sku": "pro-plan"})
	if err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}
	if created.Order.OrderID != "ord_1" || created.Challenge.ContextHash != "ab12" {
		t.Fatalf("CreateOrder() = %+v", created)
	}
	if created.Challenge.ReceivingAccount != "So11111111111111111111111111111111111111112" {
		t.Fatalf("receiving account = %q", created.Challenge.ReceivingAccount)
	}

	res, err := c.SubmitProof(ctx, "ord_1", "receipt-addr")
	if err != nil {
		t.Fatalf("SubmitProof() error: %v", err)
	}
	if !res.Valid || res.ReceiptAddress != "receipt-addr" {
		t.Fatalf("SubmitProof() = %+v", res)
	}

	got, err := c.GetOrder(ctx, "ord_1")
	if err != nil {
		t.Fatalf("GetOrder() error: %v", err)
	}
	if !got.Unlocked || got.Order.Status != "paid" {
		t.Fatalf("GetOrder() = %+v", got)
	}

	ful, err := c.Fulfill(ctx, "ord_1")
	if err != nil {
		t.Fatalf("Fulfill() error: %v", err)
	}
	if ful.Order.Status != "fulfilled" {
		t.Fatalf("Fulfill() = %+v", ful)
	}

	if _, err := c.GetOrder(ctx, "ord_missing"); err == nil {
		t.Fatalf("GetOrder() on missing order succeeded")
	}
}
