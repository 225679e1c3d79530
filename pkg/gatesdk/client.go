// Package gatesdk is the HTTP client for the gate service: create an order,
// submit a settlement receipt as proof of payment, and poll fulfillment.
package gatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"augenpay/pkg/httpx"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

type Order struct {
	OrderID        string         `json:"order_id"`
	Amount         uint64         `json:"amount"`
	Memo           string         `json:"memo,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	ContextHash    string         `json:"context_hash"`
	Status         string         `json:"status"`
	ReceiptAddress string         `json:"receipt_address,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	PaidAt         *time.Time     `json:"paid_at,omitempty"`
}

// Challenge carries the exact context document a payer must settle with and
// the merchant token account settlement must pay into.
type Challenge struct {
	OrderID          string         `json:"order_id"`
	Merchant         string         `json:"merchant"`
	ReceivingAccount string         `json:"receiving_account"`
	Amount           uint64         `json:"amount"`
	Context          map[string]any `json:"context"`
	ContextHash      string         `json:"context_hash"`
}

type OrderResponse struct {
	Order     Order     `json:"order"`
	Challenge Challenge `json:"challenge"`
	Unlocked  bool      `json:"unlocked"`
}

type VerifyResult struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	ReceiptAddress string `json:"receipt_address,omitempty"`
}

// CreateOrder opens an order. details is optional caller context the gate
// folds into the challenge's canonical document before hashing.
func (c *Client) CreateOrder(ctx context.Context, amount uint64, memo string, details map[string]any) (*OrderResponse, error) {
	payload := map[string]any{"amount": amount, "memo": memo}
	if len(details) > 0 {
		payload["context"] = details
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	u := c.BaseURL + "/gate/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON[OrderResponse](c, req)
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	u := fmt.Sprintf("%s/gate/v1/orders/%s", c.BaseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return doJSON[OrderResponse](c, req)
}

// SubmitProof presents a receipt address as payment proof. An empty
// receiptAddress asks the gate to scan the ledger for a matching receipt.
func (c *Client) SubmitProof(ctx context.Context, orderID, receiptAddress string) (*VerifyResult, error) {
	body, err := json.Marshal(map[string]any{"receipt_address": receiptAddress})
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/gate/v1/orders/%s/proof", c.BaseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON[VerifyResult](c, req)
}

func (c *Client) Fulfill(ctx context.Context, orderID string) (*OrderResponse, error) {
	u := fmt.Sprintf("%s/gate/v1/orders/%s/fulfill", c.BaseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON[OrderResponse](c, req)
}

func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var envelope httpx.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		if envelope.Error.Code != "" {
			return nil, fmt.Errorf("http %d %s: %s (request %s)",
				resp.StatusCode, envelope.Error.Code, envelope.Error.Message, envelope.RequestID)
		}
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
