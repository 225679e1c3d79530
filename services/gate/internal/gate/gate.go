// Package gate implements the merchant side of the protocol: it issues
// payment challenges for orders, verifies on-ledger receipts against them,
// and tracks each order through pending, paid and fulfilled.
package gate

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"augenpay/pkg/canonhash"
	"augenpay/pkg/engine"
	"augenpay/pkg/ledger"
	"augenpay/pkg/state"
)

// Order states. A receipt moves an order pending -> paid; fulfillment is a
// separate merchant action so delivery can lag payment.
const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderFulfilled = "fulfilled"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidOrderState: the requested transition is not legal from the
	// order's current state.
	ErrInvalidOrderState = errors.New("invalid order state for operation")
)

// Order is one unit of merchant work gated behind a payment.
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

// Store persists orders. MarkPaid and MarkFulfilled are compare-and-set on
// the expected prior state and report whether the transition applied, so two
// racing proofs cannot both win.
type Store interface {
	CreateOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	MarkPaid(ctx context.Context, orderID, receiptAddress string, paidAt time.Time) (bool, error)
	MarkFulfilled(ctx context.Context, orderID string) (bool, error)
}

// Verification failure reasons, returned to the payer so a correctable
// mistake (wrong amount) is distinguishable from a dead end (wrong merchant).
const (
	ReasonBadReceiptAddress = "bad_receipt_address"
	ReasonReceiptNotFound   = "receipt_not_found"
	ReasonMerchantMismatch  = "merchant_mismatch"
	ReasonHashMismatch      = "context_hash_mismatch"
	ReasonAmountMismatch    = "amount_mismatch"
	ReasonAlreadyPaid       = "already_paid"
)

// VerifyResult is the outcome of checking one proof against one order.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	ReceiptAddress string `json:"receipt_address,omitempty"`
}

// Gate verifies payments for a single merchant identity against a ledger
// read side.
type Gate struct {
	merchant  solana.PublicKey
	receiving solana.PublicKey
	reader    ledger.Reader
	store     Store
	now       func() time.Time
}

// New builds a gate for one merchant. receiving is the merchant's token
// account; it is published in every challenge so payers know where settlement
// must transfer the funds.
func New(merchant, receiving solana.PublicKey, reader ledger.Reader, store Store) *Gate {
	return &Gate{merchant: merchant, receiving: receiving, reader: reader, store: store, now: time.Now}
}

// SetNow pins the clock. Tests only.
func (g *Gate) SetNow(now func() time.Time) { g.now = now }

func (g *Gate) Merchant() solana.PublicKey { return g.merchant }

func (g *Gate) ReceivingAccount() solana.PublicKey { return g.receiving }

// Challenge is everything a payer needs to settle an order: the exact context
// document to hash into the receipt, plus where the funds must land.
type Challenge struct {
	OrderID          string         `json:"order_id"`
	Merchant         string         `json:"merchant"`
	ReceivingAccount string         `json:"receiving_account"`
	Amount           uint64         `json:"amount"`
	Context          map[string]any `json:"context"`
	ContextHash      string         `json:"context_hash"`
}

// orderContext is the canonical context document for an order: the caller's
// details, if any, with the order identity written over them. The payer must
// pass this exact document to settlement; any variation changes the hash and
// the receipt will not verify.
func (g *Gate) orderContext(orderID string, amount uint64, memo string, details map[string]any) map[string]any {
	doc := make(map[string]any, len(details)+4)
	for k, v := range details {
		doc[k] = v
	}
	doc["order_id"] = orderID
	doc["merchant"] = g.merchant.String()
	doc["amount"] = amount
	if memo != "" {
		doc["memo"] = memo
	}
	return doc
}

func (g *Gate) challenge(o Order) Challenge {
	return Challenge{
		OrderID:          o.OrderID,
		Merchant:         g.merchant.String(),
		ReceivingAccount: g.receiving.String(),
		Amount:           o.Amount,
		Context:          o.Context,
		ContextHash:      o.ContextHash,
	}
}

// NewOrder registers a pending order and returns its payment challenge.
// details is optional caller context (line items, invoice ids, whatever the
// merchant wants bound into the receipt); it is folded into the canonical
// document before hashing, with the order_id, merchant, amount and memo keys
// reserved for the gate.
func (g *Gate) NewOrder(ctx context.Context, amount uint64, memo string, details map[string]any) (Order, Challenge, error) {
	if amount == 0 {
		return Order{}, Challenge{}, fmt.Errorf("order amount must be positive")
	}
	orderID := "ord_" + uuid.NewString()
	doc := g.orderContext(orderID, amount, memo, details)
	hash, err := canonhash.SumHex(doc)
	if err != nil {
		return Order{}, Challenge{}, fmt.Errorf("hash order context: %w", err)
	}
	o := Order{
		OrderID:     orderID,
		Amount:      amount,
		Memo:        memo,
		Context:     doc,
		ContextHash: hash,
		Status:      OrderPending,
		CreatedAt:   g.now().UTC(),
	}
	if err := g.store.CreateOrder(ctx, o); err != nil {
		return Order{}, Challenge{}, err
	}
	return o, g.challenge(o), nil
}

// ChallengeFor rebuilds the payment challenge of an existing order.
func (g *Gate) ChallengeFor(ctx context.Context, orderID string) (Challenge, error) {
	o, err := g.store.GetOrder(ctx, orderID)
	if err != nil {
		return Challenge{}, err
	}
	return g.challenge(o), nil
}

// SubmitProof checks the receipt at receiptAddress against the order and, if
// it verifies, marks the order paid. A proof against an already-paid order
// reports valid with ReasonAlreadyPaid and changes nothing.
func (g *Gate) SubmitProof(ctx context.Context, orderID, receiptAddress string) (VerifyResult, error) {
	o, err := g.store.GetOrder(ctx, orderID)
	if err != nil {
		return VerifyResult{}, err
	}
	if o.Status != OrderPending {
		return VerifyResult{Valid: true, Reason: ReasonAlreadyPaid, ReceiptAddress: o.ReceiptAddress}, nil
	}

	addr, err := solana.PublicKeyFromBase58(receiptAddress)
	if err != nil {
		return VerifyResult{Reason: ReasonBadReceiptAddress}, nil
	}
	rec, err := engine.FetchReceipt(ctx, g.reader, addr)
	if err != nil {
		// An address holding no record, a record of another type, or a
		// record this build cannot decode is the payer's problem, not a
		// server fault.
		if errors.Is(err, ledger.ErrNotFound) ||
			errors.Is(err, state.ErrNotRecord) ||
			errors.Is(err, state.ErrIncompatibleRecordVersion) {
			return VerifyResult{Reason: ReasonReceiptNotFound}, nil
		}
		return VerifyResult{}, err
	}
	if !rec.Merchant.Equals(g.merchant) {
		return VerifyResult{Reason: ReasonMerchantMismatch}, nil
	}
	if hex.EncodeToString(rec.ContextHash[:]) != o.ContextHash {
		return VerifyResult{Reason: ReasonHashMismatch}, nil
	}
	if rec.Amount != o.Amount {
		return VerifyResult{Reason: ReasonAmountMismatch}, nil
	}

	applied, err := g.store.MarkPaid(ctx, orderID, receiptAddress, g.now().UTC())
	if err != nil {
		return VerifyResult{}, err
	}
	if !applied {
		// Lost a race to another proof; the order is paid either way.
		o, err = g.store.GetOrder(ctx, orderID)
		if err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Valid: true, Reason: ReasonAlreadyPaid, ReceiptAddress: o.ReceiptAddress}, nil
	}
	return VerifyResult{Valid: true, ReceiptAddress: receiptAddress}, nil
}

// FindProof scans the ledger for a receipt matching the order's context hash,
// for payers who settled but lost the receipt address. Returns the verify
// result of the first match, or receipt-not-found.
func (g *Gate) FindProof(ctx context.Context, orderID string) (VerifyResult, error) {
	o, err := g.store.GetOrder(ctx, orderID)
	if err != nil {
		return VerifyResult{}, err
	}
	if o.Status != OrderPending {
		return VerifyResult{Valid: true, Reason: ReasonAlreadyPaid, ReceiptAddress: o.ReceiptAddress}, nil
	}
	entries, err := engine.ListReceiptsByMerchant(ctx, g.reader, g.merchant)
	if err != nil {
		return VerifyResult{}, err
	}
	for _, ent := range entries {
		if hex.EncodeToString(ent.Receipt.ContextHash[:]) == o.ContextHash {
			return g.SubmitProof(ctx, orderID, ent.Address.String())
		}
	}
	return VerifyResult{Reason: ReasonReceiptNotFound}, nil
}

// Order returns the order's current state.
func (g *Gate) Order(ctx context.Context, orderID string) (Order, error) {
	return g.store.GetOrder(ctx, orderID)
}

// IsUnlocked reports whether the order's work may be released.
func (g *Gate) IsUnlocked(ctx context.Context, orderID string) (bool, error) {
	o, err := g.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return o.Status == OrderPaid || o.Status == OrderFulfilled, nil
}

// Fulfill records delivery of a paid order. Fulfilling a pending or already
// fulfilled order fails with ErrInvalidOrderState.
func (g *Gate) Fulfill(ctx context.Context, orderID string) (Order, error) {
	applied, err := g.store.MarkFulfilled(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !applied {
		return Order{}, ErrInvalidOrderState
	}
	return g.store.GetOrder(ctx, orderID)
}
