package main

import (
	"context"
	"crypto/ed25519"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"augenpay/pkg/engine"
	"augenpay/pkg/gatesdk"
	"augenpay/pkg/ledger"
	"augenpay/services/gate/internal/gate"
	"augenpay/services/gate/internal/store"
)

func testKey(t *testing.T, fill byte) solana.PublicKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = fill
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return solana.PublicKeyFromBytes(priv.Public().(ed25519.PublicKey))
}

// End-to-end over HTTP: create an order through the SDK, settle it on the
// shared in-memory ledger, prove payment, fulfill.
func TestServerOrderLifecycle(t *testing.T) {
	led := ledger.NewMemory()
	now := time.Unix(1_700_000_000, 0)
	led.NowFunc = func() time.Time { return now }
	eng := engine.New(led, testKey(t, 0x50))
	merchant := testKey(t, 0x51)
	merchantTokens := testKey(t, 0x52)
	led.Mint(merchantTokens, 0)

	ctx := context.Background()
	owner := testKey(t, 0x53)
	agent := testKey(t, 0x54)
	expiry := now.Add(time.Hour)
	authAddr, _, err := eng.CreateAuthorization(ctx, owner, 1, testKey(t, 0x55), 500, expiry)
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}
	source := testKey(t, 0x56)
	led.Mint(source, 500)
	if err := eng.Deposit(ctx, authAddr, source, 500); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	delAddr, _, err := eng.CreateDelegation(ctx, owner, authAddr, agent, 500, expiry)
	if err != nil {
		t.Fatalf("CreateDelegation: %v", err)
	}

	g := gate.New(merchant, merchantTokens, led, store.NewMemory())
	srv := httptest.NewServer(newRouter(g, zap.NewNop()))
	defer srv.Close()
	c := gatesdk.New(srv.URL)

	created, err := c.CreateOrder(ctx, 150, "compute time", map[string]any{"job": "batch-42"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if created.Order.Status != "pending" {
		t.Fatalf("new order status = %q", created.Order.Status)
	}
	if created.Challenge.Context["job"] != "batch-42" {
		t.Fatalf("challenge context = %+v", created.Challenge.Context)
	}

	// Pay into the account the challenge names rather than anything known
	// out of band.
	dest, err := solana.PublicKeyFromBase58(created.Challenge.ReceivingAccount)
	if err != nil {
		t.Fatalf("receiving account %q: %v", created.Challenge.ReceivingAccount, err)
	}
	if !dest.Equals(merchantTokens) {
		t.Fatalf("receiving account %s, want %s", dest, merchantTokens)
	}
	recAddr, _, err := eng.Settle(ctx, agent, delAddr, merchant, dest, created.Challenge.Amount, created.Challenge.Context)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	res, err := c.SubmitProof(ctx, created.Order.OrderID, recAddr.String())
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	if !res.Valid {
		t.Fatalf("proof rejected: %+v", res)
	}

	got, err := c.GetOrder(ctx, created.Order.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if !got.Unlocked || got.Order.Status != "paid" {
		t.Fatalf("order after proof = %+v", got)
	}

	ful, err := c.Fulfill(ctx, created.Order.OrderID)
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if ful.Order.Status != "fulfilled" {
		t.Fatalf("order after fulfill = %+v", ful)
	}

	if _, err := c.Fulfill(ctx, created.Order.OrderID); err == nil {
		t.Fatalf("second fulfill succeeded")
	}
	if _, err := c.GetOrder(ctx, "ord_missing"); err == nil {
		t.Fatalf("missing order lookup succeeded")
	}
}
