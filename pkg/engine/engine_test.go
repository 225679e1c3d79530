package engine

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"augenpay/pkg/derive"
	"augenpay/pkg/ledger"
	"augenpay/pkg/state"
)

func pubkeyFromSeed(t *testing.T, fill byte) solana.PublicKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = fill
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return solana.PublicKeyFromBytes(priv.Public().(ed25519.PublicKey))
}

type fixture struct {
	eng      *Engine
	led      *ledger.Memory
	now      time.Time
	program  solana.PublicKey
	owner    solana.PublicKey
	agent    solana.PublicKey
	merchant solana.PublicKey

	merchantTokens solana.PublicKey
	authAddr       solana.PublicKey
	auth           state.Authorization
	delAddr        solana.PublicKey
}

// newFixture builds an authorization with a funded custody account and one
// delegation: per-spend limit 100, allowance 200, custody balance 1000,
// everything expiring a year out.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		led:      ledger.NewMemory(),
		now:      time.Unix(1_700_000_000, 0),
		program:  pubkeyFromSeed(t, 0x01),
		owner:    pubkeyFromSeed(t, 0x02),
		agent:    pubkeyFromSeed(t, 0x03),
		merchant: pubkeyFromSeed(t, 0x04),
	}
	f.led.NowFunc = func() time.Time { return f.now }
	f.eng = New(f.led, f.program)
	f.merchantTokens = pubkeyFromSeed(t, 0x05)
	f.led.Mint(f.merchantTokens, 0)

	ctx := context.Background()
	expiry := f.now.Add(365 * 24 * time.Hour)
	addr, auth, err := f.eng.CreateAuthorization(ctx, f.owner, 7, pubkeyFromSeed(t, 0x06), 100, expiry)
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}
	f.authAddr, f.auth = addr, auth

	source := pubkeyFromSeed(t, 0x07)
	f.led.Mint(source, 1000)
	if err := f.eng.Deposit(ctx, f.authAddr, source, 1000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	delAddr, _, err := f.eng.CreateDelegation(ctx, f.owner, f.authAddr, f.agent, 200, expiry)
	if err != nil {
		t.Fatalf("CreateDelegation: %v", err)
	}
	f.delAddr = delAddr
	return f
}

func (f *fixture) settle(ctx context.Context, amount uint64) (solana.PublicKey, state.Receipt, error) {
	return f.eng.Settle(ctx, f.agent, f.delAddr, f.merchant, f.merchantTokens, amount, map[string]any{"order": "ord_1"})
}

func (f *fixture) custodyBalance(t *testing.T) uint64 {
	t.Helper()
	bal, err := f.led.Balance(context.Background(), f.auth.CustodyAccount)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return bal
}

func TestCreateAuthorizationNonceReuse(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.eng.CreateAuthorization(context.Background(), f.owner, 7, pubkeyFromSeed(t, 0x06), 50, f.now.Add(time.Hour))
	if !IsAlreadyExists(err) {
		t.Fatalf("nonce reuse: got %v, want already-exists", err)
	}
}

func TestSettleHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recAddr, rec, err := f.settle(ctx, 60)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	want, err := derive.Receipt(f.program, f.merchant, f.delAddr, 0)
	if err != nil {
		t.Fatalf("derive.Receipt: %v", err)
	}
	if !recAddr.Equals(want.Address) {
		t.Fatalf("receipt address %s, want %s", recAddr, want.Address)
	}
	if rec.Amount != 60 || rec.Timestamp != f.now.Unix() {
		t.Fatalf("receipt = %+v", rec)
	}
	if got := f.custodyBalance(t); got != 940 {
		t.Fatalf("custody balance = %d, want 940", got)
	}
	mbal, _ := f.led.Balance(ctx, f.merchantTokens)
	if mbal != 60 {
		t.Fatalf("merchant balance = %d, want 60", mbal)
	}
	del, err := FetchDelegation(ctx, f.led, f.delAddr)
	if err != nil {
		t.Fatalf("FetchDelegation: %v", err)
	}
	if del.Spent != 60 || del.RedemptionCount != 1 {
		t.Fatalf("delegation = %+v", del)
	}
}

func TestSettlePerSpendLimit(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.settle(context.Background(), 150)
	if !errors.Is(err, ErrPerSpendLimitExceeded) {
		t.Fatalf("got %v, want per-spend limit error", err)
	}
	if got := f.custodyBalance(t); got != 1000 {
		t.Fatalf("failed settle moved funds: custody = %d", got)
	}
}

func TestSettleDelegationCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := f.settle(ctx, 60); err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
	}
	_, _, err := f.settle(ctx, 60)
	if !errors.Is(err, ErrDelegationLimitExceeded) {
		t.Fatalf("got %v, want delegation cap error", err)
	}
	del, err := FetchDelegation(ctx, f.led, f.delAddr)
	if err != nil {
		t.Fatalf("FetchDelegation: %v", err)
	}
	if del.Spent != 180 || del.RedemptionCount != 3 {
		t.Fatalf("failed settle mutated delegation: %+v", del)
	}
	if _, _, err := f.settle(ctx, 20); err != nil {
		t.Fatalf("exact headroom settle: %v", err)
	}
}

func TestSettleCallerMustBeAgent(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.eng.Settle(context.Background(), f.owner, f.delAddr, f.merchant, f.merchantTokens, 10, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

func TestPauseBlocksSettlementResumeLifts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.eng.Pause(ctx, f.owner, f.authAddr); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, _, err := f.settle(ctx, 10); !errors.Is(err, ErrAuthorizationPaused) {
		t.Fatalf("got %v, want paused", err)
	}
	if err := f.eng.Resume(ctx, f.owner, f.authAddr); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, _, err := f.settle(ctx, 10); err != nil {
		t.Fatalf("settle after resume: %v", err)
	}
}

// Paused is checked before every limit, so an over-limit amount against a
// paused authorization still reports paused.
func TestSettlePreconditionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.eng.Pause(ctx, f.owner, f.authAddr); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	_, _, err := f.settle(ctx, 150)
	if !errors.Is(err, ErrAuthorizationPaused) {
		t.Fatalf("got %v, want paused to win over per-spend limit", err)
	}

	if err := f.eng.RevokeDelegation(ctx, f.owner, f.delAddr); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	_, _, err = f.settle(ctx, 150)
	if !errors.Is(err, ErrAuthorizationPaused) {
		t.Fatalf("got %v, want paused to win over revoked", err)
	}
	if err := f.eng.Resume(ctx, f.owner, f.authAddr); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	_, _, err = f.settle(ctx, 150)
	if !errors.Is(err, ErrDelegationRevoked) {
		t.Fatalf("got %v, want revoked to win over per-spend limit", err)
	}
}

func TestSettleExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(366 * 24 * time.Hour)
	_, _, err := f.settle(ctx, 10)
	if !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("got %v, want authorization expired", err)
	}
}

func TestSettleDelegationExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.eng.ModifyDelegation(ctx, f.owner, f.delAddr, 200, f.now.Add(time.Hour)); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	f.now = f.now.Add(2 * time.Hour)
	_, _, err := f.settle(ctx, 10)
	if !errors.Is(err, ErrDelegationExpired) {
		t.Fatalf("got %v, want delegation expired", err)
	}
}

func TestReceiptAddressesFollowRedemptionCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := uint64(0); i < 4; i++ {
		recAddr, _, err := f.settle(ctx, 50)
		if err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
		want, err := derive.Receipt(f.program, f.merchant, f.delAddr, i)
		if err != nil {
			t.Fatalf("derive.Receipt: %v", err)
		}
		if !recAddr.Equals(want.Address) {
			t.Fatalf("receipt %d at %s, want %s", i, recAddr, want.Address)
		}
	}
}

func TestSettleVaultBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dest := pubkeyFromSeed(t, 0x08)
	f.led.Mint(dest, 0)
	if err := f.eng.Withdraw(ctx, f.owner, f.authAddr, dest, 950); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	_, _, err := f.settle(ctx, 60)
	if !errors.Is(err, ErrInsufficientVaultBalance) {
		t.Fatalf("got %v, want vault balance error", err)
	}
}

func TestWithdrawIgnoresPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dest := pubkeyFromSeed(t, 0x08)
	f.led.Mint(dest, 0)
	if err := f.eng.Pause(ctx, f.owner, f.authAddr); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.eng.Withdraw(ctx, f.owner, f.authAddr, dest, 400); err != nil {
		t.Fatalf("Withdraw while paused: %v", err)
	}
	bal, _ := f.led.Balance(ctx, dest)
	if bal != 400 {
		t.Fatalf("destination balance = %d, want 400", bal)
	}
}

func TestWithdrawOwnerOnly(t *testing.T) {
	f := newFixture(t)
	err := f.eng.Withdraw(context.Background(), f.agent, f.authAddr, pubkeyFromSeed(t, 0x08), 10)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

func TestDepositInsufficientSource(t *testing.T) {
	f := newFixture(t)
	source := pubkeyFromSeed(t, 0x09)
	f.led.Mint(source, 5)
	err := f.eng.Deposit(context.Background(), f.authAddr, source, 10)
	if !errors.Is(err, ErrInsufficientSourceBalance) {
		t.Fatalf("got %v, want source balance error", err)
	}
}

func TestCreateDelegationChecksCustodyBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := pubkeyFromSeed(t, 0x0a)
	_, _, err := f.eng.CreateDelegation(ctx, f.owner, f.authAddr, other, 5000, f.now.Add(time.Hour))
	if !errors.Is(err, ErrInsufficientVaultBalance) {
		t.Fatalf("got %v, want vault balance error", err)
	}

	// No reservation: two grants may jointly exceed the custody balance as
	// long as each alone fits.
	if _, _, err := f.eng.CreateDelegation(ctx, f.owner, f.authAddr, other, 900, f.now.Add(time.Hour)); err != nil {
		t.Fatalf("second delegation: %v", err)
	}
}

func TestCreateDelegationOwnerOnly(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.eng.CreateDelegation(context.Background(), f.agent, f.authAddr, f.agent, 10, f.now.Add(time.Hour))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

func TestModifyDelegationBelowSpent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.settle(ctx, 80); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := f.eng.ModifyDelegation(ctx, f.owner, f.delAddr, 50, f.now.Add(time.Hour)); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	del, err := FetchDelegation(ctx, f.led, f.delAddr)
	if err != nil {
		t.Fatalf("FetchDelegation: %v", err)
	}
	if del.Spent != 80 {
		t.Fatalf("modify reset spent: %+v", del)
	}
	if del.Headroom() != 0 {
		t.Fatalf("headroom = %d, want 0", del.Headroom())
	}
	if _, _, err := f.settle(ctx, 1); !errors.Is(err, ErrDelegationLimitExceeded) {
		t.Fatalf("got %v, want delegation cap error", err)
	}
}

func TestModifyRevokedDelegation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.eng.RevokeDelegation(ctx, f.owner, f.delAddr); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	err := f.eng.ModifyDelegation(ctx, f.owner, f.delAddr, 500, f.now.Add(time.Hour))
	if !errors.Is(err, ErrDelegationRevoked) {
		t.Fatalf("got %v, want revoked", err)
	}
	// Revoking twice is a no-op, not an error.
	if err := f.eng.RevokeDelegation(ctx, f.owner, f.delAddr); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestListReceiptsByMerchant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := f.settle(ctx, 40); err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
	}
	entries, err := ListReceiptsByMerchant(ctx, f.led, f.merchant)
	if err != nil {
		t.Fatalf("ListReceiptsByMerchant: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d receipts, want 3", len(entries))
	}
	for _, ent := range entries {
		if !ent.Receipt.Merchant.Equals(f.merchant) {
			t.Fatalf("scan returned foreign receipt %+v", ent.Receipt)
		}
	}
	none, err := ListReceiptsByMerchant(ctx, f.led, pubkeyFromSeed(t, 0x0b))
	if err != nil {
		t.Fatalf("ListReceiptsByMerchant: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("got %d receipts for unknown merchant, want 0", len(none))
	}
}

func TestListDelegationsAndAuthorizations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dels, err := ListDelegationsByAuthorization(ctx, f.led, f.authAddr)
	if err != nil {
		t.Fatalf("ListDelegationsByAuthorization: %v", err)
	}
	if len(dels) != 1 || !dels[0].Address.Equals(f.delAddr) {
		t.Fatalf("delegation scan = %+v", dels)
	}
	if !dels[0].Delegation.Agent.Equals(f.agent) {
		t.Fatalf("scanned delegation agent = %s", dels[0].Delegation.Agent)
	}

	auths, err := ListAuthorizationsByOwner(ctx, f.led, f.owner)
	if err != nil {
		t.Fatalf("ListAuthorizationsByOwner: %v", err)
	}
	if len(auths) != 1 || !auths[0].Address.Equals(f.authAddr) {
		t.Fatalf("authorization scan = %+v", auths)
	}

	other, err := ListAuthorizationsByOwner(ctx, f.led, pubkeyFromSeed(t, 0x0c))
	if err != nil {
		t.Fatalf("ListAuthorizationsByOwner: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("got %d authorizations for unknown owner, want 0", len(other))
	}
}

func TestConcurrentSettlementsDrainLockTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.settle(ctx, 50); err != nil {
				t.Errorf("Settle: %v", err)
			}
		}()
	}
	wg.Wait()

	del, err := FetchDelegation(ctx, f.led, f.delAddr)
	if err != nil {
		t.Fatalf("FetchDelegation: %v", err)
	}
	if del.Spent != 200 {
		t.Fatalf("spent = %d, want 200", del.Spent)
	}

	f.eng.mu.Lock()
	held := len(f.eng.locks)
	f.eng.mu.Unlock()
	if held != 0 {
		t.Fatalf("lock table holds %d entries after settlement, want 0", held)
	}
}
