package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"augenpay/pkg/canonhash"
	"augenpay/pkg/derive"
	"augenpay/pkg/ledger"
	"augenpay/pkg/state"
)

// Settle spends amount from the authorization's custody account into the
// merchant's token account, under the caller's delegation. contextData is
// hashed canonically and pinned into the receipt; the raw payload is never
// stored.
//
// Preconditions are checked in a fixed order and the first failure wins:
// authorization paused, authorization expired, delegation revoked, delegation
// expired, per-spend limit, delegation cap, custody balance. On success the
// receipt create, the delegation update and the transfer apply as one
// changeset.
func (e *Engine) Settle(ctx context.Context, caller, delAddr, merchant, merchantTokenAccount solana.PublicKey, amount uint64, contextData any) (solana.PublicKey, state.Receipt, error) {
	unlock := e.lockDelegation(delAddr)
	defer unlock()

	del, err := FetchDelegation(ctx, e.led, delAddr)
	if err != nil {
		return solana.PublicKey{}, state.Receipt{}, err
	}
	if !caller.Equals(del.Agent) {
		return solana.PublicKey{}, state.Receipt{}, fmt.Errorf("%w: only the delegated agent may settle", ErrUnauthorized)
	}
	auth, err := FetchAuthorization(ctx, e.led, del.Authorization)
	if err != nil {
		return solana.PublicKey{}, state.Receipt{}, err
	}

	now := e.led.Now()
	if auth.Paused {
		return solana.PublicKey{}, state.Receipt{}, ErrAuthorizationPaused
	}
	if auth.Expired(now) {
		return solana.PublicKey{}, state.Receipt{}, ErrAuthorizationExpired
	}
	if del.Revoked {
		return solana.PublicKey{}, state.Receipt{}, ErrDelegationRevoked
	}
	if now.Unix() > del.Expiry {
		return solana.PublicKey{}, state.Receipt{}, ErrDelegationExpired
	}
	if amount > auth.PerSpendLimit {
		return solana.PublicKey{}, state.Receipt{}, fmt.Errorf("%w: %d > %d", ErrPerSpendLimitExceeded, amount, auth.PerSpendLimit)
	}
	if amount > del.Headroom() {
		return solana.PublicKey{}, state.Receipt{}, fmt.Errorf("%w: %d spent of %d, %d requested", ErrDelegationLimitExceeded, del.Spent, del.Allowed, amount)
	}
	bal, err := e.led.Balance(ctx, auth.CustodyAccount)
	if err != nil {
		return solana.PublicKey{}, state.Receipt{}, err
	}
	if bal < amount {
		return solana.PublicKey{}, state.Receipt{}, fmt.Errorf("%w: custody has %d, %d requested", ErrInsufficientVaultBalance, bal, amount)
	}

	ctxHash, err := canonhash.Sum(contextData)
	if err != nil {
		return solana.PublicKey{}, state.Receipt{}, fmt.Errorf("context hash: %w", err)
	}

	// The receipt address is seeded by the pre-increment redemption count, so
	// the Nth payment under a delegation always lands at the same address.
	recAddr, err := derive.Receipt(e.program, merchant, delAddr, del.RedemptionCount)
	if err != nil {
		return solana.PublicKey{}, state.Receipt{}, err
	}
	receipt := state.Receipt{
		Delegation:  delAddr,
		Merchant:    merchant,
		ContextHash: ctxHash,
		Amount:      amount,
		Timestamp:   now.Unix(),
		Bump:        recAddr.Bump,
	}
	recData, err := receipt.Marshal()
	if err != nil {
		return solana.PublicKey{}, state.Receipt{}, err
	}

	del.Spent += amount
	del.RedemptionCount++
	delData, err := del.Marshal()
	if err != nil {
		return solana.PublicKey{}, state.Receipt{}, err
	}

	err = e.led.Submit(ctx, ledger.Changeset{
		Creates: []ledger.RecordWrite{{Address: recAddr.Address, Data: recData}},
		Updates: []ledger.RecordWrite{{Address: delAddr, Data: delData}},
		Transfers: []ledger.TokenTransfer{{
			From:   auth.CustodyAccount,
			To:     merchantTokenAccount,
			Amount: amount,
		}},
	})
	if err != nil {
		return solana.PublicKey{}, state.Receipt{}, mapBalanceErr(fmt.Errorf("settle: %w", err), ErrInsufficientVaultBalance)
	}
	return recAddr.Address, receipt, nil
}
