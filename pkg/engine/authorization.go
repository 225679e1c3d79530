package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"augenpay/pkg/derive"
	"augenpay/pkg/ledger"
	"augenpay/pkg/state"
)

// CreateAuthorization allocates an owner's payment envelope and its custody
// token account at their derived addresses. Reusing a nonce fails with
// ledger.ErrAlreadyExists rather than touching the existing record.
func (e *Engine) CreateAuthorization(ctx context.Context, owner solana.PublicKey, nonce uint64, asset solana.PublicKey, perSpendLimit uint64, expiry time.Time) (solana.PublicKey, state.Authorization, error) {
	addr, err := derive.Authorization(e.program, owner, nonce)
	if err != nil {
		return solana.PublicKey{}, state.Authorization{}, err
	}
	custody, err := derive.Custody(e.program, addr.Address)
	if err != nil {
		return solana.PublicKey{}, state.Authorization{}, err
	}

	auth := state.Authorization{
		Owner:          owner,
		Nonce:          nonce,
		Asset:          asset,
		CustodyAccount: custody.Address,
		PerSpendLimit:  perSpendLimit,
		Expiry:         expiry.Unix(),
		Bump:           addr.Bump,
	}
	data, err := auth.Marshal()
	if err != nil {
		return solana.PublicKey{}, state.Authorization{}, err
	}
	err = e.led.Submit(ctx, ledger.Changeset{
		Creates:             []ledger.RecordWrite{{Address: addr.Address, Data: data}},
		CreateTokenAccounts: []solana.PublicKey{custody.Address},
	})
	if err != nil {
		return solana.PublicKey{}, state.Authorization{}, fmt.Errorf("create authorization: %w", err)
	}
	return addr.Address, auth, nil
}

// Deposit moves amount from source into the custody account and bumps the
// diagnostic deposit counter. Any caller may fund an authorization; limits
// are unaffected.
func (e *Engine) Deposit(ctx context.Context, authAddr, source solana.PublicKey, amount uint64) error {
	auth, err := FetchAuthorization(ctx, e.led, authAddr)
	if err != nil {
		return err
	}
	bal, err := e.led.Balance(ctx, source)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: source %s has %d, deposit needs %d", ErrInsufficientSourceBalance, source, bal, amount)
	}

	auth.TotalDeposited += amount
	data, err := auth.Marshal()
	if err != nil {
		return err
	}
	err = e.led.Submit(ctx, ledger.Changeset{
		Updates:   []ledger.RecordWrite{{Address: authAddr, Data: data}},
		Transfers: []ledger.TokenTransfer{{From: source, To: auth.CustodyAccount, Amount: amount}},
	})
	if err != nil {
		return mapBalanceErr(err, ErrInsufficientSourceBalance)
	}
	return nil
}

// Withdraw moves amount from custody to destination. Owner only. Pause state
// is deliberately not checked: the owner can always recover funds.
func (e *Engine) Withdraw(ctx context.Context, caller, authAddr, destination solana.PublicKey, amount uint64) error {
	auth, err := FetchAuthorization(ctx, e.led, authAddr)
	if err != nil {
		return err
	}
	if !caller.Equals(auth.Owner) {
		return fmt.Errorf("%w: only the owner may withdraw", ErrUnauthorized)
	}
	bal, err := e.led.Balance(ctx, auth.CustodyAccount)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: custody has %d, withdrawal needs %d", ErrInsufficientVaultBalance, bal, amount)
	}
	err = e.led.Submit(ctx, ledger.Changeset{
		Transfers: []ledger.TokenTransfer{{From: auth.CustodyAccount, To: destination, Amount: amount}},
	})
	if err != nil {
		return mapBalanceErr(err, ErrInsufficientVaultBalance)
	}
	return nil
}

// Pause stops all settlement against the authorization's delegations.
// Settlements already past their validation check are unaffected.
func (e *Engine) Pause(ctx context.Context, caller, authAddr solana.PublicKey) error {
	return e.setPaused(ctx, caller, authAddr, true)
}

// Resume lifts a pause.
func (e *Engine) Resume(ctx context.Context, caller, authAddr solana.PublicKey) error {
	return e.setPaused(ctx, caller, authAddr, false)
}

func (e *Engine) setPaused(ctx context.Context, caller, authAddr solana.PublicKey, paused bool) error {
	auth, err := FetchAuthorization(ctx, e.led, authAddr)
	if err != nil {
		return err
	}
	if !caller.Equals(auth.Owner) {
		return fmt.Errorf("%w: only the owner may pause or resume", ErrUnauthorized)
	}
	if auth.Paused == paused {
		return nil
	}
	auth.Paused = paused
	data, err := auth.Marshal()
	if err != nil {
		return err
	}
	return e.led.Submit(ctx, ledger.Changeset{
		Updates: []ledger.RecordWrite{{Address: authAddr, Data: data}},
	})
}

// IsAlreadyExists reports a create collision, which callers distinguish from
// other failures because the remedy is picking a fresh nonce.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ledger.ErrAlreadyExists)
}
