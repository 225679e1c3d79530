package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"augenpay/pkg/derive"
	"augenpay/pkg/ledger"
	"augenpay/pkg/state"
)

// CreateDelegation issues a spending grant to one agent against the caller's
// authorization. The custody balance must currently cover the full allowance;
// this is a conservative gate at creation time only — funds are not reserved,
// and several delegations may jointly overcommit the custody account.
// First-settled-wins at execution time.
func (e *Engine) CreateDelegation(ctx context.Context, caller, authAddr, agent solana.PublicKey, allowed uint64, expiry time.Time) (solana.PublicKey, state.Delegation, error) {
	auth, err := FetchAuthorization(ctx, e.led, authAddr)
	if err != nil {
		return solana.PublicKey{}, state.Delegation{}, err
	}
	if !caller.Equals(auth.Owner) {
		return solana.PublicKey{}, state.Delegation{}, fmt.Errorf("%w: only the owner may delegate", ErrUnauthorized)
	}
	bal, err := e.led.Balance(ctx, auth.CustodyAccount)
	if err != nil {
		return solana.PublicKey{}, state.Delegation{}, err
	}
	if bal < allowed {
		return solana.PublicKey{}, state.Delegation{}, fmt.Errorf("%w: custody has %d, allowance is %d", ErrInsufficientVaultBalance, bal, allowed)
	}

	addr, err := derive.Delegation(e.program, authAddr, agent)
	if err != nil {
		return solana.PublicKey{}, state.Delegation{}, err
	}
	del := state.Delegation{
		Authorization: authAddr,
		Agent:         agent,
		Allowed:       allowed,
		Expiry:        expiry.Unix(),
	}
	data, err := del.Marshal()
	if err != nil {
		return solana.PublicKey{}, state.Delegation{}, err
	}
	err = e.led.Submit(ctx, ledger.Changeset{
		Creates: []ledger.RecordWrite{{Address: addr.Address, Data: data}},
	})
	if err != nil {
		return solana.PublicKey{}, state.Delegation{}, fmt.Errorf("create delegation: %w", err)
	}
	return addr.Address, del, nil
}

// ModifyDelegation replaces the allowance and expiry of a live delegation.
// Spent is never reset; an allowance below the spent amount is legal and
// simply leaves zero headroom.
func (e *Engine) ModifyDelegation(ctx context.Context, caller, delAddr solana.PublicKey, allowed uint64, expiry time.Time) error {
	del, auth, err := e.fetchDelegationWithOwner(ctx, delAddr)
	if err != nil {
		return err
	}
	if !caller.Equals(auth.Owner) {
		return fmt.Errorf("%w: only the owner may modify a delegation", ErrUnauthorized)
	}
	if del.Revoked {
		return fmt.Errorf("%w: revoked delegations cannot be modified", ErrDelegationRevoked)
	}
	del.Allowed = allowed
	del.Expiry = expiry.Unix()
	data, err := del.Marshal()
	if err != nil {
		return err
	}
	return e.led.Submit(ctx, ledger.Changeset{
		Updates: []ledger.RecordWrite{{Address: delAddr, Data: data}},
	})
}

// RevokeDelegation permanently disables a delegation. One-way.
func (e *Engine) RevokeDelegation(ctx context.Context, caller, delAddr solana.PublicKey) error {
	del, auth, err := e.fetchDelegationWithOwner(ctx, delAddr)
	if err != nil {
		return err
	}
	if !caller.Equals(auth.Owner) {
		return fmt.Errorf("%w: only the owner may revoke a delegation", ErrUnauthorized)
	}
	if del.Revoked {
		return nil
	}
	del.Revoked = true
	data, err := del.Marshal()
	if err != nil {
		return err
	}
	return e.led.Submit(ctx, ledger.Changeset{
		Updates: []ledger.RecordWrite{{Address: delAddr, Data: data}},
	})
}

func (e *Engine) fetchDelegationWithOwner(ctx context.Context, delAddr solana.PublicKey) (state.Delegation, state.Authorization, error) {
	del, err := FetchDelegation(ctx, e.led, delAddr)
	if err != nil {
		return state.Delegation{}, state.Authorization{}, err
	}
	auth, err := FetchAuthorization(ctx, e.led, del.Authorization)
	if err != nil {
		return state.Delegation{}, state.Authorization{}, err
	}
	return del, auth, nil
}
