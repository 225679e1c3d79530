// Package engine implements the protocol's state transitions: the
// authorization and delegation lifecycles and the settlement path that spends
// against them. The engine validates preconditions in a fixed order, then
// submits one atomic changeset to the ledger, so no partial effect is ever
// observable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"augenpay/pkg/ledger"
	"augenpay/pkg/state"
)

// Engine executes protocol operations against a ledger backend. The ledger
// serializes individual submits; the engine adds per-delegation mutual
// exclusion around settlement's check-and-effect sequence, which a
// non-sequencing backend needs to keep first-fails-wins true.
type Engine struct {
	program solana.PublicKey
	led     ledger.Ledger

	mu    sync.Mutex
	locks map[solana.PublicKey]*refLock
}

func New(led ledger.Ledger, program solana.PublicKey) *Engine {
	return &Engine{
		program: program,
		led:     led,
		locks:   make(map[solana.PublicKey]*refLock),
	}
}

// Program returns the protocol program id derivations are scoped to.
func (e *Engine) Program() solana.PublicKey { return e.program }

// Ledger exposes the backend's read side for callers that only verify.
func (e *Engine) Ledger() ledger.Ledger { return e.led }

type refLock struct {
	sync.Mutex
	refs int
}

// lockDelegation serializes settlement per delegation address. Entries are
// refcounted and dropped on last release; the table holds in-flight
// settlements only, not every delegation ever seen.
func (e *Engine) lockDelegation(addr solana.PublicKey) (unlock func()) {
	e.mu.Lock()
	l, ok := e.locks[addr]
	if !ok {
		l = &refLock{}
		e.locks[addr] = l
	}
	l.refs++
	e.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, addr)
		}
		e.mu.Unlock()
	}
}

// FetchAuthorization reads and decodes the authorization at addr.
func FetchAuthorization(ctx context.Context, r ledger.Reader, addr solana.PublicKey) (state.Authorization, error) {
	data, err := r.GetRecord(ctx, addr)
	if err != nil {
		return state.Authorization{}, err
	}
	a, err := state.UnmarshalAuthorization(data)
	if err != nil {
		return state.Authorization{}, fmt.Errorf("authorization %s: %w", addr, err)
	}
	return a, nil
}

// FetchDelegation reads and decodes the delegation at addr. A legacy-layout
// record surfaces state.ErrIncompatibleRecordVersion, not not-found.
func FetchDelegation(ctx context.Context, r ledger.Reader, addr solana.PublicKey) (state.Delegation, error) {
	data, err := r.GetRecord(ctx, addr)
	if err != nil {
		return state.Delegation{}, err
	}
	d, err := state.UnmarshalDelegation(data)
	if err != nil {
		return state.Delegation{}, fmt.Errorf("delegation %s: %w", addr, err)
	}
	return d, nil
}

// FetchReceipt reads and decodes the receipt at addr.
func FetchReceipt(ctx context.Context, r ledger.Reader, addr solana.PublicKey) (state.Receipt, error) {
	data, err := r.GetRecord(ctx, addr)
	if err != nil {
		return state.Receipt{}, err
	}
	rec, err := state.UnmarshalReceipt(data)
	if err != nil {
		return state.Receipt{}, fmt.Errorf("receipt %s: %w", addr, err)
	}
	return rec, nil
}

// ReceiptEntry is one decoded receipt found by a scan.
type ReceiptEntry struct {
	Address solana.PublicKey
	Receipt state.Receipt
}

// ListReceiptsByMerchant scans all receipts paid to merchant, skipping
// records that fail to decode (a scan is discovery, not verification).
func ListReceiptsByMerchant(ctx context.Context, r ledger.Reader, merchant solana.PublicKey) ([]ReceiptEntry, error) {
	size, filters := state.ReceiptsByMerchant(merchant)
	entries, err := r.ScanRecords(ctx, size, filters)
	if err != nil {
		return nil, err
	}
	out := make([]ReceiptEntry, 0, len(entries))
	for _, ent := range entries {
		rec, err := state.UnmarshalReceipt(ent.Data)
		if err != nil {
			continue
		}
		out = append(out, ReceiptEntry{Address: ent.Address, Receipt: rec})
	}
	return out, nil
}

// DelegationEntry is one decoded delegation found by a scan.
type DelegationEntry struct {
	Address    solana.PublicKey
	Delegation state.Delegation
}

// ListDelegationsByAuthorization scans all delegations issued under one
// authorization. Legacy-layout records are skipped.
func ListDelegationsByAuthorization(ctx context.Context, r ledger.Reader, authorization solana.PublicKey) ([]DelegationEntry, error) {
	size, filters := state.DelegationsByAuthorization(authorization)
	entries, err := r.ScanRecords(ctx, size, filters)
	if err != nil {
		return nil, err
	}
	out := make([]DelegationEntry, 0, len(entries))
	for _, ent := range entries {
		d, err := state.UnmarshalDelegation(ent.Data)
		if err != nil {
			continue
		}
		out = append(out, DelegationEntry{Address: ent.Address, Delegation: d})
	}
	return out, nil
}

// AuthorizationEntry is one decoded authorization found by a scan.
type AuthorizationEntry struct {
	Address       solana.PublicKey
	Authorization state.Authorization
}

// ListAuthorizationsByOwner scans all authorizations created by owner.
func ListAuthorizationsByOwner(ctx context.Context, r ledger.Reader, owner solana.PublicKey) ([]AuthorizationEntry, error) {
	size, filters := state.AuthorizationsByOwner(owner)
	entries, err := r.ScanRecords(ctx, size, filters)
	if err != nil {
		return nil, err
	}
	out := make([]AuthorizationEntry, 0, len(entries))
	for _, ent := range entries {
		a, err := state.UnmarshalAuthorization(ent.Data)
		if err != nil {
			continue
		}
		out = append(out, AuthorizationEntry{Address: ent.Address, Authorization: a})
	}
	return out, nil
}

// mapBalanceErr rewrites the ledger's generic balance error into the
// role-specific one the caller's taxonomy distinguishes.
func mapBalanceErr(err, as error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %v", as, err)
	}
	return err
}
