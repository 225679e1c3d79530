// Package ledger abstracts the account-based ledger the protocol runs on:
// read record bytes at an address, scan records by byte-offset filters, and
// submit an atomic state transition. No specific RPC shape is mandated; the
// in-memory backend here serializes everything (the property a real chain
// provides by sequencing), and read-only backends cover the verification side.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"augenpay/pkg/state"
)

var (
	// ErrNotFound: the address holds no record.
	ErrNotFound = errors.New("no record at address")

	// ErrAlreadyExists: create collided with an allocated address.
	ErrAlreadyExists = errors.New("record already exists at address")

	// ErrNoTokenAccount: a transfer names an unallocated token account.
	ErrNoTokenAccount = errors.New("no token account at address")

	// ErrInsufficientBalance: a transfer's source cannot cover the amount.
	// Callers map this onto the vault/source distinction they know about.
	ErrInsufficientBalance = errors.New("insufficient token balance")
)

// Entry is one record returned by a scan.
type Entry struct {
	Address solana.PublicKey
	Data    []byte
}

// Reader is the verification-side capability: enough to fetch a receipt and
// to discover records by the fixed byte offsets of pkg/state.
type Reader interface {
	// GetRecord returns the current bytes at addr, or ErrNotFound.
	GetRecord(ctx context.Context, addr solana.PublicKey) ([]byte, error)

	// ScanRecords returns every record of exactly dataSize bytes whose bytes
	// match all offset filters.
	ScanRecords(ctx context.Context, dataSize uint64, filters []state.Filter) ([]Entry, error)
}

// RecordWrite places data at an address.
type RecordWrite struct {
	Address solana.PublicKey
	Data    []byte
}

// TokenTransfer moves amount between two token accounts.
type TokenTransfer struct {
	From   solana.PublicKey
	To     solana.PublicKey
	Amount uint64
}

// Changeset is one atomic state transition: either every part applies or none
// does. Creates fail the whole set with ErrAlreadyExists on collision, updates
// with ErrNotFound, transfers with ErrInsufficientBalance.
type Changeset struct {
	Creates             []RecordWrite
	Updates             []RecordWrite
	CreateTokenAccounts []solana.PublicKey
	Transfers           []TokenTransfer
}

// Ledger is the full capability the lifecycle managers and settlement engine
// need. Submit is atomic and, on the in-memory backend, serialized.
type Ledger interface {
	Reader

	// Balance returns the token balance of account, or ErrNoTokenAccount.
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// Submit applies the changeset atomically.
	Submit(ctx context.Context, cs Changeset) error

	// Now is ledger time; settlement timestamps and expiry checks use it.
	Now() time.Time
}
