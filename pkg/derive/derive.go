// Package derive computes the deterministic, keyless addresses the protocol
// stores its records at. An address is a program-derived address: a point
// guaranteed off the ed25519 curve, reachable from a typed seed tuple plus a
// validity adjustment byte (bump), so only protocol logic — never a private
// key — can own the record.
package derive

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed domain tags. Each record family derives under its own tag so tuples
// from different families can never collide.
const (
	TagAuthorization = "authorization"
	TagReceipt       = "receipt"
	TagDelegation    = "delegation"
	TagCustody       = "custody"
)

// ErrDerivationExhausted is returned when no bump byte yields a valid
// off-curve address for the seed tuple. Callers must surface it, not retry
// with mutated seeds: a mutated tuple is a different address than the one
// every other party will reconstruct.
var ErrDerivationExhausted = errors.New("address derivation exhausted bump search space")

// Result is a derived address plus the bump that validated it. The bump is
// stored alongside the record so on-ledger checks can re-create the address
// without searching.
type Result struct {
	Address solana.PublicKey
	Bump    uint8
}

// Authorization derives the address of an owner's authorization record from
// the owner identity and a caller-chosen nonce. One owner holds multiple
// independent authorizations by varying the nonce.
func Authorization(program, owner solana.PublicKey, nonce uint64) (Result, error) {
	return find(program, [][]byte{
		[]byte(TagAuthorization),
		owner.Bytes(),
		uint64LE(nonce),
	})
}

// Receipt derives the address of the n-th receipt paid to merchant under
// delegation. redemptionCount is the delegation's counter value before the
// settlement increments it; both the settler and any later verifier know it,
// and it never repeats for a (merchant, delegation) pair — which is why the
// seed is the counter and not a timestamp or random salt.
func Receipt(program, merchant, delegation solana.PublicKey, redemptionCount uint64) (Result, error) {
	return find(program, [][]byte{
		[]byte(TagReceipt),
		merchant.Bytes(),
		delegation.Bytes(),
		uint64LE(redemptionCount),
	})
}

// Delegation derives the address of the grant one authorization issues to one
// agent. The tuple carries no nonce: an (authorization, agent) pair holds at
// most one delegation, and the owner modifies it rather than stacking grants.
func Delegation(program, authorization, agent solana.PublicKey) (Result, error) {
	return find(program, [][]byte{
		[]byte(TagDelegation),
		authorization.Bytes(),
		agent.Bytes(),
	})
}

// Custody derives the token account that holds an authorization's funds. The
// account is owned by the authorization's derived address, not by any private
// key.
func Custody(program, authorization solana.PublicKey) (Result, error) {
	return find(program, [][]byte{
		[]byte(TagCustody),
		authorization.Bytes(),
	})
}

func find(program solana.PublicKey, seeds [][]byte) (Result, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDerivationExhausted, err)
	}
	return Result{Address: addr, Bump: bump}, nil
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
