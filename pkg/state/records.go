// Package state is the canonical layout contract for the protocol's three
// persistent record types. Field order and widths are fixed — 8-byte type
// discriminator, 32-byte identities, 8-byte little-endian integers, 1-byte
// booleans — because external indexers filter records by exact byte ranges
// without deserializing them. Reordering or resizing a field is a breaking
// protocol change.
package state

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Authorization is an owner's payment envelope: the spend policy and the
// custody account delegations draw from.
type Authorization struct {
	Owner          solana.PublicKey
	Nonce          uint64
	Asset          solana.PublicKey
	CustodyAccount solana.PublicKey
	PerSpendLimit  uint64
	Expiry         int64
	Paused         bool
	TotalDeposited uint64
	Bump           uint8
}

// Delegation is a time- and amount-bounded spending grant for one agent
// against one authorization. RedemptionCount seeds receipt derivation and is
// incremented by every settlement.
type Delegation struct {
	Authorization   solana.PublicKey
	Agent           solana.PublicKey
	Allowed         uint64
	Spent           uint64
	Expiry          int64
	Revoked         bool
	RedemptionCount uint64
}

// Receipt proves one completed payment. Immutable once written.
type Receipt struct {
	Delegation  solana.PublicKey
	Merchant    solana.PublicKey
	ContextHash [32]byte
	Amount      uint64
	Timestamp   int64
	Bump        uint8
}

// Headroom is the delegation's remaining cumulative spend. Allowed may be
// modified below Spent; that leaves zero headroom rather than going negative.
func (d Delegation) Headroom() uint64 {
	if d.Spent >= d.Allowed {
		return 0
	}
	return d.Allowed - d.Spent
}

// DelegationStatus is a projection computed on read. It is deliberately never
// stored: a stored enum would be a second source of truth that could drift
// from the booleans and timestamps it summarizes.
type DelegationStatus string

const (
	StatusRevoked    DelegationStatus = "revoked"
	StatusExpired    DelegationStatus = "expired"
	StatusFullySpent DelegationStatus = "fully_spent"
	StatusActive     DelegationStatus = "active"
)

// Status reports the delegation's effective state at now. Precedence is fixed:
// revoked beats expired beats fully-spent beats active, so a revoked-and-
// expired delegation always reports the definitive reason to the agent.
func (d Delegation) Status(now time.Time) DelegationStatus {
	switch {
	case d.Revoked:
		return StatusRevoked
	case now.Unix() > d.Expiry:
		return StatusExpired
	case d.Spent >= d.Allowed:
		return StatusFullySpent
	default:
		return StatusActive
	}
}

// Expired reports whether the authorization is past its expiry at now.
// Authorization has no status enum: paused, expired and funded are checked
// independently by consumers.
func (a Authorization) Expired(now time.Time) bool {
	return now.Unix() > a.Expiry
}
