package state

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Record byte sizes, discriminator included. Decoders match on exact size
// before reading fields, which is also how schema drift is detected.
const (
	DiscriminatorLen = 8

	AuthorizationSize = DiscriminatorLen + 32 + 8 + 32 + 32 + 8 + 8 + 1 + 8 + 1 // 138
	DelegationSize    = DiscriminatorLen + 32 + 32 + 8 + 8 + 8 + 1 + 8          // 105
	ReceiptSize       = DiscriminatorLen + 32 + 32 + 32 + 8 + 8 + 1             // 121

	// DelegationSizeLegacy is the pre-receipt-derivation layout without the
	// redemption counter. Records of this size still decode as the right type
	// tag but cannot serve settlement, so they get their own error.
	DelegationSizeLegacy = DelegationSize - 8
)

var (
	// ErrNotRecord marks bytes whose discriminator does not match the
	// requested record type (or are too short to carry one).
	ErrNotRecord = errors.New("bytes are not a record of the expected type")

	// ErrIncompatibleRecordVersion marks a record written under an older
	// layout. Distinct from not-found on purpose: the remedy is creating a
	// new record, not checking the address.
	ErrIncompatibleRecordVersion = errors.New("record layout is an incompatible older version")
)

// Discriminators: first 8 bytes of sha256("account:<TypeName>").
var (
	AuthorizationDiscriminator = discriminator("Authorization")
	DelegationDiscriminator    = discriminator("Delegation")
	ReceiptDiscriminator       = discriminator("Receipt")
)

func discriminator(name string) [DiscriminatorLen]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorLen]byte
	copy(d[:], sum[:DiscriminatorLen])
	return d
}

func (a Authorization) Marshal() ([]byte, error) {
	return marshalRecord(AuthorizationDiscriminator, a, AuthorizationSize)
}

func (d Delegation) Marshal() ([]byte, error) {
	return marshalRecord(DelegationDiscriminator, d, DelegationSize)
}

func (r Receipt) Marshal() ([]byte, error) {
	return marshalRecord(ReceiptDiscriminator, r, ReceiptSize)
}

func UnmarshalAuthorization(data []byte) (Authorization, error) {
	var a Authorization
	if err := unmarshalRecord(data, AuthorizationDiscriminator, AuthorizationSize, 0, &a); err != nil {
		return Authorization{}, err
	}
	return a, nil
}

func UnmarshalDelegation(data []byte) (Delegation, error) {
	var d Delegation
	if err := unmarshalRecord(data, DelegationDiscriminator, DelegationSize, DelegationSizeLegacy, &d); err != nil {
		return Delegation{}, err
	}
	return d, nil
}

func UnmarshalReceipt(data []byte) (Receipt, error) {
	var r Receipt
	if err := unmarshalRecord(data, ReceiptDiscriminator, ReceiptSize, 0, &r); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

// marshalRecord writes the discriminator followed by the borsh encoding of v.
// Borsh writes struct fields in declaration order with fixed-width
// little-endian integers and 1-byte bools, which is exactly the layout
// contract.
func marshalRecord(disc [DiscriminatorLen]byte, v any, wantSize int) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(wantSize)
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if buf.Len() != wantSize {
		return nil, fmt.Errorf("encode record: wrote %d bytes, layout requires %d", buf.Len(), wantSize)
	}
	return buf.Bytes(), nil
}

func unmarshalRecord(data []byte, disc [DiscriminatorLen]byte, wantSize, legacySize int, out any) error {
	if len(data) < DiscriminatorLen || !bytes.Equal(data[:DiscriminatorLen], disc[:]) {
		return ErrNotRecord
	}
	if legacySize != 0 && len(data) == legacySize {
		return ErrIncompatibleRecordVersion
	}
	if len(data) != wantSize {
		return fmt.Errorf("%w: got %d bytes, layout requires %d", ErrIncompatibleRecordVersion, len(data), wantSize)
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorLen:]).Decode(out); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
