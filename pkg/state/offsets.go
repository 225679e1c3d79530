package state

// Byte offsets external indexers rely on. A consumer scans all records of one
// size and keeps those whose bytes at an offset equal a value — no
// deserialization of non-matching candidates.
//
//	Authorization: disc[0:8] owner[8:40] nonce[40:48] asset[48:80]
//	               custody[80:112] perSpendLimit[112:120] expiry[120:128]
//	               paused[128:129] totalDeposited[129:137] bump[137:138]
//	Delegation:    disc[0:8] authorization[8:40] agent[40:72] allowed[72:80]
//	               spent[80:88] expiry[88:96] revoked[96:97] count[97:105]
//	Receipt:       disc[0:8] delegation[8:40] merchant[40:72]
//	               contextHash[72:104] amount[104:112] timestamp[112:120]
//	               bump[120:121]
const (
	AuthorizationOwnerOffset = 8

	DelegationAuthorizationOffset = 8
	DelegationAgentOffset         = 40

	ReceiptDelegationOffset  = 8
	ReceiptMerchantOffset    = 40
	ReceiptContextHashOffset = 72
)

// Filter is one byte-offset equality condition of a record scan.
type Filter struct {
	Offset uint64
	Bytes  []byte
}

// ReceiptsByMerchant matches all receipt records paid to merchant.
func ReceiptsByMerchant(merchant [32]byte) (dataSize uint64, filters []Filter) {
	return ReceiptSize, []Filter{
		{Offset: 0, Bytes: ReceiptDiscriminator[:]},
		{Offset: ReceiptMerchantOffset, Bytes: merchant[:]},
	}
}

// DelegationsByAuthorization matches all delegation records under one
// authorization.
func DelegationsByAuthorization(authorization [32]byte) (dataSize uint64, filters []Filter) {
	return DelegationSize, []Filter{
		{Offset: 0, Bytes: DelegationDiscriminator[:]},
		{Offset: DelegationAuthorizationOffset, Bytes: authorization[:]},
	}
}

// AuthorizationsByOwner matches all authorization records created by owner.
func AuthorizationsByOwner(owner [32]byte) (dataSize uint64, filters []Filter) {
	return AuthorizationSize, []Filter{
		{Offset: 0, Bytes: AuthorizationDiscriminator[:]},
		{Offset: AuthorizationOwnerOffset, Bytes: owner[:]},
	}
}
