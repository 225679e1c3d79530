// Package solrpc is the read side of the ledger boundary over Solana
// JSON-RPC: fetch record bytes by address and discover records with
// dataSize + memcmp filters at the offsets fixed in pkg/state. Merchants
// verifying receipts need nothing more than this.
package solrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"augenpay/pkg/ledger"
	"augenpay/pkg/state"
)

// Reader implements ledger.Reader against an RPC node. Program is the
// protocol's program id; scans are scoped to its accounts.
type Reader struct {
	client  *rpc.Client
	program solana.PublicKey
}

func NewReader(rpcURL string, program solana.PublicKey) *Reader {
	return &Reader{client: rpc.New(rpcURL), program: program}
}

func (r *Reader) GetRecord(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	res, err := r.client.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, addr)
		}
		return nil, fmt.Errorf("get account %s: %w", addr, err)
	}
	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, addr)
	}
	data := res.Value.Data.GetBinary()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, addr)
	}
	return data, nil
}

func (r *Reader) ScanRecords(ctx context.Context, dataSize uint64, filters []state.Filter) ([]ledger.Entry, error) {
	rpcFilters := []rpc.RPCFilter{{DataSize: dataSize}}
	for _, f := range filters {
		rpcFilters = append(rpcFilters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{Offset: f.Offset, Bytes: solana.Base58(f.Bytes)},
		})
	}
	res, err := r.client.GetProgramAccountsWithOpts(ctx, r.program, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters:    rpcFilters,
	})
	if err != nil {
		return nil, fmt.Errorf("scan program accounts: %w", err)
	}
	entries := make([]ledger.Entry, 0, len(res))
	for _, acc := range res {
		if acc == nil || acc.Account == nil {
			continue
		}
		entries = append(entries, ledger.Entry{
			Address: acc.Pubkey,
			Data:    acc.Account.Data.GetBinary(),
		})
	}
	return entries, nil
}
