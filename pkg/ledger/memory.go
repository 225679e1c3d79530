package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"augenpay/pkg/state"
)

// Memory is an in-process ledger backend. A single mutex serializes every
// submit, so conflicting concurrent operations resolve the way a sequencing
// chain resolves them: one applies, the other re-reads and fails its
// precondition. Used by tests, the engine, and the CLI (via snapshots).
type Memory struct {
	mu       sync.RWMutex
	records  map[solana.PublicKey][]byte
	balances map[solana.PublicKey]uint64

	// NowFunc lets tests pin ledger time. Defaults to time.Now.
	NowFunc func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[solana.PublicKey][]byte),
		balances: make(map[solana.PublicKey]uint64),
		NowFunc:  time.Now,
	}
}

func (m *Memory) Now() time.Time { return m.NowFunc() }

func (m *Memory) GetRecord(_ context.Context, addr solana.PublicKey) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) ScanRecords(_ context.Context, dataSize uint64, filters []state.Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []Entry
	for addr, data := range m.records {
		if uint64(len(data)) != dataSize {
			continue
		}
		if !matchesAll(data, filters) {
			continue
		}
		out := make([]byte, len(data))
		copy(out, data)
		entries = append(entries, Entry{Address: addr, Data: out})
	}
	// map iteration order is random; scans return a stable order
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Address[:], entries[j].Address[:]) < 0
	})
	return entries, nil
}

func matchesAll(data []byte, filters []state.Filter) bool {
	for _, f := range filters {
		end := f.Offset + uint64(len(f.Bytes))
		if end > uint64(len(data)) {
			return false
		}
		if !bytes.Equal(data[f.Offset:end], f.Bytes) {
			return false
		}
	}
	return true
}

func (m *Memory) Balance(_ context.Context, account solana.PublicKey) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bal, ok := m.balances[account]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoTokenAccount, account)
	}
	return bal, nil
}

// Submit validates the whole changeset under the lock, then applies it.
// Nothing is observable until every part has passed.
func (m *Memory) Submit(_ context.Context, cs Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range cs.Creates {
		if _, exists := m.records[c.Address]; exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, c.Address)
		}
	}
	for _, u := range cs.Updates {
		if _, exists := m.records[u.Address]; !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, u.Address)
		}
	}
	for _, a := range cs.CreateTokenAccounts {
		if _, exists := m.balances[a]; exists {
			return fmt.Errorf("%w: token account %s", ErrAlreadyExists, a)
		}
	}
	// net transfer effects, so a set is judged on its final balances
	staged := make(map[solana.PublicKey]uint64)
	for _, t := range cs.Transfers {
		from, err := m.stagedBalance(staged, t.From, cs.CreateTokenAccounts)
		if err != nil {
			return err
		}
		if _, err := m.stagedBalance(staged, t.To, cs.CreateTokenAccounts); err != nil {
			return err
		}
		if from < t.Amount {
			return fmt.Errorf("%w: %s has %d, transfer needs %d", ErrInsufficientBalance, t.From, from, t.Amount)
		}
		staged[t.From] = from - t.Amount
		staged[t.To] += t.Amount
	}

	for _, c := range cs.Creates {
		m.records[c.Address] = cloneBytes(c.Data)
	}
	for _, u := range cs.Updates {
		m.records[u.Address] = cloneBytes(u.Data)
	}
	for _, a := range cs.CreateTokenAccounts {
		m.balances[a] = 0
	}
	for acct, bal := range staged {
		m.balances[acct] = bal
	}
	return nil
}

func (m *Memory) stagedBalance(staged map[solana.PublicKey]uint64, acct solana.PublicKey, creating []solana.PublicKey) (uint64, error) {
	if bal, ok := staged[acct]; ok {
		return bal, nil
	}
	if bal, ok := m.balances[acct]; ok {
		staged[acct] = bal
		return bal, nil
	}
	for _, c := range creating {
		if c.Equals(acct) {
			staged[acct] = 0
			return 0, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoTokenAccount, acct)
}

// Mint credits a token account directly, creating it if absent. Test and
// local-faucet capability; a real chain's mint authority sits outside this
// protocol.
func (m *Memory) Mint(account solana.PublicKey, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// snapshot is the JSON form the CLI persists between invocations.
type snapshot struct {
	Records  map[string]string `json:"records"`
	Balances map[string]uint64 `json:"balances"`
}

// Save writes the ledger state to path.
func (m *Memory) Save(path string) error {
	m.mu.RLock()
	snap := snapshot{
		Records:  make(map[string]string, len(m.records)),
		Balances: make(map[string]uint64, len(m.balances)),
	}
	for addr, data := range m.records {
		snap.Records[addr.String()] = base64.StdEncoding.EncodeToString(data)
	}
	for acct, bal := range m.balances {
		snap.Balances[acct.String()] = bal
	}
	m.mu.RUnlock()

	bz, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bz, 0o600)
}

// LoadMemory restores a ledger from a snapshot written by Save.
func LoadMemory(path string) (*Memory, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(bz, &snap); err != nil {
		return nil, fmt.Errorf("corrupt ledger snapshot: %w", err)
	}
	m := NewMemory()
	for addrStr, dataB64 := range snap.Records {
		addr, err := solana.PublicKeyFromBase58(addrStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger snapshot: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger snapshot: %w", err)
		}
		m.records[addr] = data
	}
	for acctStr, bal := range snap.Balances {
		acct, err := solana.PublicKeyFromBase58(acctStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger snapshot: %w", err)
		}
		m.balances[acct] = bal
	}
	return m, nil
}
