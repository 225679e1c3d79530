// Package keys reads and writes keypair files in the solana-keygen JSON
// format (an array of the 64 private key bytes), so keys are interchangeable
// with the standard tooling.
package keys

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// Load reads a keypair file.
func Load(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return key, nil
}

// Generate creates a fresh keypair and writes it to path. Fails if the file
// exists: silently overwriting a key is never what anyone wants.
func Generate(path string) (solana.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("refusing to overwrite existing keypair %s", path)
	}
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	if err := Save(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Save writes key to path in keygen format, owner-readable only.
func Save(path string, key solana.PrivateKey) error {
	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair %s: %w", path, err)
	}
	return nil
}
