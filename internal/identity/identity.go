// Package identity handles loading, generating, and persisting the relay
// credential. Keys are stored as a single line of hex (the same format
// operators paste into VRM_PRIVATE_KEY) in a file with 0600 permissions.
package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoCredential is returned when neither a key file nor a hex key is available.
var ErrNoCredential = errors.New("relay credential not configured")

// LoadOrCreateIdentity loads an existing identity or creates a new one
// at the given key path. Used by keygen and the development chain; the relay
// itself uses LoadIdentity and refuses to invent a credential.
func LoadOrCreateIdentity(keyPath string) (*Identity, error) {
	info, err := os.Stat(keyPath)
	if os.IsNotExist(err) {
		return generateAndSave(keyPath)
	}
	if err != nil {
		return nil, err
	}

	// An empty file is treated as missing
	if info.Size() == 0 {
		return generateAndSave(keyPath)
	}

	return loadKey(keyPath)
}

// LoadIdentity resolves the relay credential from an inline hex key or, if
// that is empty, from keyPath. It never generates a key.
func LoadIdentity(hexKey, keyPath string) (*Identity, error) {
	if strings.TrimSpace(hexKey) != "" {
		return FromHex(hexKey)
	}
	if keyPath == "" {
		return nil, ErrNoCredential
	}
	info, err := os.Stat(keyPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: key file %s does not exist", ErrNoCredential, keyPath)
	}
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: key file %s is empty", ErrNoCredential, keyPath)
	}
	return loadKey(keyPath)
}

// FromHex parses a hex private key, with or without 0x prefix.
func FromHex(hexKey string) (*Identity, error) {
	key := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	priv, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewIdentity(priv), nil
}

// Generate creates a fresh identity without persisting it.
func Generate() (*Identity, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewIdentity(priv), nil
}

// Save writes id to keyPath with 0600 permissions.
func Save(id *Identity, keyPath string) error {
	file, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(id.PrivateKeyHex() + "\n")
	return err
}

func generateAndSave(keyPath string) (*Identity, error) {
	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(id, keyPath); err != nil {
		return nil, err
	}
	return id, nil
}

func loadKey(keyPath string) (*Identity, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	id, err := FromHex(string(data))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", keyPath, err)
	}
	return id, nil
}
