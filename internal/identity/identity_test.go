// Package identity tests validate key generation, loading, and signing
// behavior for the relay credential. These tests ensure persistent key
// files can be created, re-loaded, signed with, and that file permissions
// match security expectations.
package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestIdentityLifecycle(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "relay.key")

	identity1, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	identity2, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("Failed to load identity: %v", err)
	}

	if identity1.AddressHex() != identity2.AddressHex() {
		t.Errorf("Loaded identity differs from original. Got %s, want %s",
			identity2.AddressHex(), identity1.AddressHex())
	}
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	identity, err := LoadOrCreateIdentity(filepath.Join(dir, "a.key"))
	if err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	digest := crypto.Keccak256([]byte("one voter, one vote"))

	signature, err := identity.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !identity.Verify(digest, signature) {
		t.Error("Failed to verify signature with own key")
	}

	otherIdentity, err := LoadOrCreateIdentity(filepath.Join(dir, "b.key"))
	if err != nil {
		t.Fatalf("Failed to create other identity: %v", err)
	}
	if otherIdentity.Verify(digest, signature) {
		t.Error("Incorrectly verified signature with wrong key")
	}
}

func TestPermissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "secure.key")

	if _, err := LoadOrCreateIdentity(keyPath); err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("Failed to stat key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Key file has wrong permissions. Got %v, want %v",
			info.Mode().Perm(), 0600)
	}
}

func TestLoadIdentityRequiresCredential(t *testing.T) {
	if _, err := LoadIdentity("", ""); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing.key")
	if _, err := LoadIdentity("", missing); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential for missing file, got %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Fatalf("LoadIdentity must not create a key file")
	}
}

func TestLoadIdentityPrefersInlineKey(t *testing.T) {
	generated, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	fromHex, err := LoadIdentity(generated.PrivateKeyHex(), "/nonexistent/path")
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if fromHex.Address() != generated.Address() {
		t.Errorf("address mismatch: got %s want %s", fromHex.AddressHex(), generated.AddressHex())
	}

	if _, err := FromHex("0xnot-a-key"); err == nil {
		t.Error("expected error for malformed hex key")
	}
}
