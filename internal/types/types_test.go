// Package types tests exercise the signed transaction envelope and the
// canonical address helper. These tests ensure that signatures bind the
// exact transaction body to the claimed signer.
package types

import (
	"path/filepath"
	"testing"

	"votingrelay.mini/vrm/internal/identity"
)

func TestTransactionSigning(t *testing.T) {
	id, err := identity.LoadOrCreateIdentity(filepath.Join(t.TempDir(), "test.key"))
	if err != nil {
		t.Fatalf("Failed to create test identity: %v", err)
	}

	tx, err := NewTransaction(TxVoteFor, "vrm-test", 3, VoteForPayload{
		Address:     "0x00000000000000000000000000000000000000aa",
		CandidateID: 1,
	})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	signedTx, err := tx.Sign(id)
	if err != nil {
		t.Fatalf("Failed to sign transaction: %v", err)
	}
	if !signedTx.Verify() {
		t.Error("Failed to verify transaction signature")
	}
	if signedTx.Signer != id.AddressHex() {
		t.Errorf("signer = %s, want %s", signedTx.Signer, id.AddressHex())
	}

	raw, err := signedTx.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeSignedTransaction(raw)
	if err != nil {
		t.Fatalf("DecodeSignedTransaction: %v", err)
	}

	extractedTx, err := decoded.GetTransaction()
	if err != nil {
		t.Fatalf("Failed to extract transaction: %v", err)
	}
	if extractedTx.Type != TxVoteFor || extractedTx.Nonce != 3 || extractedTx.ChainID != "vrm-test" {
		t.Errorf("decoded transaction mismatch: %+v", extractedTx)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	dir := t.TempDir()
	a, err := identity.LoadOrCreateIdentity(filepath.Join(dir, "a.key"))
	if err != nil {
		t.Fatalf("identity a: %v", err)
	}
	b, err := identity.LoadOrCreateIdentity(filepath.Join(dir, "b.key"))
	if err != nil {
		t.Fatalf("identity b: %v", err)
	}

	tx, _ := NewTransaction(TxRegisterVoter, "vrm-test", 0, VoterPayload{Address: a.AddressHex()})
	stx, err := tx.Sign(b)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// claim A signed it
	stx.Signer = a.AddressHex()
	if stx.Verify() {
		t.Fatal("Verify accepted a signature from a different key")
	}

	// restore signer, alter body
	stx.Signer = b.AddressHex()
	stx.Tx = append([]byte(nil), stx.Tx...)
	stx.Tx[len(stx.Tx)-2] ^= 0x01
	if stx.Verify() {
		t.Fatal("Verify accepted a modified body")
	}
}

func TestCanonicalAddress(t *testing.T) {
	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	want := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	got, err := CanonicalAddress(lower)
	if err != nil {
		t.Fatalf("CanonicalAddress: %v", err)
	}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	for _, bad := range []string{"", "0xAAA", "not-an-address", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaedff"} {
		if _, err := CanonicalAddress(bad); err != ErrInvalidAddress {
			t.Errorf("CanonicalAddress(%q) = %v, want ErrInvalidAddress", bad, err)
		}
	}
}
