// Package identity manages the relay credential. The relay holds a single
// secp256k1 private key whose address is the ledger's administrative owner;
// every mutating transaction is signed with it. This package exposes an
// Identity abstraction for signing digests and for retrieving the canonical
// account address used on the ledger.
package identity

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity represents a signing credential
type Identity struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewIdentity creates a new Identity from a private key
func NewIdentity(privKey *ecdsa.PrivateKey) *Identity {
	return &Identity{
		privateKey: privKey,
		address:    crypto.PubkeyToAddress(privKey.PublicKey),
	}
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest
func (i *Identity) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, i.privateKey)
}

// Verify checks that signature over digest was produced by this identity
func (i *Identity) Verify(digest, signature []byte) bool {
	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == i.address
}

// Address returns the account address derived from the public key
func (i *Identity) Address() common.Address {
	return i.address
}

// AddressHex returns the checksummed address.
// This is the owner identity compared against the ledger.
func (i *Identity) AddressHex() string {
	return i.address.Hex()
}

// PrivateKey returns the raw private key
func (i *Identity) PrivateKey() *ecdsa.PrivateKey {
	return i.privateKey
}

// PrivateKeyHex returns the 0x-prefixed hex encoding of the private key
func (i *Identity) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(i.privateKey))
}
