// Package signer defines the signing capability the rest of the SDK consumes.
//
// The ledger's primitives (a keyed hash and a curve signature scheme) live in a
// native module. The SDK never reimplements them: it talks to a Capability,
// which is usually a K12Hasher composed with a KeyBackend, and obtains it once
// per process through Lazy.
package signer

import (
	"github.com/pkg/errors"
)

const (
	// PrivateKeySize is the length of a derived private key.
	PrivateKeySize = 32
	// PublicKeySize is the length of a public key.
	PublicKeySize = 32
	// SignatureSize is the length of a signature.
	SignatureSize = 64
	// DigestSize is the hash length used for keys, digests and transaction ids.
	DigestSize = 32
)

// Hasher is the keyed hash function.
type Hasher interface {
	Hash(data []byte, outLen int) ([]byte, error)
}

// KeyBackend holds the curve operations.
type KeyBackend interface {
	DerivePublicKey(privateKey []byte) ([]byte, error)
	Sign(privateKey, publicKey, message []byte) ([]byte, error)
}

// Capability is the full function set: stateless and safe for concurrent use
// once it has been obtained.
type Capability interface {
	Hasher
	KeyBackend
}

type composite struct {
	Hasher
	KeyBackend
}

// Compose joins a hasher and a key backend into a Capability.
func Compose(h Hasher, kb KeyBackend) Capability {
	return &composite{Hasher: h, KeyBackend: kb}
}

// KeyPair is the key material derived from a seed.
type KeyPair struct {
	PrivateKey [PrivateKeySize]byte
	PublicKey  [PublicKeySize]byte
}

// DeriveKeyPair derives the key pair for decoded seed bytes.
//
// subseed = H(seed, 32), privateKey = H(subseed, 32), publicKey = derive(privateKey).
func DeriveKeyPair(c Capability, seedBytes []byte) (*KeyPair, error) {
	if len(seedBytes) == 0 {
		return nil, errors.New("seed bytes are empty")
	}

	subseed, err := c.Hash(seedBytes, DigestSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive subseed")
	}

	priv, err := c.Hash(subseed, PrivateKeySize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive private key")
	}
	if len(priv) != PrivateKeySize {
		return nil, errors.Errorf("invalid private key length: expected %d bytes, got %d", PrivateKeySize, len(priv))
	}

	pub, err := c.DerivePublicKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive public key")
	}
	if len(pub) != PublicKeySize {
		return nil, errors.Errorf("invalid public key length: expected %d bytes, got %d", PublicKeySize, len(pub))
	}

	kp := &KeyPair{}
	copy(kp.PrivateKey[:], priv)
	copy(kp.PublicKey[:], pub)
	return kp, nil
}
