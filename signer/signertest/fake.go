// Package signertest provides a deterministic in-memory signing capability for
// tests. Hashing is real K12; key derivation and signatures are keyed hashes,
// so outputs are stable but carry no cryptographic meaning.
package signertest

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/pilacorp/go-ledger-sdk/signer"
)

// Fake implements signer.Capability and counts its calls.
type Fake struct {
	hasher signer.K12Hasher

	HashCalls   atomic.Int64
	DeriveCalls atomic.Int64
	SignCalls   atomic.Int64

	// SignErr, when set, is returned by every Sign call.
	SignErr error
}

// New returns a ready Fake.
func New() *Fake {
	return &Fake{}
}

// Hash implements signer.Hasher.
func (f *Fake) Hash(data []byte, outLen int) ([]byte, error) {
	f.HashCalls.Add(1)
	return f.hasher.Hash(data, outLen)
}

// DerivePublicKey implements signer.KeyBackend.
func (f *Fake) DerivePublicKey(privateKey []byte) ([]byte, error) {
	f.DeriveCalls.Add(1)
	if len(privateKey) != signer.PrivateKeySize {
		return nil, errors.Errorf("private key must be %d bytes", signer.PrivateKeySize)
	}
	return f.hasher.Hash(append([]byte("pub"), privateKey...), signer.PublicKeySize)
}

// Sign implements signer.KeyBackend.
func (f *Fake) Sign(privateKey, publicKey, message []byte) ([]byte, error) {
	f.SignCalls.Add(1)
	if f.SignErr != nil {
		return nil, f.SignErr
	}

	buf := make([]byte, 0, len(privateKey)+len(publicKey)+len(message))
	buf = append(buf, privateKey...)
	buf = append(buf, publicKey...)
	buf = append(buf, message...)
	return f.hasher.Hash(buf, signer.SignatureSize)
}

// Calls returns the total number of capability calls.
func (f *Fake) Calls() int64 {
	return f.HashCalls.Load() + f.DeriveCalls.Load() + f.SignCalls.Load()
}
