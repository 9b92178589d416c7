package signer

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

// SchnorrBackend is an in-process KeyBackend over BIP-340 Schnorr signatures
// on secp256k1. Keys and signatures have the ledger's sizes but not its
// curve, so transactions it signs are only accepted by development networks.
type SchnorrBackend struct{}

var _ KeyBackend = SchnorrBackend{}

func schnorrKey(privateKey []byte) (*secp256k1.PrivateKey, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, errors.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(privateKey))
	}
	key := secp256k1.PrivKeyFromBytes(privateKey)
	if key.Key.IsZero() {
		return nil, errors.New("private key is zero modulo the curve order")
	}
	return key, nil
}

// DerivePublicKey returns the 32-byte x-only public key.
func (SchnorrBackend) DerivePublicKey(privateKey []byte) ([]byte, error) {
	key, err := schnorrKey(privateKey)
	if err != nil {
		return nil, err
	}
	return schnorr.SerializePubKey(key.PubKey()), nil
}

// Sign signs a 32-byte digest. publicKey must belong to privateKey.
func (SchnorrBackend) Sign(privateKey, publicKey, message []byte) ([]byte, error) {
	if len(message) != DigestSize {
		return nil, errors.Errorf("message must be %d bytes, got %d", DigestSize, len(message))
	}
	key, err := schnorrKey(privateKey)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(schnorr.SerializePubKey(key.PubKey()), publicKey) {
		return nil, errors.New("public key does not match private key")
	}

	sig, err := schnorr.Sign(key, message)
	if err != nil {
		return nil, errors.Wrap(err, "schnorr sign")
	}
	return sig.Serialize(), nil
}

// Verify checks a signature produced by Sign.
func (SchnorrBackend) Verify(publicKey, message, signature []byte) error {
	pub, err := schnorr.ParsePubKey(publicKey)
	if err != nil {
		return errors.Wrap(err, "parse public key")
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return errors.Wrap(err, "parse signature")
	}
	if !sig.Verify(message, pub) {
		return errors.New("invalid signature")
	}
	return nil
}
