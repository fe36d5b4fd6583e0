// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sessionless enveloped-data: an ephemeral X25519 key agreement with the
// recipient Certificate's agreement key, followed by XChaCha20-Poly1305. The
// envelope is the ephemeral public key, the nonce and the ciphertext,
// concatenated.

const envelopeOverhead = 32 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// envelopeKey derives the symmetric key for an X25519 shared secret.
func envelopeKey(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	shared, err := priv.ECDH(peer)
	if err != nil {
		return nil, err
	}

	key := sha256.Sum256(shared)
	return key[:], nil
}

// Seal encrypts plaintext to the recipient Certificate's agreement key.
func Seal(plaintext []byte, recipient *Certificate) ([]byte, error) {
	peer, err := ecdh.X25519().NewPublicKey(recipient.AgreementKey)
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	key, err := envelopeKey(ephemeral, peer)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	envelope := make([]byte, 0, envelopeOverhead+len(plaintext))
	envelope = append(envelope, ephemeral.PublicKey().Bytes()...)
	envelope = append(envelope, nonce...)
	return aead.Seal(envelope, nonce, plaintext, nil), nil
}

// Unseal decrypts an envelope with the recipient's agreement private key.
func Unseal(envelope []byte, agreementKey *ecdh.PrivateKey) ([]byte, error) {
	if len(envelope) < envelopeOverhead {
		return nil, fmt.Errorf("envelope of %d bytes is shorter than the minimum %d", len(envelope), envelopeOverhead)
	}

	peer, err := ecdh.X25519().NewPublicKey(envelope[:32])
	if err != nil {
		return nil, err
	}

	key, err := envelopeKey(agreementKey, peer)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := envelope[32 : 32+chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, envelope[32+chacha20poly1305.NonceSizeX:], nil)
}
