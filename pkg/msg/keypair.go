// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"time"
)

// KeyPair is a node's private key material: an ed25519 signing key and an
// X25519 agreement key.
type KeyPair struct {
	Signing   ed25519.PrivateKey
	Agreement *ecdh.PrivateKey
}

// GenerateKeyPair creates a fresh KeyPair.
func GenerateKeyPair() (kp KeyPair, err error) {
	if _, kp.Signing, err = ed25519.GenerateKey(rand.Reader); err != nil {
		return
	}

	kp.Agreement, err = ecdh.X25519().GenerateKey(rand.Reader)
	return
}

// LoadKeyPair restores a KeyPair from its raw key bytes.
func LoadKeyPair(signing, agreement []byte) (kp KeyPair, err error) {
	kp.Signing = signing
	kp.Agreement, err = ecdh.X25519().NewPrivateKey(agreement)
	return
}

// PublicKey of the signing key.
func (kp KeyPair) PublicKey() ed25519.PublicKey {
	return kp.Signing.Public().(ed25519.PublicKey)
}

// AgreementPublicKey as raw bytes, as carried in a Certificate.
func (kp KeyPair) AgreementPublicKey() []byte {
	return kp.Agreement.PublicKey().Bytes()
}

// PrivateAddress of this KeyPair's node.
func (kp KeyPair) PrivateAddress() string {
	return PrivateAddress(kp.PublicKey())
}

// SelfIssue creates a self-issued Certificate for this KeyPair.
func (kp KeyPair) SelfIssue(commonName string, validFrom, validTo time.Time) (*Certificate, error) {
	return IssueCertificate(commonName, kp.PublicKey(), kp.AgreementPublicKey(), kp.Signing, nil, validFrom, validTo)
}
