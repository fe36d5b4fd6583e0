// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dtn7/cboring"
	"github.com/timshannon/badgerhold"

	"github.com/relaynet/gateway-go/pkg/msg"
)

// ErrNoKey is returned when the requested key material was never stored.
var ErrNoKey = errors.New("storage: no such key")

// ErrNoCertificate is returned when the requested certificate was never stored.
var ErrNoCertificate = errors.New("storage: no such certificate")

// KeyItem is a persisted key pair together with its Certificate.
type KeyItem struct {
	Serial string `badgerhold:"key"`

	SigningKey   []byte
	AgreementKey []byte
	CertRaw      []byte
}

// CertItem is a persisted Certificate without private key material, e.g., the
// public gateway's identity Certificate.
type CertItem struct {
	Name string `badgerhold:"key"`

	CertRaw []byte
}

const certNamePublicGateway = "public-gateway"

// KeyStore persists the node's key pairs and the Certificates around them.
type KeyStore struct {
	bh     *badgerhold.Store
	config *ConfigStore
}

// Keys returns the key store of this Store.
func (s *Store) Keys() *KeyStore {
	return &KeyStore{bh: s.bh, config: s.Config()}
}

func certToRaw(cert *msg.Certificate) ([]byte, error) {
	var buf bytes.Buffer
	if err := cboring.Marshal(cert, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func certFromRaw(raw []byte) (*msg.Certificate, error) {
	cert := new(msg.Certificate)
	if err := cboring.Unmarshal(cert, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return cert, nil
}

func (ks *KeyStore) saveKeyItem(kp msg.KeyPair, cert *msg.Certificate, configKey string) error {
	raw, err := certToRaw(cert)
	if err != nil {
		return err
	}

	serial := strconv.FormatUint(cert.SerialNumber, 10)
	ki := KeyItem{
		Serial:       serial,
		SigningKey:   kp.Signing,
		AgreementKey: kp.Agreement.Bytes(),
		CertRaw:      raw,
	}

	if err := ks.bh.Upsert(ki.Serial, ki); err != nil {
		return err
	}
	return ks.config.Set(configKey, serial)
}

func (ks *KeyStore) loadKeyItem(configKey string) (kp msg.KeyPair, cert *msg.Certificate, err error) {
	serial, err := ks.config.Get(configKey)
	if err != nil {
		return
	}
	if serial == "" {
		err = ErrNoKey
		return
	}

	var ki KeyItem
	if err = ks.bh.Get(serial, &ki); err == badgerhold.ErrNotFound {
		err = fmt.Errorf("%w: serial %s is configured but missing", ErrNoKey, serial)
		return
	} else if err != nil {
		return
	}

	if kp, err = msg.LoadKeyPair(ki.SigningKey, ki.AgreementKey); err != nil {
		return
	}

	cert, err = certFromRaw(ki.CertRaw)
	return
}

// SaveNodeKey persists the node's key pair and identity Certificate and makes
// them current.
func (ks *KeyStore) SaveNodeKey(kp msg.KeyPair, cert *msg.Certificate) error {
	return ks.saveKeyItem(kp, cert, ConfigNodeKeySerial)
}

// GetCurrentKey returns the node's current key pair and identity Certificate.
// ErrNoKey is returned for an unregistered gateway.
func (ks *KeyStore) GetCurrentKey() (msg.KeyPair, *msg.Certificate, error) {
	return ks.loadKeyItem(ConfigNodeKeySerial)
}

// FetchNodeCertificates returns the local gateway's own Certificates: the
// identity Certificate and, if present, the CCA issuer Certificate.
func (ks *KeyStore) FetchNodeCertificates() (certs []*msg.Certificate, err error) {
	_, nodeCert, err := ks.GetCurrentKey()
	if err != nil {
		return
	}
	certs = append(certs, nodeCert)

	if _, issuerCert, issuerErr := ks.loadKeyItem(ConfigCCAIssuerKeySerial); issuerErr == nil {
		certs = append(certs, issuerCert)
	} else if !errors.Is(issuerErr, ErrNoKey) {
		err = issuerErr
	}
	return
}

// GetOrCreateCCAIssuer returns the CCA issuer key pair and Certificate,
// issuing a fresh one if none is stored or the stored one does not cover the
// requested validity window. The Certificate is self-issued: it acts as a
// trust anchor for the cargo delivery authorizations minted from it.
func (ks *KeyStore) GetOrCreateCCAIssuer(validFrom, validTo time.Time) (msg.KeyPair, *msg.Certificate, error) {
	if kp, cert, err := ks.loadKeyItem(ConfigCCAIssuerKeySerial); err == nil {
		if cert.IsValidAt(time.Now()) && !cert.ValidTo.Before(validTo) {
			return kp, cert, nil
		}
	} else if !errors.Is(err, ErrNoKey) {
		return msg.KeyPair{}, nil, err
	}

	kp, err := msg.GenerateKeyPair()
	if err != nil {
		return msg.KeyPair{}, nil, err
	}

	cert, err := kp.SelfIssue("cca-issuer", validFrom, validTo)
	if err != nil {
		return msg.KeyPair{}, nil, err
	}

	if err := ks.saveKeyItem(kp, cert, ConfigCCAIssuerKeySerial); err != nil {
		return msg.KeyPair{}, nil, err
	}
	return kp, cert, nil
}

// SavePublicGatewayCertificate persists the public gateway's identity
// Certificate, overwriting a present one.
func (ks *KeyStore) SavePublicGatewayCertificate(cert *msg.Certificate) error {
	raw, err := certToRaw(cert)
	if err != nil {
		return err
	}
	return ks.bh.Upsert(certNamePublicGateway, CertItem{Name: certNamePublicGateway, CertRaw: raw})
}

// PublicGatewayCertificate returns the public gateway's identity Certificate.
func (ks *KeyStore) PublicGatewayCertificate() (*msg.Certificate, error) {
	var ci CertItem
	if err := ks.bh.Get(certNamePublicGateway, &ci); err == badgerhold.ErrNotFound {
		return nil, ErrNoCertificate
	} else if err != nil {
		return nil, err
	}
	return certFromRaw(ci.CertRaw)
}
