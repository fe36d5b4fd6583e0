// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/dtn7/cboring"
)

func mustKeyPair(t *testing.T) KeyPair {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestCertificateChain(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	gw := mustKeyPair(t)
	gwCert, err := gw.SelfIssue("gateway", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if !gwCert.IsSelfIssued() {
		t.Fatal("self-issued certificate not recognized as such")
	}

	endpoint := mustKeyPair(t)
	endpointCert, err := IssueCertificate("endpoint", endpoint.PublicKey(), endpoint.AgreementPublicKey(),
		gw.Signing, gwCert, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if endpointCert.IsSelfIssued() {
		t.Fatal("issued certificate claims to be self-issued")
	}

	if err := endpointCert.VerifyChain([]*Certificate{gwCert}, now); err != nil {
		t.Fatal(err)
	}

	stranger := mustKeyPair(t)
	strangerCert, err := stranger.SelfIssue("stranger", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if err := endpointCert.VerifyChain([]*Certificate{strangerCert}, now); err == nil {
		t.Fatal("certificate chained to an unrelated trust anchor")
	}

	if err := endpointCert.VerifyChain([]*Certificate{gwCert}, now.Add(2*time.Hour)); err == nil {
		t.Fatal("expired certificate passed chain verification")
	}
}

func TestCertificateCbor(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	kp := mustKeyPair(t)
	cert, err := kp.SelfIssue("node", now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := cboring.Marshal(cert, &buf); err != nil {
		t.Fatal(err)
	}

	cert2 := new(Certificate)
	if err := cboring.Unmarshal(cert2, &buf); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(cert.SigningKey, cert2.SigningKey) || cert.SerialNumber != cert2.SerialNumber {
		t.Fatalf("expected %v, got %v", cert, cert2)
	}
	if !cert2.VerifySignature(kp.PublicKey()) {
		t.Fatal("signature verification failed after roundtrip")
	}
}

func TestEnvelopeSealUnseal(t *testing.T) {
	now := time.Now()

	recipient := mustKeyPair(t)
	recipientCert, err := recipient.SelfIssue("recipient", now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("attack at dawn")
	envelope, err := Seal(plaintext, recipientCert)
	if err != nil {
		t.Fatal(err)
	}

	if opened, err := Unseal(envelope, recipient.Agreement); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(opened, plaintext) {
		t.Fatalf("expected %x, got %x", plaintext, opened)
	}

	envelope[len(envelope)-1] ^= 0xff
	if _, err := Unseal(envelope, recipient.Agreement); err == nil {
		t.Fatal("tampered envelope was unsealed")
	}

	stranger := mustKeyPair(t)
	envelope[len(envelope)-1] ^= 0xff
	if _, err := Unseal(envelope, stranger.Agreement); err == nil {
		t.Fatal("stranger unsealed the envelope")
	}
}
