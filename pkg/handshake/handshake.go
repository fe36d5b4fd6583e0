// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package handshake implements the nonce challenge the parcel collection
// server runs before streaming parcels: the server sends a random nonce, the
// client answers with one detached signature per endpoint it claims, and the
// server admits every endpoint whose certificate chains to the gateway's own.
package handshake

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"

	"github.com/relaynet/gateway-go/pkg/msg"
)

// NonceSize is the length of a challenge nonce in bytes.
const NonceSize = 16

// Challenge is the server's opening frame.
type Challenge struct {
	Nonce []byte
}

// NewChallenge creates a Challenge with a random nonce.
func NewChallenge() (c *Challenge, err error) {
	nonce := make([]byte, NonceSize)
	if _, err = rand.Read(nonce); err == nil {
		c = &Challenge{Nonce: nonce}
	}
	return
}

func (c *Challenge) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return cboring.WriteByteString(c.Nonce, w)
}

func (c *Challenge) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("Challenge: expected array of length 1, got %d", n)
	}

	if nonce, err := cboring.ReadByteString(r); err != nil {
		return err
	} else if len(nonce) != NonceSize {
		return fmt.Errorf("Challenge: nonce's length is %d, not required %d", len(nonce), NonceSize)
	} else {
		c.Nonce = nonce
	}
	return nil
}

// NonceSignature is one endpoint's detached signature over the nonce,
// together with the endpoint's Certificate.
type NonceSignature struct {
	Certificate msg.Certificate
	Signature   []byte
}

// SignNonce creates a NonceSignature for an endpoint.
func SignNonce(nonce []byte, cert msg.Certificate, key ed25519.PrivateKey) NonceSignature {
	return NonceSignature{
		Certificate: cert,
		Signature:   ed25519.Sign(key, nonce),
	}
}

// Verify the signature over the nonce and the Certificate's chain to the
// trusted Certificates.
func (ns *NonceSignature) Verify(nonce []byte, trusted []*msg.Certificate, at time.Time) error {
	if !ed25519.Verify(ns.Certificate.SigningKey, nonce, ns.Signature) {
		return fmt.Errorf("invalid signature for endpoint %q", ns.Certificate.CommonName)
	}
	return ns.Certificate.VerifyChain(trusted, at)
}

func (ns *NonceSignature) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.Marshal(&ns.Certificate, w); err != nil {
		return err
	}
	return cboring.WriteByteString(ns.Signature, w)
}

func (ns *NonceSignature) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("NonceSignature: expected array of length 2, got %d", n)
	}

	if err := cboring.Unmarshal(&ns.Certificate, r); err != nil {
		return err
	}

	if sig, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		ns.Signature = sig
	}
	return nil
}

// Response is the client's answer to a Challenge.
type Response struct {
	NonceSignatures []NonceSignature
}

func (resp *Response) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(uint64(len(resp.NonceSignatures)), w); err != nil {
		return err
	}

	for i := range resp.NonceSignatures {
		if err := cboring.Marshal(&resp.NonceSignatures[i], w); err != nil {
			return err
		}
	}
	return nil
}

func (resp *Response) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}

	resp.NonceSignatures = make([]NonceSignature, n)
	for i := uint64(0); i < n; i++ {
		if err := cboring.Unmarshal(&resp.NonceSignatures[i], r); err != nil {
			return err
		}
	}
	return nil
}

// VerifyResponse checks a Response against the challenge nonce. It fails if
// there is no signature at all or any signature does not verify. On success
// the verified endpoint Certificates are returned.
func VerifyResponse(resp *Response, nonce []byte, trusted []*msg.Certificate, at time.Time) ([]*msg.Certificate, error) {
	if len(resp.NonceSignatures) == 0 {
		return nil, fmt.Errorf("handshake response contains zero signatures")
	}

	certs := make([]*msg.Certificate, len(resp.NonceSignatures))
	for i := range resp.NonceSignatures {
		ns := &resp.NonceSignatures[i]
		if err := ns.Verify(nonce, trusted, at); err != nil {
			return nil, err
		}
		certs[i] = &ns.Certificate
	}
	return certs, nil
}

// ParseResponse deserializes a Response frame.
func ParseResponse(raw []byte) (*Response, error) {
	resp := new(Response)
	if err := cboring.Unmarshal(resp, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("malformed handshake response: %w", err)
	}
	return resp, nil
}
