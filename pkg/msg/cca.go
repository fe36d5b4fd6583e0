// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
)

// CargoCollectionRequest is the plaintext payload of a CCA. It carries the
// short-lived cargo delivery authorization Certificate for the courier.
type CargoCollectionRequest struct {
	CargoDeliveryAuthorization Certificate
}

func (ccr *CargoCollectionRequest) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return cboring.Marshal(&ccr.CargoDeliveryAuthorization, w)
}

func (ccr *CargoCollectionRequest) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("CargoCollectionRequest: expected array of length 1, got %d", n)
	}
	return cboring.Unmarshal(&ccr.CargoDeliveryAuthorization, r)
}

// CargoCollectionAuthorization authorizes the public gateway to hand our
// queued cargo to a specific courier. Its Payload is an enveloped
// CargoCollectionRequest, readable only by the public gateway.
type CargoCollectionAuthorization struct {
	envelope
}

// NewCargoCollectionAuthorization creates a signed CCA.
func NewCargoCollectionAuthorization(recipient, id string, payload []byte, creationDate time.Time,
	ttl time.Duration, senderCert Certificate, senderKey ed25519.PrivateKey) (cca *CargoCollectionAuthorization, err error) {
	e, err := newEnvelope(recipient, id, payload, creationDate, ttl, senderCert, senderKey, typeCodeCCA)
	if err == nil {
		cca = &CargoCollectionAuthorization{e}
	}
	return
}

// Verify the CCA against the trusted Certificates.
func (cca *CargoCollectionAuthorization) Verify(trusted []*Certificate, at time.Time) error {
	return cca.verify(typeCodeCCA, trusted, at)
}

func (cca *CargoCollectionAuthorization) MarshalCbor(w io.Writer) error {
	return cca.marshalCbor(typeCodeCCA, w)
}

func (cca *CargoCollectionAuthorization) UnmarshalCbor(r io.Reader) error {
	return cca.unmarshalCbor(typeCodeCCA, r)
}
