// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// Message type codes on the wire. A signature is bound to its type code, so a
// Cargo cannot be replayed as a Parcel or vice versa.
const (
	typeCodeParcel uint64 = 1
	typeCodeCargo  uint64 = 2
	typeCodeCCA    uint64 = 3
)

// envelope is the shared shape of the signed, time-bounded messages: a
// recipient, an identifier, a validity window, the sender's Certificate, an
// opaque payload and the sender's detached signature.
type envelope struct {
	Recipient         string
	ID                string
	CreationDate      time.Time
	TTL               time.Duration
	SenderCertificate Certificate
	Payload           []byte
	Signature         []byte
}

func newEnvelope(recipient, id string, payload []byte, creationDate time.Time, ttl time.Duration,
	senderCert Certificate, senderKey ed25519.PrivateKey, typeCode uint64) (e envelope, err error) {
	e = envelope{
		Recipient:         recipient,
		ID:                id,
		CreationDate:      creationDate.Truncate(time.Second),
		TTL:               ttl,
		SenderCertificate: senderCert,
		Payload:           payload,
	}

	var data bytes.Buffer
	if err = e.marshalUnsigned(typeCode, &data); err != nil {
		return
	}

	e.Signature = ed25519.Sign(senderKey, data.Bytes())
	return
}

// ExpiryDate after which the message must be discarded.
func (e *envelope) ExpiryDate() time.Time {
	return e.CreationDate.Add(e.TTL)
}

// IsValidAt checks the message's validity window against the given time.
func (e *envelope) IsValidAt(t time.Time) bool {
	return !t.Before(e.CreationDate) && !t.After(e.ExpiryDate())
}

// VerifySignature checks the sender's detached signature.
func (e *envelope) verifySignature(typeCode uint64) bool {
	var data bytes.Buffer
	if err := e.marshalUnsigned(typeCode, &data); err != nil {
		return false
	}
	return ed25519.Verify(e.SenderCertificate.SigningKey, data.Bytes(), e.Signature)
}

// Verify checks the signature, the validity window and the sender
// Certificate's chain against the trusted Certificates.
func (e *envelope) verify(typeCode uint64, trusted []*Certificate, at time.Time) error {
	if !e.verifySignature(typeCode) {
		return fmt.Errorf("message %q carries an invalid signature", e.ID)
	}
	if !e.IsValidAt(at) {
		return fmt.Errorf("message %q is not valid at %v", e.ID, at)
	}
	return e.SenderCertificate.VerifyChain(trusted, at)
}

func (e *envelope) checkValid() (err error) {
	if e.Recipient == "" {
		err = multierror.Append(err, fmt.Errorf("message: empty recipient"))
	}
	if e.ID == "" {
		err = multierror.Append(err, fmt.Errorf("message: empty id"))
	}
	if l := len(e.Signature); l != ed25519.SignatureSize {
		err = multierror.Append(err,
			fmt.Errorf("message: signature's length is %d, not required %d", l, ed25519.SignatureSize))
	}
	return
}

func (e *envelope) marshalUnsigned(typeCode uint64, w io.Writer) error {
	if err := cboring.WriteArrayLength(7, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(typeCode, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(e.Recipient, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(e.ID, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(e.CreationDate.Unix()), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(e.TTL/time.Second), w); err != nil {
		return err
	}
	if err := cboring.Marshal(&e.SenderCertificate, w); err != nil {
		return err
	}
	return cboring.WriteByteString(e.Payload, w)
}

func (e *envelope) marshalCbor(typeCode uint64, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := e.marshalUnsigned(typeCode, w); err != nil {
		return err
	}
	return cboring.WriteByteString(e.Signature, w)
}

func (e *envelope) unmarshalCbor(typeCode uint64, r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("message: expected array of length 2, got %d", n)
	}

	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 7 {
		return fmt.Errorf("message: expected array of length 7, got %d", n)
	}

	if tc, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if tc != typeCode {
		return fmt.Errorf("message: expected type code %d, got %d", typeCode, tc)
	}

	if recipient, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		e.Recipient = recipient
	}

	if id, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		e.ID = id
	}

	if ts, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		e.CreationDate = time.Unix(int64(ts), 0).UTC()
	}

	if ttl, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		e.TTL = time.Duration(ttl) * time.Second
	}

	if err := cboring.Unmarshal(&e.SenderCertificate, r); err != nil {
		return err
	}

	if payload, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		e.Payload = payload
	}

	if sig, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		e.Signature = sig
	}

	return e.checkValid()
}

// Parcel is an opaque, authenticated payload routed between endpoints. Its
// content is end-to-end encrypted; gateways only inspect the envelope.
type Parcel struct {
	envelope
}

// NewParcel creates a signed Parcel.
func NewParcel(recipient, id string, payload []byte, creationDate time.Time, ttl time.Duration,
	senderCert Certificate, senderKey ed25519.PrivateKey) (p *Parcel, err error) {
	e, err := newEnvelope(recipient, id, payload, creationDate, ttl, senderCert, senderKey, typeCodeParcel)
	if err == nil {
		p = &Parcel{e}
	}
	return
}

// RecipientIsPrivate checks if the recipient is a private node address rather
// than a public Internet URL.
func (p *Parcel) RecipientIsPrivate() bool {
	return !strings.HasPrefix(p.Recipient, "https://")
}

// Verify the Parcel against the trusted Certificates.
func (p *Parcel) Verify(trusted []*Certificate, at time.Time) error {
	return p.verify(typeCodeParcel, trusted, at)
}

func (p *Parcel) MarshalCbor(w io.Writer) error {
	return p.marshalCbor(typeCodeParcel, w)
}

func (p *Parcel) UnmarshalCbor(r io.Reader) error {
	return p.unmarshalCbor(typeCodeParcel, r)
}

// Cargo is a signed, time-bounded bundle of parcels and PCAs, used only on
// the courier channel. Its Payload is an enveloped CargoMessageSet.
type Cargo struct {
	envelope
}

// NewCargo creates a signed Cargo.
func NewCargo(recipient, id string, payload []byte, creationDate time.Time, ttl time.Duration,
	senderCert Certificate, senderKey ed25519.PrivateKey) (c *Cargo, err error) {
	e, err := newEnvelope(recipient, id, payload, creationDate, ttl, senderCert, senderKey, typeCodeCargo)
	if err == nil {
		c = &Cargo{e}
	}
	return
}

// Verify the Cargo against the trusted Certificates.
func (c *Cargo) Verify(trusted []*Certificate, at time.Time) error {
	return c.verify(typeCodeCargo, trusted, at)
}

func (c *Cargo) MarshalCbor(w io.Writer) error {
	return c.marshalCbor(typeCodeCargo, w)
}

func (c *Cargo) UnmarshalCbor(r io.Reader) error {
	return c.unmarshalCbor(typeCodeCargo, r)
}
