// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// PrivateAddress derives a node's private address from its signing key.
func PrivateAddress(pub ed25519.PublicKey) string {
	digest := sha256.Sum256(pub)
	return "0" + hex.EncodeToString(digest[:])
}

// Certificate binds a subject's signing and agreement keys to a validity
// window, vouched for by an issuer's detached signature. An issuer may be the
// subject itself; such self-issued Certificates act as trust anchors.
type Certificate struct {
	CommonName    string
	SerialNumber  uint64
	SigningKey    ed25519.PublicKey
	AgreementKey  []byte
	ValidFrom     time.Time
	ValidTo       time.Time
	IssuerAddress string
	Signature     []byte
}

// IssueCertificate creates a Certificate for the subject keys, signed by the
// issuer's private key. If issuer is nil, the Certificate is self-issued and
// issuerKey must belong to subjectSigning.
func IssueCertificate(commonName string, subjectSigning ed25519.PublicKey, subjectAgreement []byte,
	issuerKey ed25519.PrivateKey, issuer *Certificate, validFrom, validTo time.Time) (c *Certificate, err error) {
	var serialRaw [8]byte
	if _, err = rand.Read(serialRaw[:]); err != nil {
		return
	}

	issuerAddress := PrivateAddress(subjectSigning)
	if issuer != nil {
		issuerAddress = issuer.PrivateAddress()
	}

	c = &Certificate{
		CommonName:    commonName,
		SerialNumber:  binary.BigEndian.Uint64(serialRaw[:]),
		SigningKey:    subjectSigning,
		AgreementKey:  subjectAgreement,
		ValidFrom:     validFrom.Truncate(time.Second),
		ValidTo:       validTo.Truncate(time.Second),
		IssuerAddress: issuerAddress,
	}

	var data bytes.Buffer
	if err = c.marshalUnsigned(&data); err != nil {
		c = nil
		return
	}

	c.Signature = ed25519.Sign(issuerKey, data.Bytes())
	return
}

// PrivateAddress of this Certificate's subject.
func (c *Certificate) PrivateAddress() string {
	return PrivateAddress(c.SigningKey)
}

// IsSelfIssued checks if subject and issuer are the same node.
func (c *Certificate) IsSelfIssued() bool {
	return c.IssuerAddress == c.PrivateAddress()
}

// IsValidAt checks the validity window against the given time.
func (c *Certificate) IsValidAt(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidTo)
}

// VerifySignature checks the issuer's signature with the given issuer key.
func (c *Certificate) VerifySignature(issuerKey ed25519.PublicKey) bool {
	var data bytes.Buffer
	if err := c.marshalUnsigned(&data); err != nil {
		return false
	}
	return ed25519.Verify(issuerKey, data.Bytes(), c.Signature)
}

// VerifyChain checks that this Certificate is valid at the given time and was
// issued by one of the trusted Certificates, or is itself one of them.
func (c *Certificate) VerifyChain(trusted []*Certificate, at time.Time) error {
	if !c.IsValidAt(at) {
		return fmt.Errorf("certificate %q is not valid at %v", c.CommonName, at)
	}

	for _, anchor := range trusted {
		if anchor.PrivateAddress() == c.PrivateAddress() && anchor.SerialNumber == c.SerialNumber {
			return nil
		}
		if anchor.PrivateAddress() == c.IssuerAddress && c.VerifySignature(anchor.SigningKey) {
			return nil
		}
	}

	return fmt.Errorf("certificate %q does not chain to a trusted certificate", c.CommonName)
}

// CheckValid returns an accumulated error for implausible field values.
func (c *Certificate) CheckValid() (err error) {
	if l := len(c.SigningKey); l != ed25519.PublicKeySize {
		err = multierror.Append(err,
			fmt.Errorf("Certificate: signing key's length is %d, not required %d", l, ed25519.PublicKeySize))
	}

	if l := len(c.AgreementKey); l != 32 {
		err = multierror.Append(err,
			fmt.Errorf("Certificate: agreement key's length is %d, not required 32", l))
	}

	if l := len(c.Signature); l != ed25519.SignatureSize {
		err = multierror.Append(err,
			fmt.Errorf("Certificate: signature's length is %d, not required %d", l, ed25519.SignatureSize))
	}

	if c.ValidTo.Before(c.ValidFrom) {
		err = multierror.Append(err,
			fmt.Errorf("Certificate: expires %v before it becomes valid %v", c.ValidTo, c.ValidFrom))
	}

	return
}

// marshalUnsigned writes the signed-over fields, a CBOR array of length 7.
func (c *Certificate) marshalUnsigned(w io.Writer) error {
	if err := cboring.WriteArrayLength(7, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(c.CommonName, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(c.SerialNumber, w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(c.SigningKey, w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(c.AgreementKey, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(c.ValidFrom.Unix()), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(c.ValidTo.Unix()), w); err != nil {
		return err
	}
	return cboring.WriteTextString(c.IssuerAddress, w)
}

// unmarshalUnsigned is marshalUnsigned's counterpart.
func (c *Certificate) unmarshalUnsigned(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 7 {
		return fmt.Errorf("Certificate: expected array of length 7, got %d", n)
	}

	if cn, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		c.CommonName = cn
	}

	if serial, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		c.SerialNumber = serial
	}

	if key, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		c.SigningKey = key
	}

	if key, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		c.AgreementKey = key
	}

	if ts, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		c.ValidFrom = time.Unix(int64(ts), 0).UTC()
	}

	if ts, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		c.ValidTo = time.Unix(int64(ts), 0).UTC()
	}

	if addr, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		c.IssuerAddress = addr
	}

	return nil
}

// MarshalCbor writes a Certificate as a CBOR array of length 2: the unsigned
// fields followed by the issuer's signature.
func (c *Certificate) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := c.marshalUnsigned(w); err != nil {
		return err
	}
	return cboring.WriteByteString(c.Signature, w)
}

// UnmarshalCbor reads a Certificate.
func (c *Certificate) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("Certificate: expected array of length 2, got %d", n)
	}

	if err := c.unmarshalUnsigned(r); err != nil {
		return err
	}

	if sig, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		c.Signature = sig
	}

	return c.CheckValid()
}
