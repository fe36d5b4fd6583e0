// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// PrivateNodeRegistrationRequest asks a public gateway to register this node.
// It binds the node's keys to the authorization blob the gateway handed out
// during pre-registration, signed with the node's private key.
type PrivateNodeRegistrationRequest struct {
	PublicKey     ed25519.PublicKey
	AgreementKey  []byte
	Authorization []byte
	Signature     []byte
}

// NewPrivateNodeRegistrationRequest creates a signed registration request.
func NewPrivateNodeRegistrationRequest(pub ed25519.PublicKey, agreementKey, authorization []byte,
	priv ed25519.PrivateKey) *PrivateNodeRegistrationRequest {
	req := &PrivateNodeRegistrationRequest{
		PublicKey:     pub,
		AgreementKey:  agreementKey,
		Authorization: authorization,
	}
	req.Signature = ed25519.Sign(priv, req.signedData())
	return req
}

// VerifySignature checks the request's signature against its own public key.
func (req *PrivateNodeRegistrationRequest) VerifySignature() bool {
	return ed25519.Verify(req.PublicKey, req.signedData(), req.Signature)
}

func (req *PrivateNodeRegistrationRequest) signedData() []byte {
	data := make([]byte, 0, len(req.PublicKey)+len(req.AgreementKey)+len(req.Authorization))
	data = append(data, req.PublicKey...)
	data = append(data, req.AgreementKey...)
	return append(data, req.Authorization...)
}

func (req *PrivateNodeRegistrationRequest) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	fields := [][]byte{req.PublicKey, req.AgreementKey, req.Authorization, req.Signature}
	for _, f := range fields {
		if err := cboring.WriteByteString(f, w); err != nil {
			return err
		}
	}

	return nil
}

func (req *PrivateNodeRegistrationRequest) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 4 {
		return fmt.Errorf("PrivateNodeRegistrationRequest: expected array of length 4, got %d", n)
	}

	fields := []*[]byte{(*[]byte)(&req.PublicKey), &req.AgreementKey, &req.Authorization, &req.Signature}
	for _, f := range fields {
		if b, err := cboring.ReadByteString(r); err != nil {
			return err
		} else {
			*f = b
		}
	}

	return nil
}

// PrivateNodeRegistration is the public gateway's answer to a successful
// registration: the node's new identity Certificate and the gateway's own.
type PrivateNodeRegistration struct {
	PrivateNodeCertificate Certificate
	GatewayCertificate     Certificate
}

func (reg *PrivateNodeRegistration) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.Marshal(&reg.PrivateNodeCertificate, w); err != nil {
		return err
	}
	return cboring.Marshal(&reg.GatewayCertificate, w)
}

func (reg *PrivateNodeRegistration) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("PrivateNodeRegistration: expected array of length 2, got %d", n)
	}
	if err := cboring.Unmarshal(&reg.PrivateNodeCertificate, r); err != nil {
		return err
	}
	return cboring.Unmarshal(&reg.GatewayCertificate, r)
}
