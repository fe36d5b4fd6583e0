// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package poweb

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/cboring"

	"github.com/relaynet/gateway-go/pkg/msg"
	"github.com/relaynet/gateway-go/pkg/storage"
)

// DefaultPublicGateway is the public gateway used by RegisterIfUnregistered
// when none was configured yet.
const DefaultPublicGateway = "frankfurt.relaycorp.cloud"

// RegistrationError wraps any failure during the two-round registration.
type RegistrationError struct {
	Cause error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("gateway registration failed: %v", e.Cause)
}

func (e *RegistrationError) Unwrap() error {
	return e.Cause
}

// Registrar performs the pre-register/register round-trip against a public
// gateway and persists the outcome. It is the only writer of the public
// gateway address.
type Registrar struct {
	config  *storage.ConfigStore
	keys    *storage.KeyStore
	factory ClientFactory
}

// NewRegistrar creates a Registrar. A nil factory selects the HTTPS client.
func NewRegistrar(store *storage.Store, factory ClientFactory) *Registrar {
	if factory == nil {
		factory = NewHTTPClient
	}
	return &Registrar{
		config:  store.Config(),
		keys:    store.Keys(),
		factory: factory,
	}
}

// Register this gateway with the given public gateway. Registering with the
// already configured gateway is a no-op without network traffic. Nothing is
// persisted unless the full round-trip succeeded.
func (r *Registrar) Register(ctx context.Context, publicAddress string) error {
	current, err := r.config.Get(storage.ConfigPublicGatewayAddress)
	if err != nil {
		return &RegistrationError{Cause: err}
	}
	if current == publicAddress {
		log.WithField("public gateway", publicAddress).Debug("Gateway is already registered")
		return nil
	}

	client, err := r.factory(publicAddress)
	if err != nil {
		return &RegistrationError{Cause: err}
	}

	kp, _, err := r.keys.GetCurrentKey()
	if errors.Is(err, storage.ErrNoKey) {
		if kp, err = msg.GenerateKeyPair(); err != nil {
			return &RegistrationError{Cause: err}
		}
	} else if err != nil {
		return &RegistrationError{Cause: err}
	}

	authorization, err := client.PreRegisterNode(ctx, kp.PublicKey())
	if err != nil {
		return &RegistrationError{Cause: err}
	}

	req := msg.NewPrivateNodeRegistrationRequest(kp.PublicKey(), kp.AgreementPublicKey(), authorization, kp.Signing)
	var reqBuf bytes.Buffer
	if err := cboring.Marshal(req, &reqBuf); err != nil {
		return &RegistrationError{Cause: err}
	}

	reg, err := client.RegisterNode(ctx, reqBuf.Bytes())
	if err != nil {
		return &RegistrationError{Cause: err}
	}

	if err := r.keys.SaveNodeKey(kp, &reg.PrivateNodeCertificate); err != nil {
		return &RegistrationError{Cause: err}
	}
	if err := r.keys.SavePublicGatewayCertificate(&reg.GatewayCertificate); err != nil {
		return &RegistrationError{Cause: err}
	}
	if err := r.config.Set(storage.ConfigPublicGatewayAddress, publicAddress); err != nil {
		return &RegistrationError{Cause: err}
	}

	log.WithField("public gateway", publicAddress).Info("Gateway registered")
	return nil
}

// RegisterIfUnregistered registers with the default public gateway unless an
// address is already configured.
func (r *Registrar) RegisterIfUnregistered(ctx context.Context) error {
	current, err := r.config.Get(storage.ConfigPublicGatewayAddress)
	if err != nil {
		return &RegistrationError{Cause: err}
	}
	if current != "" {
		return nil
	}
	return r.Register(ctx, DefaultPublicGateway)
}
