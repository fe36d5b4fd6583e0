// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package poweb talks to the public gateway over the PoWeb protocol and
// implements the gateway registrar on top of it.
package poweb

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dtn7/cboring"

	"github.com/relaynet/gateway-go/pkg/msg"
)

// Client is the subset of PoWeb used by the registrar: the two registration
// RPCs. DNS/SRV resolution of the public address is up to the factory.
type Client interface {
	// PreRegisterNode announces the node's public key and returns an opaque
	// registration authorization blob.
	PreRegisterNode(ctx context.Context, publicKey ed25519.PublicKey) ([]byte, error)

	// RegisterNode sends the serialized, signed registration request and
	// returns the resulting registration.
	RegisterNode(ctx context.Context, reqSerialized []byte) (*msg.PrivateNodeRegistration, error)
}

// ClientFactory resolves a public gateway address into a Client.
type ClientFactory func(publicAddress string) (Client, error)

// HTTPClient is the production Client, speaking PoWeb over HTTPS.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates an HTTPClient for a public gateway address.
func NewHTTPClient(publicAddress string) (Client, error) {
	if publicAddress == "" {
		return nil, fmt.Errorf("empty public gateway address")
	}

	return &HTTPClient{
		baseURL: "https://" + publicAddress,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("public gateway answered %s to %s", resp.Status, path)
	}

	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) PreRegisterNode(ctx context.Context, publicKey ed25519.PublicKey) ([]byte, error) {
	return c.post(ctx, "/v1/pre-registrations", publicKey)
}

func (c *HTTPClient) RegisterNode(ctx context.Context, reqSerialized []byte) (*msg.PrivateNodeRegistration, error) {
	raw, err := c.post(ctx, "/v1/nodes", reqSerialized)
	if err != nil {
		return nil, err
	}

	reg := new(msg.PrivateNodeRegistration)
	if err := cboring.Unmarshal(reg, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("malformed registration response: %w", err)
	}
	return reg, nil
}
