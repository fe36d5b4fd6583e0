// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cogrpc implements the client side of the cargo relay channel
// towards a courier: delivering a CCA and collecting cargoes, then streaming
// outbound cargoes and collecting their acknowledgements. Each stream runs
// over its own TLS connection; couriers present self-signed certificates.
package cogrpc

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/cboring"
)

// Stream operations, sent as the first frame of a connection.
const (
	opCollect uint64 = 1
	opDeliver uint64 = 2
)

// CargoDelivery is one outbound cargo tagged with a caller-chosen local ID,
// echoed back by the courier as the acknowledgement.
type CargoDelivery struct {
	LocalID string
	Cargo   []byte
}

// Client connects to a courier's cargo relay endpoint.
type Client struct {
	address   string
	plaintext bool

	mutex sync.Mutex
	conns []net.Conn
}

// NewClient creates a Client for the courier's address (host:port).
func NewClient(address string) *Client {
	return &Client{address: address}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var conn net.Conn
	var err error
	if c.plaintext {
		conn, err = dialer.DialContext(ctx, "tcp", c.address)
	} else {
		// Couriers are offline boxes with self-signed certificates; there is
		// no authority to verify them against.
		tlsDialer := &tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}, NetDialer: dialer}
		conn, err = tlsDialer.DialContext(ctx, "tcp", c.address)
	}
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	c.conns = append(c.conns, conn)
	c.mutex.Unlock()

	return conn, nil
}

// Close tears down all connections opened by this Client.
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, conn := range c.conns {
		_ = conn.Close()
	}
	c.conns = nil
	return nil
}

func writeRequest(conn net.Conn, op uint64, body []byte) error {
	var buf bytes.Buffer
	if err := cboring.WriteArrayLength(2, &buf); err != nil {
		return err
	}
	if err := cboring.WriteUInt(op, &buf); err != nil {
		return err
	}
	if err := cboring.WriteByteString(body, &buf); err != nil {
		return err
	}
	return writeFrame(conn, buf.Bytes())
}

// CollectCargo hands the serialized CCA to the courier and returns a channel
// of the collected cargoes. The channel is closed once the courier ran out of
// cargo or the connection died.
func (c *Client) CollectCargo(ctx context.Context, cca []byte) (<-chan []byte, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := writeRequest(conn, opCollect, cca); err != nil {
		_ = conn.Close()
		return nil, err
	}

	cargoes := make(chan []byte)
	go func() {
		defer close(cargoes)
		defer func() { _ = conn.Close() }()

		r := bufio.NewReader(conn)
		for {
			payload, err := readFrame(r)
			if err != nil {
				if err != io.EOF {
					log.WithError(err).Warn("Reading cargo frame errored")
				}
				return
			}
			if len(payload) == 0 {
				return
			}

			select {
			case cargoes <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return cargoes, nil
}

// DeliverCargo streams cargo deliveries to the courier and returns a channel
// of the acknowledged local IDs. The acknowledgement channel is closed after
// the courier acknowledged everything or the connection died.
func (c *Client) DeliverCargo(ctx context.Context, deliveries <-chan CargoDelivery) (<-chan string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := writeRequest(conn, opDeliver, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go func() {
		for d := range deliveries {
			var buf bytes.Buffer
			if err := cboring.WriteArrayLength(2, &buf); err != nil {
				log.WithError(err).Warn("Marshalling cargo delivery errored")
				_ = conn.Close()
				return
			}
			if err := cboring.WriteTextString(d.LocalID, &buf); err != nil {
				log.WithError(err).Warn("Marshalling cargo delivery errored")
				_ = conn.Close()
				return
			}
			if err := cboring.WriteByteString(d.Cargo, &buf); err != nil {
				log.WithError(err).Warn("Marshalling cargo delivery errored")
				_ = conn.Close()
				return
			}

			if err := writeFrame(conn, buf.Bytes()); err != nil {
				log.WithError(err).Warn("Sending cargo delivery errored")
				_ = conn.Close()
				return
			}
		}

		// All cargo is out; the empty frame lets the courier finish the
		// acknowledgement stream.
		if err := writeFrame(conn, nil); err != nil {
			log.WithError(err).Warn("Terminating cargo delivery stream errored")
			_ = conn.Close()
		}
	}()

	acks := make(chan string)
	go func() {
		defer close(acks)
		defer func() { _ = conn.Close() }()

		r := bufio.NewReader(conn)
		for {
			payload, err := readFrame(r)
			if err != nil {
				if err != io.EOF {
					log.WithError(err).Warn("Reading cargo acknowledgement errored")
				}
				return
			}
			if len(payload) == 0 {
				return
			}

			select {
			case acks <- string(payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return acks, nil
}

// Probe checks if a courier's port accepts TCP connections, retrying until
// the timeout elapses.
func Probe(address string, timeout, retry time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		conn, err := net.DialTimeout("tcp", address, retry)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("courier at %s is unreachable: %w", address, err)
		}
		time.Sleep(retry)
	}
}
