// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package collection implements the parcel collection server: a WebSocket
// endpoint over which an authenticated local endpoint pulls its queued
// parcels and acknowledges their receipt. Parcels are deleted exactly once,
// and only after their acknowledgement.
package collection

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaynet/gateway-go/pkg/handshake"
	"github.com/relaynet/gateway-go/pkg/msg"
	"github.com/relaynet/gateway-go/pkg/storage"
)

const (
	// StreamingModeHeader selects between draining and keep-alive sessions.
	StreamingModeHeader = "x-relaynet-streaming-mode"

	// StreamingModeCloseUponCompletion is the only header value selecting a
	// draining session; absence or anything else means keep-alive.
	StreamingModeCloseUponCompletion = "close-upon-completion"
)

// Server is the parcel collection server. Its ServeHTTP must be bound to the
// gateway's parcel collection route; every upgraded connection becomes one
// independent session.
type Server struct {
	store    *storage.Store
	keys     *storage.KeyStore
	upgrader websocket.Upgrader
}

// NewServer creates a Server on top of the given Store.
func NewServer(store *storage.Store) *Server {
	return &Server{
		store:    store,
		keys:     store.Keys(),
		upgrader: websocket.Upgrader{},
	}
}

// ServeHTTP upgrades the request and runs the session until it completes or
// the transport dies.
func (srv *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	keepAlive := r.Header.Get(StreamingModeHeader) != StreamingModeCloseUponCompletion

	conn, connErr := srv.upgrader.Upgrade(rw, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	ses := &session{
		conn:      conn,
		store:     srv.store,
		keys:      srv.keys,
		keepAlive: keepAlive,
		tracker:   NewTracker(),
	}
	ses.run()
}

// session is the state around one parcel collection connection.
type session struct {
	conn      *websocket.Conn
	store     *storage.Store
	keys      *storage.KeyStore
	keepAlive bool
	tracker   *Tracker

	closeOnce sync.Once
}

func (ses *session) log() *log.Entry {
	return log.WithField("collection session", ses.conn.RemoteAddr().String())
}

// close sends a close frame once and tears the connection down.
func (ses *session) close(code int, reason string) {
	ses.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = ses.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = ses.conn.Close()
	})
}

func (ses *session) run() {
	endpoints, err := ses.handshake()
	if err != nil {
		ses.log().WithError(err).Info("Handshake failed, rejecting session")
		ses.close(websocket.ClosePolicyViolation, err.Error())
		return
	}

	addresses := make([]string, len(endpoints))
	for i, cert := range endpoints {
		addresses[i] = cert.PrivateAddress()
	}

	ses.log().WithFields(log.Fields{
		"endpoints":  addresses,
		"keep alive": ses.keepAlive,
	}).Info("Parcel collection session established")

	keys, cancel := ses.store.StreamActive(addresses, ses.keepAlive)
	defer cancel()

	var deliverWait sync.WaitGroup
	deliverWait.Add(1)
	go func() {
		defer deliverWait.Done()
		ses.deliver(keys, cancel)
	}()

	ses.readAcks(cancel)
	deliverWait.Wait()
}

// handshake runs the nonce challenge. Frames other than the single binary
// handshake response are ignored during this phase.
func (ses *session) handshake() ([]*msg.Certificate, error) {
	trusted, err := ses.keys.FetchNodeCertificates()
	if err != nil {
		return nil, err
	}

	challenge, err := handshake.NewChallenge()
	if err != nil {
		return nil, err
	}

	var challengeBuf bytes.Buffer
	if err := cboring.Marshal(challenge, &challengeBuf); err != nil {
		return nil, err
	}
	if err := ses.conn.WriteMessage(websocket.BinaryMessage, challengeBuf.Bytes()); err != nil {
		return nil, err
	}

	for {
		mt, raw, err := ses.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			ses.log().WithField("message type", mt).Debug("Ignoring non-binary frame during handshake")
			continue
		}

		resp, err := handshake.ParseResponse(raw)
		if err != nil {
			return nil, err
		}
		return handshake.VerifyResponse(resp, challenge.Nonce, trusted, time.Now())
	}
}

// deliver streams parcels to the endpoint. Each parcel gets a fresh delivery
// ID which is recorded in the tracker before the frame goes out.
func (ses *session) deliver(keys <-chan string, cancel func()) {
	for key := range keys {
		raw, err := ses.store.Retrieve(key, storage.FromInternetToEndpoint)
		if err != nil {
			ses.log().WithField("parcel", key).WithError(err).Warn("Retrieving parcel errored")
			continue
		}
		if raw == nil {
			ses.log().WithField("parcel", key).Debug("Parcel vanished before delivery, skipping")
			continue
		}

		pd := ParcelDelivery{
			DeliveryID:       uuid.NewString(),
			ParcelSerialized: raw,
		}

		ses.tracker.AddPendingAck(pd.DeliveryID, key)

		var buf bytes.Buffer
		if err := cboring.Marshal(&pd, &buf); err != nil {
			ses.log().WithError(err).Warn("Marshalling ParcelDelivery errored")
			cancel()
			return
		}
		if err := ses.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
			ses.log().WithError(err).Warn("Sending ParcelDelivery errored")
			cancel()
			return
		}

		ses.log().WithFields(log.Fields{
			"parcel":   key,
			"delivery": pd.DeliveryID,
		}).Debug("Offered parcel")
	}

	// The key stream only ends for draining sessions or on cancellation.
	ses.tracker.MarkAllParcelsDelivered()
	if ses.tracker.IsComplete() {
		ses.close(websocket.CloseNormalClosure, "")
	}
}

// readAcks consumes the endpoint's acknowledgements. An unknown delivery ID
// terminates the session; no further parcels are deleted afterwards.
func (ses *session) readAcks(cancel func()) {
	for {
		mt, raw, err := ses.conn.ReadMessage()
		if err != nil {
			ses.log().WithError(err).Debug("Session transport closed")
			cancel()
			return
		}
		if mt != websocket.TextMessage {
			ses.log().WithField("message type", mt).Debug("Ignoring non-text frame")
			continue
		}

		deliveryID := string(raw)
		key, ok := ses.tracker.PopPendingParcelKey(deliveryID)
		if !ok {
			ses.log().WithField("delivery", deliveryID).Info("Unknown delivery ID, rejecting session")
			ses.close(websocket.ClosePolicyViolation, "Unknown delivery id: "+deliveryID)
			cancel()
			return
		}

		if err := ses.store.CollectParcel(key); err != nil {
			ses.log().WithField("parcel", key).WithError(err).Warn("Deleting collected parcel errored")
		}

		ses.log().WithFields(log.Fields{
			"parcel":   key,
			"delivery": deliveryID,
		}).Info("Parcel collection acknowledged")

		if ses.tracker.IsComplete() {
			ses.close(websocket.CloseNormalClosure, "")
			cancel()
			return
		}
	}
}
