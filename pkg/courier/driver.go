// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/relaynet/gateway-go/pkg/cogrpc"
	"github.com/relaynet/gateway-go/pkg/msg"
	"github.com/relaynet/gateway-go/pkg/storage"
)

// Exit codes of the synchronization subprocess, inspected by the Manager.
const (
	ExitSynchronized = 0
	ExitUnregistered = 1
	ExitFailedSync   = 2
)

// CargoRelayClient is the courier-facing part of a cogrpc.Client.
type CargoRelayClient interface {
	CollectCargo(ctx context.Context, cca []byte) (<-chan []byte, error)
	DeliverCargo(ctx context.Context, deliveries <-chan cogrpc.CargoDelivery) (<-chan string, error)
	Close() error
}

// Driver runs one synchronization against the courier on the local network:
// collect inbound cargo, wait, deliver outbound cargo. It is meant to live in
// a subprocess of its own; Run's return value is the process' exit code.
type Driver struct {
	store    *storage.Store
	notifier *StageNotifier

	newClient      func(address string) CargoRelayClient
	defaultGateway func() (string, error)
	sleep          func(time.Duration)
}

// NewDriver creates a Driver notifying stages on notify, usually stdout.
func NewDriver(store *storage.Store, notify io.Writer) *Driver {
	return &Driver{
		store:    store,
		notifier: NewStageNotifier(notify),

		newClient:      func(address string) CargoRelayClient { return cogrpc.NewClient(address) },
		defaultGateway: DefaultGatewayIPv4,
		sleep:          time.Sleep,
	}
}

// Run performs the synchronization and returns the process exit code:
// ExitSynchronized on success, ExitUnregistered if the gateway has no public
// gateway yet, ExitFailedSync for everything else.
func (d *Driver) Run(ctx context.Context) int {
	publicAddress, err := d.store.Config().Get(storage.ConfigPublicGatewayAddress)
	if err != nil {
		log.WithError(err).Error("Reading the public gateway address errored")
		return ExitFailedSync
	}
	if publicAddress == "" {
		log.Warn("Gateway is not registered with a public gateway yet")
		return ExitUnregistered
	}

	courierIP, err := d.defaultGateway()
	if err != nil {
		log.WithError(err).Error("Discovering the courier's address errored")
		return ExitFailedSync
	}

	client := d.newClient(net.JoinHostPort(courierIP, strconv.Itoa(CourierPort)))
	defer func() { _ = client.Close() }()

	if err := d.collect(ctx, client, publicAddress); err != nil {
		log.WithError(err).Error("Cargo collection errored")
		return ExitFailedSync
	}

	if err := d.notifier.Notify(StageWait); err != nil {
		log.WithError(err).Error("Notifying the wait stage errored")
		return ExitFailedSync
	}
	d.sleep(DelayBetweenCollectionAndDelivery)

	if err := d.deliver(ctx, client, publicAddress); err != nil {
		log.WithError(err).Error("Cargo delivery errored")
		return ExitFailedSync
	}

	return ExitSynchronized
}

// collect hands a fresh CCA to the courier and unpacks every cargo it
// returns. A broken cargo or inner message is logged and skipped; only
// channel-level failures abort the collection.
func (d *Driver) collect(ctx context.Context, client CargoRelayClient, publicAddress string) error {
	if err := d.notifier.Notify(StageCollection); err != nil {
		return err
	}

	keys := d.store.Keys()
	nodeKp, nodeCert, err := keys.GetCurrentKey()
	if err != nil {
		return err
	}

	ccaSerialized, err := d.generateCCA(keys, nodeKp, nodeCert, publicAddress)
	if err != nil {
		return err
	}

	ownCerts, err := keys.FetchNodeCertificates()
	if err != nil {
		return err
	}

	// Inbound cargo must chain to a certificate this gateway issued to
	// itself. A certificate merely issued TO us, like the identity
	// certificate from the public gateway, must not anchor the chain.
	var selfIssued []*msg.Certificate
	for _, cert := range ownCerts {
		if cert.IsSelfIssued() {
			selfIssued = append(selfIssued, cert)
		}
	}

	cargoes, err := client.CollectCargo(ctx, ccaSerialized)
	if err != nil {
		return err
	}

	for raw := range cargoes {
		d.processCargo(raw, selfIssued, ownCerts, nodeKp)
	}
	return nil
}

// generateCCA builds a serialized CCA for the public gateway. Its payload is
// an enveloped CargoCollectionRequest carrying a cargo delivery authorization
// for the public gateway's identity key.
func (d *Driver) generateCCA(keys *storage.KeyStore, nodeKp msg.KeyPair, nodeCert *msg.Certificate,
	publicAddress string) ([]byte, error) {
	now := time.Now()
	validFrom := now.Add(-ClockDriftTolerance)
	validTo := now.Add(OutboundCargoTTL)

	issuerKp, issuerCert, err := keys.GetOrCreateCCAIssuer(validFrom, validTo)
	if err != nil {
		return nil, err
	}

	pubGwCert, err := keys.PublicGatewayCertificate()
	if err != nil {
		return nil, err
	}

	cda, err := msg.IssueCertificate("cargo delivery authorization",
		pubGwCert.SigningKey, pubGwCert.AgreementKey, issuerKp.Signing, issuerCert, validFrom, validTo)
	if err != nil {
		return nil, err
	}

	ccr := msg.CargoCollectionRequest{CargoDeliveryAuthorization: *cda}
	var plaintext bytes.Buffer
	if err := cboring.Marshal(&ccr, &plaintext); err != nil {
		return nil, err
	}

	payload, err := msg.Seal(plaintext.Bytes(), pubGwCert)
	if err != nil {
		return nil, err
	}

	cca, err := msg.NewCargoCollectionAuthorization("https://"+publicAddress, uuid.NewString(),
		payload, validFrom, validTo.Sub(validFrom), *nodeCert, nodeKp.Signing)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := cboring.Marshal(cca, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Driver) processCargo(raw []byte, selfIssued, ownCerts []*msg.Certificate, nodeKp msg.KeyPair) {
	cargo := new(msg.Cargo)
	if err := cboring.Unmarshal(cargo, bytes.NewReader(raw)); err != nil {
		log.WithError(err).Info("Dropping malformed cargo")
		return
	}

	logger := log.WithField("cargo", cargo.ID)

	if err := cargo.Verify(selfIssued, time.Now()); err != nil {
		logger.WithError(err).Info("Dropping untrusted cargo")
		return
	}

	plaintext, err := msg.Unseal(cargo.Payload, nodeKp.Agreement)
	if err != nil {
		logger.WithError(err).Info("Dropping undecryptable cargo")
		return
	}

	cms := new(msg.CargoMessageSet)
	if err := cboring.Unmarshal(cms, bytes.NewReader(plaintext)); err != nil {
		logger.WithError(err).Info("Dropping cargo with a malformed message set")
		return
	}

	for _, cm := range cms.Messages {
		switch cm.Tag {
		case msg.CargoMessageParcel:
			d.storeInboundParcel(logger, cm, ownCerts)

		case msg.CargoMessageAck:
			if ack, err := cm.AsAck(); err != nil {
				logger.WithError(err).Info("Skipping malformed parcel collection ack")
			} else if err := d.store.DeleteInternetBoundFromAck(ack); err != nil {
				logger.WithError(err).Warn("Deleting acknowledged parcel errored")
			}

		default:
			logger.WithField("tag", cm.Tag).Debug("Skipping cargo message with unknown tag")
		}
	}
}

func (d *Driver) storeInboundParcel(logger *log.Entry, cm msg.CargoMessage, ownCerts []*msg.Certificate) {
	parcel, err := cm.AsParcel()
	if err != nil {
		logger.WithError(err).Info("Skipping malformed parcel")
		return
	}

	parcelLogger := logger.WithField("parcel", parcel.ID)

	if !parcel.RecipientIsPrivate() {
		parcelLogger.Info("Skipping inbound parcel with a public recipient")
		return
	}
	if err := parcel.Verify(ownCerts, time.Now()); err != nil {
		parcelLogger.WithError(err).Info("Skipping untrusted parcel")
		return
	}

	if _, err := d.store.StoreEndpointBound(cm.Body, parcel); err != nil {
		parcelLogger.WithError(err).Warn("Storing inbound parcel errored")
	} else {
		parcelLogger.Debug("Stored inbound parcel")
	}
}

// deliver packs the pending parcel collection acks and the Internet-bound
// parcels into a cargo and hands it to the courier. The acks are deleted once
// the courier acknowledged custody; the parcels stay queued until their own
// acknowledgement arrives from the public gateway.
func (d *Driver) deliver(ctx context.Context, client CargoRelayClient, publicAddress string) error {
	if err := d.notifier.Notify(StageDelivery); err != nil {
		return err
	}

	keys := d.store.Keys()
	nodeKp, nodeCert, err := keys.GetCurrentKey()
	if err != nil {
		return err
	}
	pubGwCert, err := keys.PublicGatewayCertificate()
	if err != nil {
		return err
	}

	acks, err := d.store.PendingAcks()
	if err != nil {
		return err
	}
	refs, err := d.store.ListInternetBound()
	if err != nil {
		return err
	}

	var latestExpiry time.Time

	cms := new(msg.CargoMessageSet)
	for _, ai := range acks {
		ack := ai.Ack()
		if err := cms.AddAck(&ack); err != nil {
			return err
		}
		if ai.ParcelExpiry.After(latestExpiry) {
			latestExpiry = ai.ParcelExpiry
		}
	}
	for _, ref := range refs {
		raw, err := d.store.Retrieve(ref.Key, storage.TowardsInternet)
		if err != nil {
			return err
		}
		if raw == nil {
			// Deleted since the listing, e.g. by an ack from this very sync.
			continue
		}
		cms.AddParcel(raw)
		if ref.Expiry.After(latestExpiry) {
			latestExpiry = ref.Expiry
		}
	}

	if len(cms.Messages) == 0 {
		log.Info("There is no cargo to deliver")
		return nil
	}

	var plaintext bytes.Buffer
	if err := cboring.Marshal(cms, &plaintext); err != nil {
		return err
	}
	payload, err := msg.Seal(plaintext.Bytes(), pubGwCert)
	if err != nil {
		return err
	}

	// The cargo needs to live no longer than its longest-lived message, but
	// never longer than the channel allows.
	now := time.Now()
	creationDate := now.Add(-ClockDriftTolerance)
	expiry := latestExpiry
	if limit := now.Add(OutboundCargoTTL); expiry.After(limit) {
		expiry = limit
	}

	cargo, err := msg.NewCargo("https://"+publicAddress, uuid.NewString(), payload,
		creationDate, expiry.Sub(creationDate), *nodeCert, nodeKp.Signing)
	if err != nil {
		return err
	}

	var raw bytes.Buffer
	if err := cboring.Marshal(cargo, &raw); err != nil {
		return err
	}

	localID := uuid.NewString()
	deliveries := make(chan cogrpc.CargoDelivery, 1)
	deliveries <- cogrpc.CargoDelivery{LocalID: localID, Cargo: raw.Bytes()}
	close(deliveries)

	ackCh, err := client.DeliverCargo(ctx, deliveries)
	if err != nil {
		return err
	}

	acked := false
	for id := range ackCh {
		if id == localID {
			acked = true
		} else {
			log.WithField("localId", id).Warn("Courier acknowledged an unknown cargo")
		}
	}
	if !acked {
		return fmt.Errorf("courier did not acknowledge cargo %s", localID)
	}

	// The courier took custody, so the acks are as good as sent. The parcels
	// are kept until the public gateway acknowledges them end to end.
	for _, ai := range acks {
		if err := d.store.DeleteAck(ai); err != nil {
			return err
		}
	}

	log.WithField("messages", len(cms.Messages)).Info("Delivered cargo to the courier")
	return nil
}
