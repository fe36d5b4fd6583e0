// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dtn7/cboring"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/gateway-go/pkg/cogrpc"
	"github.com/relaynet/gateway-go/pkg/msg"
	"github.com/relaynet/gateway-go/pkg/storage"
)

// fakeRelay replaces the cogrpc.Client, handing out scripted cargo and
// acknowledging every delivery.
type fakeRelay struct {
	cargoes [][]byte

	cca       []byte
	delivered []cogrpc.CargoDelivery
	closed    bool
}

func (fr *fakeRelay) CollectCargo(_ context.Context, cca []byte) (<-chan []byte, error) {
	fr.cca = cca

	ch := make(chan []byte, len(fr.cargoes))
	for _, cargo := range fr.cargoes {
		ch <- cargo
	}
	close(ch)
	return ch, nil
}

func (fr *fakeRelay) DeliverCargo(_ context.Context, deliveries <-chan cogrpc.CargoDelivery) (<-chan string, error) {
	acks := make(chan string, 16)
	go func() {
		defer close(acks)
		for d := range deliveries {
			fr.delivered = append(fr.delivered, d)
			acks <- d.LocalID
		}
	}()
	return acks, nil
}

func (fr *fakeRelay) Close() error {
	fr.closed = true
	return nil
}

// driverBench is a registered gateway with a fake courier: a public gateway
// identity, a node key issued by it, a pre-created CCA issuer and an endpoint
// certified by the node.
type driverBench struct {
	store  *storage.Store
	driver *Driver
	relay  *fakeRelay
	out    *bytes.Buffer

	gwKp   msg.KeyPair
	gwCert *msg.Certificate

	nodeKp   msg.KeyPair
	nodeCert *msg.Certificate

	issuerKp   msg.KeyPair
	issuerCert *msg.Certificate

	endpointKp   msg.KeyPair
	endpointCert *msg.Certificate
}

func newDriverBench(t *testing.T) *driverBench {
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now()

	gwKp, err := msg.GenerateKeyPair()
	require.NoError(t, err)
	gwCert, err := gwKp.SelfIssue("public gateway", now.Add(-time.Hour), now.Add(365*24*time.Hour))
	require.NoError(t, err)

	nodeKp, err := msg.GenerateKeyPair()
	require.NoError(t, err)
	nodeCert, err := msg.IssueCertificate("private gateway", nodeKp.PublicKey(), nodeKp.AgreementPublicKey(),
		gwKp.Signing, gwCert, now.Add(-time.Hour), now.Add(365*24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, store.Keys().SaveNodeKey(nodeKp, nodeCert))
	require.NoError(t, store.Keys().SavePublicGatewayCertificate(gwCert))
	require.NoError(t, store.Config().Set(storage.ConfigPublicGatewayAddress, "braavos.relaycorp.cloud"))

	// Outlive the CCA the driver is about to mint, so the issuer gets reused.
	issuerKp, issuerCert, err := store.Keys().GetOrCreateCCAIssuer(
		now.Add(-ClockDriftTolerance), now.Add(OutboundCargoTTL+time.Hour))
	require.NoError(t, err)

	endpointKp, err := msg.GenerateKeyPair()
	require.NoError(t, err)
	endpointCert, err := msg.IssueCertificate("endpoint", endpointKp.PublicKey(), endpointKp.AgreementPublicKey(),
		nodeKp.Signing, nodeCert, now.Add(-time.Hour), now.Add(365*24*time.Hour))
	require.NoError(t, err)

	relay := &fakeRelay{}
	out := new(bytes.Buffer)

	driver := NewDriver(store, out)
	driver.newClient = func(string) CargoRelayClient { return relay }
	driver.defaultGateway = func() (string, error) { return "192.168.0.1", nil }
	driver.sleep = func(time.Duration) {}

	return &driverBench{
		store: store, driver: driver, relay: relay, out: out,
		gwKp: gwKp, gwCert: gwCert,
		nodeKp: nodeKp, nodeCert: nodeCert,
		issuerKp: issuerKp, issuerCert: issuerCert,
		endpointKp: endpointKp, endpointCert: endpointCert,
	}
}

func (b *driverBench) makeParcel(t *testing.T, recipient, id string) (*msg.Parcel, []byte) {
	now := time.Now()
	parcel, err := msg.NewParcel(recipient, id, []byte("payload of "+id),
		now.Add(-time.Minute), time.Hour, *b.endpointCert, b.endpointKp.Signing)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cboring.Marshal(parcel, &buf))
	return parcel, buf.Bytes()
}

// makeInboundCargo wraps the CargoMessageSet the way the public gateway
// would: sealed to the node and signed with a cargo delivery authorization
// minted by the CCA issuer.
func (b *driverBench) makeInboundCargo(t *testing.T, cms *msg.CargoMessageSet) []byte {
	now := time.Now()

	var plaintext bytes.Buffer
	require.NoError(t, cboring.Marshal(cms, &plaintext))

	payload, err := msg.Seal(plaintext.Bytes(), b.nodeCert)
	require.NoError(t, err)

	cda, err := msg.IssueCertificate("cargo delivery authorization",
		b.gwKp.PublicKey(), b.gwKp.AgreementPublicKey(),
		b.issuerKp.Signing, b.issuerCert, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	cargo, err := msg.NewCargo(b.nodeCert.PrivateAddress(), "cargo-inbound", payload,
		now.Add(-time.Minute), time.Hour, *cda, b.gwKp.Signing)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cboring.Marshal(cargo, &buf))
	return buf.Bytes()
}

func (b *driverBench) reportedStages(t *testing.T) (stages []Stage) {
	scanner := bufio.NewScanner(bytes.NewReader(b.out.Bytes()))
	for scanner.Scan() {
		stage, ok := ParseStageLine(scanner.Bytes())
		require.True(t, ok, "unexpected line: %s", scanner.Text())
		stages = append(stages, stage)
	}
	return
}

func TestRunSynchronizes(t *testing.T) {
	b := newDriverBench(t)

	// Two parcels are queued for the Internet; the inbound cargo will
	// acknowledge one of them.
	outParcel, outRaw := b.makeParcel(t, "https://example.com", "p-out")
	_, err := b.store.StoreInternetBound(outRaw, outParcel)
	require.NoError(t, err)

	ackedParcel, ackedRaw := b.makeParcel(t, "https://example.com", "p-acked")
	_, err = b.store.StoreInternetBound(ackedRaw, ackedParcel)
	require.NoError(t, err)

	// One endpoint-bound parcel was already collected, leaving a pending ack.
	collected, collectedRaw := b.makeParcel(t, b.endpointKp.PrivateAddress(), "p-collected")
	collectedKey, err := b.store.StoreEndpointBound(collectedRaw, collected)
	require.NoError(t, err)
	require.NoError(t, b.store.CollectParcel(collectedKey))

	_, inRaw := b.makeParcel(t, b.endpointKp.PrivateAddress(), "p-in")

	cms := new(msg.CargoMessageSet)
	cms.AddParcel(inRaw)
	require.NoError(t, cms.AddAck(&msg.ParcelCollectionAck{
		SenderAddress:    b.endpointCert.PrivateAddress(),
		RecipientAddress: "https://example.com",
		ParcelID:         "p-acked",
	}))
	cms.Messages = append(cms.Messages, msg.CargoMessage{Tag: 99, Body: []byte("from the future")})

	strangerKp, err := msg.GenerateKeyPair()
	require.NoError(t, err)
	strangerCert, err := strangerKp.SelfIssue("stranger", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	strangerCargo, err := msg.NewCargo(b.nodeCert.PrivateAddress(), "cargo-stranger", []byte("nonsense"),
		time.Now().Add(-time.Minute), time.Hour, *strangerCert, strangerKp.Signing)
	require.NoError(t, err)
	var strangerRaw bytes.Buffer
	require.NoError(t, cboring.Marshal(strangerCargo, &strangerRaw))

	b.relay.cargoes = [][]byte{
		[]byte("this is no cargo"),
		strangerRaw.Bytes(),
		b.makeInboundCargo(t, cms),
	}

	require.Equal(t, ExitSynchronized, b.driver.Run(context.Background()))
	require.True(t, b.relay.closed)
	require.Equal(t, []Stage{StageCollection, StageWait, StageDelivery}, b.reportedStages(t))

	// The CCA addresses the public gateway and covers the whole cargo TTL
	// plus the clock drift tolerance.
	cca := new(msg.CargoCollectionAuthorization)
	require.NoError(t, cboring.Unmarshal(cca, bytes.NewReader(b.relay.cca)))
	require.Equal(t, "https://braavos.relaycorp.cloud", cca.Recipient)
	require.Equal(t, OutboundCargoTTL+ClockDriftTolerance, cca.ExpiryDate().Sub(cca.CreationDate))
	require.True(t, cca.IsValidAt(time.Now()))

	ccrPlaintext, err := msg.Unseal(cca.Payload, b.gwKp.Agreement)
	require.NoError(t, err)
	ccr := new(msg.CargoCollectionRequest)
	require.NoError(t, cboring.Unmarshal(ccr, bytes.NewReader(ccrPlaintext)))
	require.Equal(t, b.gwCert.PrivateAddress(), ccr.CargoDeliveryAuthorization.PrivateAddress())
	require.Equal(t, b.issuerCert.PrivateAddress(), ccr.CargoDeliveryAuthorization.IssuerAddress)

	// The inbound parcel landed in the endpoint-bound queue.
	keys, cancel := b.store.StreamActive([]string{b.endpointKp.PrivateAddress()}, false)
	var stored []string
	for key := range keys {
		stored = append(stored, key)
	}
	cancel()
	require.Len(t, stored, 1)
	raw, err := b.store.Retrieve(stored[0], storage.FromInternetToEndpoint)
	require.NoError(t, err)
	require.Equal(t, inRaw, raw)

	// The acknowledged parcel is gone, the other one was delivered but stays
	// queued until its own acknowledgement arrives.
	refs, err := b.store.ListInternetBound()
	require.NoError(t, err)
	require.Len(t, refs, 1)

	require.Len(t, b.relay.delivered, 1)
	cargo := new(msg.Cargo)
	require.NoError(t, cboring.Unmarshal(cargo, bytes.NewReader(b.relay.delivered[0].Cargo)))
	require.Equal(t, "https://braavos.relaycorp.cloud", cargo.Recipient)
	require.NoError(t, cargo.Verify([]*msg.Certificate{b.gwCert}, time.Now()))

	// The cargo lives exactly as long as its longest-lived message: the
	// delivered parcel or the parcel behind the pending ack, not the full
	// channel TTL.
	latestExpiry := collected.ExpiryDate()
	if expiry := outParcel.ExpiryDate(); expiry.After(latestExpiry) {
		latestExpiry = expiry
	}
	require.WithinDuration(t, latestExpiry, cargo.ExpiryDate(), 2*time.Second)

	outPlaintext, err := msg.Unseal(cargo.Payload, b.gwKp.Agreement)
	require.NoError(t, err)
	outCms := new(msg.CargoMessageSet)
	require.NoError(t, cboring.Unmarshal(outCms, bytes.NewReader(outPlaintext)))
	require.Len(t, outCms.Messages, 2)

	ack, err := outCms.Messages[0].AsAck()
	require.NoError(t, err)
	require.Equal(t, "p-collected", ack.ParcelID)

	deliveredParcel, err := outCms.Messages[1].AsParcel()
	require.NoError(t, err)
	require.Equal(t, "p-out", deliveredParcel.ID)

	// The courier took custody of the ack.
	acks, err := b.store.PendingAcks()
	require.NoError(t, err)
	require.Empty(t, acks)
}

func TestRunUnregistered(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clients := 0
	driver := NewDriver(store, new(bytes.Buffer))
	driver.newClient = func(string) CargoRelayClient {
		clients++
		return &fakeRelay{}
	}

	require.Equal(t, ExitUnregistered, driver.Run(context.Background()))
	require.Zero(t, clients)
}

func TestRunNoCourier(t *testing.T) {
	b := newDriverBench(t)
	b.driver.defaultGateway = func() (string, error) {
		return "", fmt.Errorf("no default route")
	}

	require.Equal(t, ExitFailedSync, b.driver.Run(context.Background()))
	require.Empty(t, b.reportedStages(t))
}

func TestRunNothingToDeliver(t *testing.T) {
	b := newDriverBench(t)

	require.Equal(t, ExitSynchronized, b.driver.Run(context.Background()))
	require.Equal(t, []Stage{StageCollection, StageWait, StageDelivery}, b.reportedStages(t))
	require.Empty(t, b.relay.delivered)
}
