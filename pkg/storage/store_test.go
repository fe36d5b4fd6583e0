// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/dtn7/cboring"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/gateway-go/pkg/msg"
)

func newTestStore(t *testing.T) *Store {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeParcel(t *testing.T, recipient, id string) (*msg.Parcel, []byte) {
	kp, err := msg.GenerateKeyPair()
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	cert, err := kp.SelfIssue("sender", now.Add(-time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)

	p, err := msg.NewParcel(recipient, id, []byte("payload of "+id), now, time.Hour, *cert, kp.Signing)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cboring.Marshal(p, &buf))

	return p, buf.Bytes()
}

func TestStoreRetrieveDelete(t *testing.T) {
	s := newTestStore(t)

	p, raw := makeParcel(t, "0recipient", "p1")
	key, err := s.StoreEndpointBound(raw, p)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	got, err := s.Retrieve(key, FromInternetToEndpoint)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	got, err = s.Retrieve(key, TowardsInternet)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.Delete(key, FromInternetToEndpoint))

	got, err = s.Retrieve(key, FromInternetToEndpoint)
	require.NoError(t, err)
	require.Nil(t, got)

	// Idempotent
	require.NoError(t, s.Delete(key, FromInternetToEndpoint))
}

func TestCollectParcel(t *testing.T) {
	s := newTestStore(t)

	p, raw := makeParcel(t, "0recipient", "p2")
	key, err := s.StoreEndpointBound(raw, p)
	require.NoError(t, err)

	require.NoError(t, s.CollectParcel(key))

	got, err := s.Retrieve(key, FromInternetToEndpoint)
	require.NoError(t, err)
	require.Nil(t, got)

	acks, err := s.PendingAcks()
	require.NoError(t, err)
	require.Len(t, acks, 1)
	require.Equal(t, "p2", acks[0].ParcelID)
	require.Equal(t, "0recipient", acks[0].RecipientAddress)
	require.Equal(t, p.SenderCertificate.PrivateAddress(), acks[0].SenderAddress)
	require.Equal(t, p.ExpiryDate().Unix(), acks[0].ParcelExpiry.Unix())

	// Collecting an already collected parcel changes nothing.
	require.NoError(t, s.CollectParcel(key))
	acks, err = s.PendingAcks()
	require.NoError(t, err)
	require.Len(t, acks, 1)

	require.NoError(t, s.DeleteAck(acks[0]))
	require.NoError(t, s.DeleteAck(acks[0]))

	acks, err = s.PendingAcks()
	require.NoError(t, err)
	require.Empty(t, acks)
}

func TestDeleteInternetBoundFromAck(t *testing.T) {
	s := newTestStore(t)

	p, raw := makeParcel(t, "https://example.com", "p3")
	key, err := s.StoreInternetBound(raw, p)
	require.NoError(t, err)

	ack := msg.ParcelCollectionAck{
		SenderAddress:    p.SenderCertificate.PrivateAddress(),
		RecipientAddress: "https://example.com",
		ParcelID:         "p3",
	}

	require.NoError(t, s.DeleteInternetBoundFromAck(&ack))

	got, err := s.Retrieve(key, TowardsInternet)
	require.NoError(t, err)
	require.Nil(t, got)

	// Idempotent
	require.NoError(t, s.DeleteInternetBoundFromAck(&ack))
}

func TestListInternetBound(t *testing.T) {
	s := newTestStore(t)

	p, raw := makeParcel(t, "https://example.com", "p4")
	key, err := s.StoreInternetBound(raw, p)
	require.NoError(t, err)

	pEndpoint, rawEndpoint := makeParcel(t, "0recipient", "p5")
	_, err = s.StoreEndpointBound(rawEndpoint, pEndpoint)
	require.NoError(t, err)

	refs, err := s.ListInternetBound()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, key, refs[0].Key)
	require.Equal(t, p.ExpiryDate().Unix(), refs[0].Expiry.Unix())
}

func TestStreamActiveDrain(t *testing.T) {
	s := newTestStore(t)

	p1, raw1 := makeParcel(t, "0recipient", "p6")
	key1, err := s.StoreEndpointBound(raw1, p1)
	require.NoError(t, err)

	p2, raw2 := makeParcel(t, "0recipient", "p7")
	key2, err := s.StoreEndpointBound(raw2, p2)
	require.NoError(t, err)

	pOther, rawOther := makeParcel(t, "0other", "p8")
	_, err = s.StoreEndpointBound(rawOther, pOther)
	require.NoError(t, err)

	keys, cancel := s.StreamActive([]string{"0recipient"}, false)
	defer cancel()

	var got []string
	for key := range keys {
		got = append(got, key)
	}
	require.ElementsMatch(t, []string{key1, key2}, got)
}

func TestStreamActiveKeepAlive(t *testing.T) {
	s := newTestStore(t)

	keys, cancel := s.StreamActive([]string{"0recipient"}, true)
	defer cancel()

	// Let the directory watch settle before storing.
	time.Sleep(250 * time.Millisecond)

	p, raw := makeParcel(t, "0recipient", "p9")
	key, err := s.StoreEndpointBound(raw, p)
	require.NoError(t, err)

	select {
	case got := <-keys:
		require.Equal(t, key, got)
	case <-time.After(3 * time.Second):
		t.Fatal("parcel key was not re-offered")
	}

	cancel()
	for range keys {
	}
}

func TestConfigStore(t *testing.T) {
	cs := newTestStore(t).Config()

	value, err := cs.Get(ConfigPublicGatewayAddress)
	require.NoError(t, err)
	require.Empty(t, value)

	require.NoError(t, cs.Set(ConfigPublicGatewayAddress, "braavos.relaycorp.cloud"))

	value, err = cs.Get(ConfigPublicGatewayAddress)
	require.NoError(t, err)
	require.Equal(t, "braavos.relaycorp.cloud", value)

	require.NoError(t, cs.Set(ConfigPublicGatewayAddress, "frankfurt.relaycorp.cloud"))

	value, err = cs.Get(ConfigPublicGatewayAddress)
	require.NoError(t, err)
	require.Equal(t, "frankfurt.relaycorp.cloud", value)
}

func TestKeyStore(t *testing.T) {
	ks := newTestStore(t).Keys()

	_, _, err := ks.GetCurrentKey()
	require.ErrorIs(t, err, ErrNoKey)

	kp, err := msg.GenerateKeyPair()
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	cert, err := kp.SelfIssue("private gateway", now.Add(-time.Hour), now.Add(24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, ks.SaveNodeKey(kp, cert))

	gotKp, gotCert, err := ks.GetCurrentKey()
	require.NoError(t, err)
	require.Equal(t, kp.Signing, gotKp.Signing)
	require.Equal(t, cert.SerialNumber, gotCert.SerialNumber)

	issuerKp, issuerCert, err := ks.GetOrCreateCCAIssuer(now.Add(-time.Hour), now.Add(12*time.Hour))
	require.NoError(t, err)
	require.True(t, issuerCert.IsSelfIssued())

	// A second call reuses the stored issuer.
	issuerKp2, issuerCert2, err := ks.GetOrCreateCCAIssuer(now.Add(-time.Hour), now.Add(12*time.Hour))
	require.NoError(t, err)
	require.Equal(t, issuerCert.SerialNumber, issuerCert2.SerialNumber)
	require.Equal(t, issuerKp.Signing, issuerKp2.Signing)

	certs, err := ks.FetchNodeCertificates()
	require.NoError(t, err)
	require.Len(t, certs, 2)

	_, err = ks.PublicGatewayCertificate()
	require.ErrorIs(t, err, ErrNoCertificate)

	require.NoError(t, ks.SavePublicGatewayCertificate(cert))

	pubGwCert, err := ks.PublicGatewayCertificate()
	require.NoError(t, err)
	require.Equal(t, cert.SerialNumber, pubGwCert.SerialNumber)
}
