// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"os"
	"path"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/timshannon/badgerhold"

	"github.com/relaynet/gateway-go/pkg/msg"
)

const (
	dirBadger string = "db"
	dirParcel string = "parcels"
)

// Store persists parcels together with their metadata, plus the pending
// parcel collection acknowledgements. Parcel keys are opaque strings minted
// on insertion.
type Store struct {
	bh *badgerhold.Store

	badgerDir string
	parcelDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)
	parcelDir := path.Join(dir, dirParcel)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}
	if dirErr := os.MkdirAll(parcelDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh: bh,

			badgerDir: badgerDir,
			parcelDir: parcelDir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// StoreEndpointBound persists a parcel awaiting collection by a local
// endpoint and returns its minted parcel key.
func (s *Store) StoreEndpointBound(raw []byte, p *msg.Parcel) (string, error) {
	return s.store(raw, p, FromInternetToEndpoint)
}

// StoreInternetBound persists a parcel awaiting shipment through a courier
// and returns its minted parcel key.
func (s *Store) StoreInternetBound(raw []byte, p *msg.Parcel) (string, error) {
	return s.store(raw, p, TowardsInternet)
}

func (s *Store) store(raw []byte, p *msg.Parcel, direction Direction) (key string, err error) {
	key = uuid.NewString()

	pi := ParcelItem{
		Key:           key,
		Recipient:     p.Recipient,
		Direction:     direction,
		Expires:       p.ExpiryDate(),
		SenderAddress: p.SenderCertificate.PrivateAddress(),
		ParcelID:      p.ID,
		Filename:      blobFilename(s.parcelDir, key),
	}

	// The metadata row is inserted before the blob file is written, so a
	// watcher triggered by the file's creation will find the row.
	if err = s.bh.Insert(pi.Key, pi); err != nil {
		return
	}

	if err = pi.storeBlob(raw); err != nil {
		_ = s.bh.Delete(pi.Key, ParcelItem{})
		return
	}

	log.WithFields(log.Fields{
		"parcel":    key,
		"direction": direction,
	}).Debug("Store inserted ParcelItem")

	return
}

// Retrieve the serialized parcel for a key. A missing row or blob yields nil
// without an error; this is the raced-deletion case callers skip silently.
func (s *Store) Retrieve(key string, direction Direction) ([]byte, error) {
	var pi ParcelItem
	if err := s.bh.Get(key, &pi); err == badgerhold.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if pi.Direction != direction {
		return nil, nil
	}

	if raw, err := pi.loadBlob(); os.IsNotExist(err) {
		return nil, nil
	} else {
		return raw, err
	}
}

// Delete a parcel by key. Deleting an unknown key is a no-op.
func (s *Store) Delete(key string, direction Direction) error {
	var pi ParcelItem
	if err := s.bh.Get(key, &pi); err == badgerhold.ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}

	if pi.Direction != direction {
		return nil
	}

	return s.deleteItem(pi)
}

func (s *Store) deleteItem(pi ParcelItem) error {
	if err := pi.deleteBlob(); err != nil {
		log.WithFields(log.Fields{
			"parcel": pi.Key,
			"file":   pi.Filename,
			"error":  err,
		}).Warn("Failed to delete parcel blob")
	}

	if err := s.bh.Delete(pi.Key, ParcelItem{}); err != nil && err != badgerhold.ErrNotFound {
		return err
	}

	log.WithField("parcel", pi.Key).Info("Store deleted ParcelItem")
	return nil
}

// CollectParcel deletes an endpoint-bound parcel after its endpoint
// acknowledged the collection and records the pending acknowledgement to be
// shipped back through the next courier. Unknown keys are a no-op.
func (s *Store) CollectParcel(key string) error {
	var pi ParcelItem
	if err := s.bh.Get(key, &pi); err == badgerhold.ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}

	if pi.Direction != FromInternetToEndpoint {
		return nil
	}

	ai := newAckItem(pi)
	if err := s.bh.Upsert(ai.ID, ai); err != nil {
		return err
	}

	return s.deleteItem(pi)
}

// DeleteInternetBoundFromAck deletes the Internet-bound parcel a received
// parcel collection acknowledgement refers to. Idempotent.
func (s *Store) DeleteInternetBoundFromAck(ack *msg.ParcelCollectionAck) error {
	var pis []ParcelItem
	query := badgerhold.Where("Direction").Eq(TowardsInternet).
		And("ParcelID").Eq(ack.ParcelID).
		And("SenderAddress").Eq(ack.SenderAddress).
		And("Recipient").Eq(ack.RecipientAddress)

	if err := s.bh.Find(&pis, query); err != nil {
		return err
	}

	for _, pi := range pis {
		if err := s.deleteItem(pi); err != nil {
			return err
		}
	}

	return nil
}

// ParcelRef pairs a parcel key with the parcel's expiry date.
type ParcelRef struct {
	Key    string
	Expiry time.Time
}

// ListInternetBound returns references to all active Internet-bound parcels.
func (s *Store) ListInternetBound() (refs []ParcelRef, err error) {
	var pis []ParcelItem
	query := badgerhold.Where("Direction").Eq(TowardsInternet).And("Expires").Gt(time.Now())

	if err = s.bh.Find(&pis, query); err != nil {
		return
	}

	refs = make([]ParcelRef, len(pis))
	for i, pi := range pis {
		refs[i] = ParcelRef{Key: pi.Key, Expiry: pi.Expires}
	}
	return
}

// DeleteExpired removes all expired parcels.
func (s *Store) DeleteExpired() {
	var pis []ParcelItem
	if err := s.bh.Find(&pis, badgerhold.Where("Expires").Lt(time.Now())); err != nil {
		log.WithError(err).Warn("Failed to get expired parcels")
		return
	}

	for _, pi := range pis {
		logger := log.WithField("parcel", pi.Key)
		if err := s.deleteItem(pi); err != nil {
			logger.WithError(err).Warn("Failed to delete expired parcel")
		} else {
			logger.Info("Deleted expired parcel")
		}
	}
}

func (s *Store) queryActive(addresses []string) (pis []ParcelItem, err error) {
	recipients := make([]interface{}, len(addresses))
	for i, a := range addresses {
		recipients[i] = a
	}

	query := badgerhold.Where("Direction").Eq(FromInternetToEndpoint).
		And("Recipient").In(recipients...).
		And("Expires").Gt(time.Now())

	err = s.bh.Find(&pis, query)
	return
}

// StreamActive yields the keys of active parcels bound for the given endpoint
// addresses. Without keepAlive the channel is closed once the current queue
// was enumerated. With keepAlive the Store watches its blob directory and
// re-offers newly stored parcels until the returned cancel function is
// called; a key is offered at most once per stream.
func (s *Store) StreamActive(addresses []string, keepAlive bool) (<-chan string, func()) {
	keys := make(chan string)
	stop := make(chan struct{})

	var stopOnce sync.Once
	cancel := func() { stopOnce.Do(func() { close(stop) }) }

	go func() {
		defer close(keys)

		offered := map[string]struct{}{}

		emit := func() bool {
			pis, err := s.queryActive(addresses)
			if err != nil {
				log.WithError(err).Warn("Failed to query active parcels")
				return false
			}

			for _, pi := range pis {
				if _, ok := offered[pi.Key]; ok {
					continue
				}
				offered[pi.Key] = struct{}{}

				select {
				case keys <- pi.Key:
				case <-stop:
					return false
				}
			}
			return true
		}

		if !emit() || !keepAlive {
			return
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.WithError(err).Warn("Failed to start parcel watcher")
			return
		}
		defer func() { _ = watcher.Close() }()

		if err := watcher.Add(s.parcelDir); err != nil {
			log.WithError(err).Warn("Failed to watch parcel directory")
			return
		}

		// Parcels stored between the first query and the watch would be
		// missed otherwise.
		if !emit() {
			return
		}

		for {
			select {
			case <-stop:
				return

			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Create == 0 {
					continue
				}
				if !emit() {
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("Parcel watcher errored")
			}
		}
	}()

	return keys, cancel
}
