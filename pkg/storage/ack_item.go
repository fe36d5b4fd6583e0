// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"time"

	"github.com/timshannon/badgerhold"

	"github.com/relaynet/gateway-go/pkg/msg"
)

// AckItem is a pending parcel collection acknowledgement: a local endpoint
// collected an Internet-bound parcel and the proof has not been shipped out
// in a cargo yet. The original parcel's expiry date bounds the ack's own
// lifetime on the courier channel.
type AckItem struct {
	ID string `badgerhold:"key"`

	SenderAddress    string
	RecipientAddress string
	ParcelID         string

	ParcelExpiry time.Time
}

func newAckItem(pi ParcelItem) AckItem {
	return AckItem{
		ID:               pi.SenderAddress + "|" + pi.Recipient + "|" + pi.ParcelID,
		SenderAddress:    pi.SenderAddress,
		RecipientAddress: pi.Recipient,
		ParcelID:         pi.ParcelID,
		ParcelExpiry:     pi.Expires,
	}
}

// Ack converts the row back into its wire form.
func (ai AckItem) Ack() msg.ParcelCollectionAck {
	return msg.ParcelCollectionAck{
		SenderAddress:    ai.SenderAddress,
		RecipientAddress: ai.RecipientAddress,
		ParcelID:         ai.ParcelID,
	}
}

// PendingAcks returns all acknowledgements awaiting shipment.
func (s *Store) PendingAcks() (ais []AckItem, err error) {
	err = s.bh.Find(&ais, nil)
	return
}

// DeleteAck removes a pending acknowledgement once it was packed into a cargo
// and the cargo's delivery was acknowledged. Idempotent.
func (s *Store) DeleteAck(ai AckItem) error {
	if err := s.bh.Delete(ai.ID, AckItem{}); err != nil && err != badgerhold.ErrNotFound {
		return err
	}
	return nil
}
