// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// ParcelCollectionAck proves that an Internet-bound parcel was collected by
// its endpoint. It is shipped back Internet-ward inside a Cargo so the sender
// can garbage-collect the parcel.
type ParcelCollectionAck struct {
	SenderAddress    string
	RecipientAddress string
	ParcelID         string
}

func (ack *ParcelCollectionAck) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	fields := []string{ack.SenderAddress, ack.RecipientAddress, ack.ParcelID}
	for _, f := range fields {
		if err := cboring.WriteTextString(f, w); err != nil {
			return err
		}
	}

	return nil
}

func (ack *ParcelCollectionAck) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 3 {
		return fmt.Errorf("ParcelCollectionAck: expected array of length 3, got %d", n)
	}

	fields := []*string{&ack.SenderAddress, &ack.RecipientAddress, &ack.ParcelID}
	for _, f := range fields {
		if s, err := cboring.ReadTextString(r); err != nil {
			return err
		} else {
			*f = s
		}
	}

	return nil
}
