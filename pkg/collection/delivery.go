// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package collection

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// ParcelDelivery is the server's frame offering one parcel to the endpoint.
// The endpoint acknowledges it by echoing the delivery ID as a text frame.
type ParcelDelivery struct {
	DeliveryID       string
	ParcelSerialized []byte
}

func (pd *ParcelDelivery) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(pd.DeliveryID, w); err != nil {
		return err
	}
	return cboring.WriteByteString(pd.ParcelSerialized, w)
}

func (pd *ParcelDelivery) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("ParcelDelivery: expected array of length 2, got %d", n)
	}

	if id, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		pd.DeliveryID = id
	}

	if raw, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		pd.ParcelSerialized = raw
	}
	return nil
}
