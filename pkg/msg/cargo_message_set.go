// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Tags for the inner messages of a CargoMessageSet. Unknown tags are kept by
// the decoder and must be skipped by the consumer.
const (
	CargoMessageParcel uint64 = 0
	CargoMessageAck    uint64 = 1
)

// CargoMessage is one inner message of a CargoMessageSet: a tag and the
// serialized message itself.
type CargoMessage struct {
	Tag  uint64
	Body []byte
}

// AsParcel deserializes the CargoMessage as a Parcel.
func (cm CargoMessage) AsParcel() (p *Parcel, err error) {
	if cm.Tag != CargoMessageParcel {
		err = fmt.Errorf("CargoMessage: tag %d is not a parcel", cm.Tag)
		return
	}

	p = new(Parcel)
	err = cboring.Unmarshal(p, bytes.NewReader(cm.Body))
	return
}

// AsAck deserializes the CargoMessage as a ParcelCollectionAck.
func (cm CargoMessage) AsAck() (ack *ParcelCollectionAck, err error) {
	if cm.Tag != CargoMessageAck {
		err = fmt.Errorf("CargoMessage: tag %d is not an acknowledgement", cm.Tag)
		return
	}

	ack = new(ParcelCollectionAck)
	err = cboring.Unmarshal(ack, bytes.NewReader(cm.Body))
	return
}

// CargoMessageSet is the plaintext payload of a Cargo: an ordered sequence of
// parcels and parcel collection acknowledgements.
type CargoMessageSet struct {
	Messages []CargoMessage
}

// AddParcel appends an already serialized Parcel.
func (cms *CargoMessageSet) AddParcel(parcelSerialized []byte) {
	cms.Messages = append(cms.Messages, CargoMessage{Tag: CargoMessageParcel, Body: parcelSerialized})
}

// AddAck serializes and appends a ParcelCollectionAck.
func (cms *CargoMessageSet) AddAck(ack *ParcelCollectionAck) error {
	var buf bytes.Buffer
	if err := cboring.Marshal(ack, &buf); err != nil {
		return err
	}

	cms.Messages = append(cms.Messages, CargoMessage{Tag: CargoMessageAck, Body: buf.Bytes()})
	return nil
}

func (cms *CargoMessageSet) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(uint64(len(cms.Messages)), w); err != nil {
		return err
	}

	for _, m := range cms.Messages {
		if err := cboring.WriteArrayLength(2, w); err != nil {
			return err
		}
		if err := cboring.WriteUInt(m.Tag, w); err != nil {
			return err
		}
		if err := cboring.WriteByteString(m.Body, w); err != nil {
			return err
		}
	}

	return nil
}

func (cms *CargoMessageSet) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}

	cms.Messages = make([]CargoMessage, 0, n)
	for i := uint64(0); i < n; i++ {
		if l, err := cboring.ReadArrayLength(r); err != nil {
			return err
		} else if l != 2 {
			return fmt.Errorf("CargoMessageSet: expected inner array of length 2, got %d", l)
		}

		var m CargoMessage
		if m.Tag, err = cboring.ReadUInt(r); err != nil {
			return err
		}
		if m.Body, err = cboring.ReadByteString(r); err != nil {
			return err
		}

		cms.Messages = append(cms.Messages, m)
	}

	return nil
}
