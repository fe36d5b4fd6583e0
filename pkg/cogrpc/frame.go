// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cogrpc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/howeyc/crc16"
)

var crc16table = crc16.MakeTable(crc16.CCITT)

// A frame is a CBOR byte string followed by a big-endian CRC-16/CCITT of the
// payload. An empty payload terminates a stream.

func writeFrame(w io.Writer, payload []byte) error {
	if err := cboring.WriteByteString(payload, w); err != nil {
		return err
	}

	var crc [2]byte
	binary.BigEndian.PutUint16(crc[:], crc16.Checksum(payload, crc16table))
	_, err := w.Write(crc[:])
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	payload, err := cboring.ReadByteString(r)
	if err != nil {
		return nil, err
	}

	var crc [2]byte
	if _, err := io.ReadFull(r, crc[:]); err != nil {
		return nil, err
	}

	if expected := crc16.Checksum(payload, crc16table); binary.BigEndian.Uint16(crc[:]) != expected {
		return nil, fmt.Errorf("frame checksum mismatch")
	}

	return payload, nil
}
