// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"io"
	"os"
	"path"
	"time"

	"github.com/ulikunitz/xz"
)

// Direction tags a stored parcel's travel direction.
type Direction string

const (
	// FromInternetToEndpoint marks parcels awaiting collection by a local endpoint.
	FromInternetToEndpoint Direction = "FROM_INTERNET_TO_ENDPOINT"
	// TowardsInternet marks parcels awaiting shipment through a courier.
	TowardsInternet Direction = "TOWARDS_INTERNET"
)

// ParcelItem is the metadata row for a stored parcel. The serialized parcel
// itself lives in a blob file next to the database.
type ParcelItem struct {
	Key string `badgerhold:"key"`

	Recipient string    `badgerholdIndex:"Recipient"`
	Direction Direction `badgerholdIndex:"Direction"`
	Expires   time.Time `badgerholdIndex:"Expires"`

	SenderAddress string
	ParcelID      string

	Filename string
}

// storeBlob writes the serialized parcel, xz-compressed, to the item's file.
func (pi ParcelItem) storeBlob(raw []byte) error {
	f, err := os.OpenFile(pi.Filename, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return err
	}

	w, err := xz.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}

	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		_ = f.Close()
		return err
	}

	if err := w.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// loadBlob reads the serialized parcel back. A missing file is reported via
// os.IsNotExist for the raced-deletion case.
func (pi ParcelItem) loadBlob() ([]byte, error) {
	f, err := os.Open(pi.Filename)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r, err := xz.NewReader(f)
	if err != nil {
		return nil, err
	}

	return io.ReadAll(r)
}

// deleteBlob removes the blob file. Removing a missing file is no error.
func (pi ParcelItem) deleteBlob() error {
	if err := os.Remove(pi.Filename); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// blobFilename for a parcel key within the blob directory.
func blobFilename(parcelDir, key string) string {
	return path.Join(parcelDir, key+".parcel.xz")
}
