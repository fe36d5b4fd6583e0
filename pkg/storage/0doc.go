// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists the private gateway's state: parcels (metadata in
// a badgerhold database, serialized parcels as xz-compressed blob files),
// pending parcel collection acknowledgements, the node's key material and a
// small key/value configuration table.
package storage
