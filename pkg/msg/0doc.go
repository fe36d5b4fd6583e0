// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package msg implements the messages exchanged between private gateways,
// public gateways, endpoints and couriers: parcels, cargoes, cargo message
// sets, parcel collection acknowledgements, cargo collection authorizations
// and the registration messages. All of them are serialized as CBOR via the
// cboring library.
//
// The package also implements the certificate model these messages rely on.
// Certificates are this suite's own CBOR format, not X.509; a node is
// identified by its private address, a digest of its signing key.
package msg
