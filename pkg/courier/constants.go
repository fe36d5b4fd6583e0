// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import "time"

// CourierPort is the TCP port couriers listen on for the cargo relay.
const CourierPort = 21473

const (
	// DelayBetweenCollectionAndDelivery gives the courier time to settle
	// between the two phases of a synchronization.
	DelayBetweenCollectionAndDelivery = 5 * time.Second

	// ClockDriftTolerance backdates outbound messages so that a courier or
	// public gateway with a slightly slow clock still accepts them.
	ClockDriftTolerance = 90 * time.Minute

	// OutboundCargoTTL bounds how long cargo may sit on the courier channel
	// before it is discarded.
	OutboundCargoTTL = 14 * 24 * time.Hour
)

const (
	// CourierCheckTimeout bounds a courier connectivity probe.
	CourierCheckTimeout = 3 * time.Second

	// CourierCheckRetry is the pause between connection attempts of a probe.
	CourierCheckRetry = 500 * time.Millisecond
)
