// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package collection

import "sync"

// Tracker records a session's in-flight parcel deliveries: which delivery IDs
// were handed out and which parcel keys they stand for. It is owned by one
// session; the mutex only serializes that session's delivery and ACK tasks.
type Tracker struct {
	sync.Mutex

	pending map[string]string
	allSent bool
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: map[string]string{}}
}

// AddPendingAck records a delivery ID for a parcel key.
func (t *Tracker) AddPendingAck(deliveryID, parcelKey string) {
	t.Lock()
	defer t.Unlock()

	t.pending[deliveryID] = parcelKey
}

// PopPendingParcelKey removes a delivery ID and returns its parcel key. The
// second return value is false for delivery IDs this session never issued.
func (t *Tracker) PopPendingParcelKey(deliveryID string) (string, bool) {
	t.Lock()
	defer t.Unlock()

	key, ok := t.pending[deliveryID]
	if ok {
		delete(t.pending, deliveryID)
	}
	return key, ok
}

// MarkAllParcelsDelivered records that the delivery direction has ended.
func (t *Tracker) MarkAllParcelsDelivered() {
	t.Lock()
	defer t.Unlock()

	t.allSent = true
}

// IsComplete is true once all parcels were sent and every ACK came in.
func (t *Tracker) IsComplete() bool {
	t.Lock()
	defer t.Unlock()

	return t.allSent && len(t.pending) == 0
}
