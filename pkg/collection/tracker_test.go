// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package collection

import "testing"

func TestTracker(t *testing.T) {
	tracker := NewTracker()

	if tracker.IsComplete() {
		t.Fatal("fresh tracker claims completion")
	}

	tracker.AddPendingAck("d1", "k1")
	tracker.AddPendingAck("d2", "k2")

	if key, ok := tracker.PopPendingParcelKey("d1"); !ok || key != "k1" {
		t.Fatalf("expected k1, got %q (%v)", key, ok)
	}
	if _, ok := tracker.PopPendingParcelKey("d1"); ok {
		t.Fatal("delivery ID popped twice")
	}
	if _, ok := tracker.PopPendingParcelKey("never-issued"); ok {
		t.Fatal("unknown delivery ID popped")
	}

	tracker.MarkAllParcelsDelivered()
	if tracker.IsComplete() {
		t.Fatal("tracker complete with a pending ACK")
	}

	if key, ok := tracker.PopPendingParcelKey("d2"); !ok || key != "k2" {
		t.Fatalf("expected k2, got %q (%v)", key, ok)
	}
	if !tracker.IsComplete() {
		t.Fatal("tracker not complete after all ACKs")
	}
}
