// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package courier synchronizes the gateway with a courier on the local
// network. The heavy lifting happens in a short-lived subprocess driven by
// Driver: it collects inbound cargo with a fresh Cargo Collection
// Authorization, waits a moment and then delivers the queued outbound cargo.
// The parent process runs a Manager, which launches the subprocess, follows
// its stage notifications and exposes them as UI-facing statuses.
package courier
