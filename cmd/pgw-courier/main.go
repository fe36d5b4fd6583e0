// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// pgw-courier runs one synchronization with the courier on the local network
// and exits. Stage notifications go to stdout as JSON lines; the exit code
// tells the parent how the synchronization went.
package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/relaynet/gateway-go/pkg/courier"
	"github.com/relaynet/gateway-go/pkg/storage"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s store-directory", os.Args[0])
	}

	// Stdout belongs to the stage notifications.
	log.SetOutput(os.Stderr)

	store, err := storage.NewStore(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Opening the store errored")
		os.Exit(courier.ExitFailedSync)
	}

	code := courier.NewDriver(store, os.Stdout).Run(context.Background())

	if err := store.Close(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Closing the store errored")
	}

	os.Exit(code)
}
