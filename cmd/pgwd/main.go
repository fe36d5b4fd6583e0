// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/relaynet/gateway-go/pkg/collection"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	gwd, err := parseGateway(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	// An offline start is fine; registration is retried on the next start.
	if err := gwd.registrar.Register(context.Background(), gwd.publicAddress); err != nil {
		log.WithFields(log.Fields{
			"publicAddress": gwd.publicAddress,
			"error":         err,
		}).Warn("Registration with the public gateway failed, running unregistered")
	}

	router := mux.NewRouter()
	router.Handle("/v1/parcel-collection", collection.NewServer(gwd.store))

	srv := &http.Server{Addr: gwd.listen, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.WithFields(log.Fields{
				"error": err,
			}).Fatal("Parcel collection server failed")
		}
	}()

	log.WithFields(log.Fields{
		"listen": gwd.listen,
	}).Info("Serving parcel collection")

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()
	go func() {
		for range cleanup.C {
			gwd.store.DeleteExpired()
		}
	}()

	waitSigint()
	log.Info("Shutting down..")

	_ = srv.Shutdown(context.Background())

	if err := gwd.store.Close(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Closing the store errored")
	}
}
