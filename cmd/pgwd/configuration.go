// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/relaynet/gateway-go/pkg/poweb"
	"github.com/relaynet/gateway-go/pkg/storage"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Gateway gatewayConf
	Logging logConf
	Server  serverConf
}

// gatewayConf describes the Gateway-configuration block.
type gatewayConf struct {
	Store         string
	PublicAddress string `toml:"public-address"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// serverConf describes the Server-configuration block.
type serverConf struct {
	Listen string
}

// gatewayd is the parsed daemon: its store, its registrar and the endpoints
// it serves.
type gatewayd struct {
	store         *storage.Store
	registrar     *poweb.Registrar
	publicAddress string
	listen        string
}

func parseLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseGateway creates the daemon based on the given TOML configuration.
func parseGateway(filename string) (gwd *gatewayd, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	parseLogging(conf.Logging)

	if conf.Gateway.Store == "" {
		err = fmt.Errorf("gateway.store is empty")
		return
	}

	store, err := storage.NewStore(conf.Gateway.Store)
	if err != nil {
		return
	}

	publicAddress := conf.Gateway.PublicAddress
	if publicAddress == "" {
		publicAddress = poweb.DefaultPublicGateway
	}

	listen := conf.Server.Listen
	if listen == "" {
		listen = "127.0.0.1:13276"
	}

	gwd = &gatewayd{
		store:         store,
		registrar:     poweb.NewRegistrar(store, nil),
		publicAddress: publicAddress,
		listen:        listen,
	}
	return
}
