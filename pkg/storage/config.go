// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"github.com/timshannon/badgerhold"
)

// Config keys used by the gateway. A missing ConfigPublicGatewayAddress means
// the gateway is not registered yet.
const (
	ConfigPublicGatewayAddress = "public_gateway_address"
	ConfigNodeKeySerial        = "node_key_serial_number"
	ConfigCCAIssuerKeySerial   = "cca_issuer_key_serial_number"
)

// ConfigItem is one persisted key/value pair.
type ConfigItem struct {
	Key   string `badgerhold:"key"`
	Value string
}

// ConfigStore is a small key to string mapping persisted across restarts.
type ConfigStore struct {
	bh *badgerhold.Store
}

// Config returns the configuration table of this Store.
func (s *Store) Config() *ConfigStore {
	return &ConfigStore{bh: s.bh}
}

// Get a configuration value. A missing key yields an empty string, no error.
func (cs *ConfigStore) Get(key string) (string, error) {
	var ci ConfigItem
	if err := cs.bh.Get(key, &ci); err == badgerhold.ErrNotFound {
		return "", nil
	} else if err != nil {
		return "", err
	}
	return ci.Value, nil
}

// Set a configuration value, overwriting a present one.
func (cs *ConfigStore) Set(key, value string) error {
	return cs.bh.Upsert(key, ConfigItem{Key: key, Value: value})
}
