// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation and live
// reloading.
package config

import (
	"crypto/sha1"
	"encoding/json"
	"hash"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/flipbook/config"
)

// Alias the publicly visible types.
type (
	Player = config.Player
	Deck   = config.Deck
	TLS    = config.TLS
	Sum    = config.Sum
)

// Load reads and validates the TOML configuration at path.
func Load(path string) (*Player, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, _, err := unmarshalConfig(sha1.New(), b)
	return cfg, err
}

// unmarshalConfig returns a validated configuration and its semantic hash
// from the provided raw data. The hash is over the JSON encoding of the
// decoded configuration, so changes to formatting or comments do not alter
// it. If the configuration is invalid, a nil configuration is returned
// with the error and the hash of the invalid configuration.
func unmarshalConfig(h hash.Hash, b []byte) (cfg *Player, sum Sum, _ error) {
	c := &Player{}
	err := toml.Unmarshal(b, c)
	if err != nil {
		return nil, sum, err
	}
	_, verr := Validate(config.Schema, c)

	enc := json.NewEncoder(h)
	err = enc.Encode(c)
	if err != nil {
		return nil, sum, err
	}
	sum = ([sha1.Size]byte)(h.Sum(nil))
	h.Reset()
	if verr != nil {
		return nil, sum, verr
	}
	c.Sum = &sum
	return c, sum, nil
}
