// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides flipbook player configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/kortschak/ardilla"
)

// Player is a complete player configuration.
type Player struct {
	// Source is the animation source identifier. It may be a file
	// path, a file, http or https URL, or a data URI.
	Source string `json:"source,omitempty" toml:"source"`
	// Autoplay indicates that playback should start when a
	// source has been decoded.
	Autoplay bool `json:"autoplay,omitempty" toml:"autoplay"`
	// Conformant selects GIF89a disposal semantics.
	Conformant bool `json:"conformant,omitempty" toml:"conformant"`
	// Delay is a CEL expression evaluated to obtain the playback
	// delay for each frame. See the timing package.
	Delay string `json:"delay,omitempty" toml:"delay"`
	// Network is the network the control server is listening on.
	Network string `json:"network,omitempty" toml:"network"`
	// Resume indicates that the last frame shown for a source
	// should be used as the starting frame when it is reloaded.
	Resume    bool        `json:"resume,omitempty" toml:"resume"`
	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`
	// Drawable is the output surface: "term", "deck" or "none".
	Drawable string `json:"drawable,omitempty" toml:"drawable"`
	// Deck is the Stream Deck key used when Drawable is "deck".
	Deck *Deck `json:"deck,omitempty" toml:"deck"`
	// TLS holds the certificate paths for a tcp control server.
	TLS *TLS `json:"tls,omitempty" toml:"tls"`

	Sum *Sum `json:"sum,omitempty"`
}

// Deck is a Stream Deck key location.
type Deck struct {
	// PID is the product ID of the device.
	PID ardilla.PID `json:"pid,omitempty" toml:"pid"`
	// Serial is the device serial number. If it is empty, the
	// first device matching PID is used.
	Serial string `json:"serial,omitempty" toml:"serial"`
	Row    int    `json:"row,omitempty" toml:"row"`
	Col    int    `json:"col,omitempty" toml:"col"`
}

// TLS is a set of PEM file paths. If CA is set, clients must
// present a certificate signed by it.
type TLS struct {
	CA   string `json:"ca,omitempty" toml:"ca"`
	Cert string `json:"cert,omitempty" toml:"cert"`
	Key  string `json:"key,omitempty" toml:"key"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	source?:         string
	autoplay?:       bool
	conformant?:     bool
	delay?:          !=""
	network?:        "tcp" | "unix"
	resume?:         bool
	log_level?:      _#log_level
	log_add_source?: bool
	drawable?:       "term" | "deck" | "none"
	deck?:           _#deck
	tls?:            _#tls
}

_#deck: {
	pid?:    uint16
	serial?: string
	row?:    uint
	col?:    uint
}

_#tls: {
	ca?:   string
	cert?: string
	key?:  string
}

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
