// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package deck provides a Stream Deck key drawable for animation playback.
package deck

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"

	"github.com/kortschak/ardilla"
	"golang.org/x/image/draw"

	"github.com/kortschak/flipbook/internal/playback"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/text"
)

// Device is the set of Stream Deck operations used by a Key.
type Device interface {
	Bounds() (image.Rectangle, error)
	RawImage(img image.Image) (*ardilla.RawImage, error)
	SetImage(row, col int, img image.Image) error
	Reset() error
	Close() error
}

// Key is a playback.Drawable that renders to a single Stream Deck key.
type Key struct {
	mu       sync.Mutex
	dev      Device
	row, col int
	bounds   image.Rectangle
	black    *ardilla.RawImage

	// cache holds the device representation of each
	// frame drawn since the last call to Hide.
	cache map[image.Image]*ardilla.RawImage
	// last is the most recently drawn frame, restored
	// when a ready state follows a state message.
	last *ardilla.RawImage

	log *slog.Logger
}

var _ playback.Drawable = (*Key)(nil)

// Open opens the Stream Deck with the given product ID and serial and
// returns a Key for the button at row and col. If serial is empty the
// first device matching pid is used.
func Open(pid ardilla.PID, serial string, row, col int, log *slog.Logger) (*Key, error) {
	d, err := ardilla.NewDeck(pid, serial)
	if err != nil {
		return nil, err
	}
	if serial == "" {
		serial, err = d.Serial()
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	rows, cols := d.Layout()
	model := d.PID()
	log.LogAttrs(context.Background(), slog.LevelInfo, "opened deck", slog.String("pid", fmt.Sprintf("0x%04x", uint16(model))), slog.String("model", model.String()), slog.String("serial", serial))
	if row < 0 || row >= rows || col < 0 || col >= cols {
		d.Close()
		return nil, fmt.Errorf("key out of range: (%d,%d) not in %dx%d layout", row, col, rows, cols)
	}
	k, err := NewKey(&locked{Deck: d}, row, col, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	return k, nil
}

// NewKey returns a Key rendering to the button at row and col of dev.
func NewKey(dev Device, row, col int, log *slog.Logger) (*Key, error) {
	bounds, err := dev.Bounds()
	if err != nil {
		return nil, err
	}
	if bounds.Empty() {
		return nil, fmt.Errorf("device key has no image surface: %v", bounds)
	}
	blank := image.NewRGBA(bounds)
	draw.Draw(blank, bounds, image.Black, image.Point{}, draw.Src)
	black, err := dev.RawImage(blank)
	if err != nil {
		return nil, err
	}
	return &Key{
		dev:    dev,
		row:    row,
		col:    col,
		bounds: bounds,
		black:  black,
		cache:  make(map[image.Image]*ardilla.RawImage),
		log:    log.With(slog.String("component", "deck")),
	}, nil
}

// Draw renders img scaled to fit the key.
func (k *Key) Draw(img image.Image) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	raw, ok := k.cache[img]
	if !ok {
		dst := image.NewRGBA(k.bounds)
		draw.Draw(dst, k.bounds, image.Black, image.Point{}, draw.Src)
		src := img.Bounds()
		draw.BiLinear.Scale(dst, text.Fit(k.bounds, src), img, src, draw.Over, nil)
		var err error
		raw, err = k.dev.RawImage(dst)
		if err != nil {
			return err
		}
		k.log.LogAttrs(context.Background(), slog.LevelDebug, "cache frame", slog.Any("size", slogext.Image{Width: src.Dx(), Height: src.Dy()}))
		k.cache[img] = raw
	}
	k.last = raw
	return k.dev.SetImage(k.row, k.col, raw)
}

// Hide blanks the key and discards cached frames.
func (k *Key) Hide() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	clear(k.cache)
	k.last = nil
	return k.dev.SetImage(k.row, k.col, k.black)
}

// SetState renders a message for loading and error states. A ready
// state restores the last frame drawn, since a state message may be
// delivered after the first frame of the animation has been drawn.
func (k *Key) SetState(st playback.State) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var img image.Image
	switch st.Kind {
	case playback.Loading:
		img = k.message("loading", color.White)
	case playback.Error:
		img = k.message(st.Message, color.RGBA{R: 0xff, A: 0xff})
	case playback.Ready:
		if k.last == nil {
			return
		}
		img = k.last
	default:
		return
	}
	err := k.dev.SetImage(k.row, k.col, img)
	if err != nil {
		k.log.LogAttrs(context.Background(), slog.LevelError, "failed to show state", slog.String("state", st.Kind.String()), slog.Any("error", err))
	}
}

func (k *Key) message(msg string, fg color.Color) image.Image {
	dst := image.NewRGBA(k.bounds)
	text.Message(dst, msg, fg, color.Black)
	return dst
}

// Close resets and closes the device.
func (k *Key) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dev.Reset()
	return k.dev.Close()
}

// locked serialises access to the deck.
type locked struct {
	mu sync.Mutex
	*ardilla.Deck
}

func (d *locked) SetImage(row, col int, img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Deck.SetImage(row, col, img)
}

func (d *locked) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Deck.Reset()
}
