// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"io"

	"golang.org/x/image/draw"
)

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// GIF is a [Parser] backed by a decoded [gif.GIF].
//
// The LZW bitstream and colour tables are decoded by the image/gif package;
// GIF only exposes the per-frame rectangles, disposal methods and delays,
// and renders paletted frame pixels to RGBA with the transparent index
// mapped to transparent black.
type GIF struct {
	*gif.GIF

	bounds image.Rectangle
}

var _ Parser = (*GIF)(nil)

// DecodeGIF returns a [GIF] decoded from the provided io.Reader. GIF delay
// and disposal counts are checked for consistency with the frame count.
// Decoder failures, including panics from malformed input, are returned
// as a *DecodeError.
func DecodeGIF(r io.Reader) (_ *GIF, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DecodeError{Frame: -1, Err: fmt.Errorf("gif decoder panic: %v", r)}
		}
	}()
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, &DecodeError{Frame: -1, Err: err}
	}
	return NewGIF(g)
}

// NewGIF returns a [GIF] wrapping an already decoded gif.GIF. If the
// logical screen size in g.Config is zero, the union of the frame bounds
// is used as the canvas.
func NewGIF(g *gif.GIF) (*GIF, error) {
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, &DecodeError{Frame: -1, Err: fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))}
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, &DecodeError{Frame: -1, Err: fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))}
	}
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		for _, frame := range g.Image {
			bounds = bounds.Union(frame.Bounds())
		}
		bounds.Min = image.Point{}
	}
	return &GIF{GIF: g, bounds: bounds}, nil
}

// Bounds returns the logical screen of the GIF.
func (img *GIF) Bounds() image.Rectangle {
	return img.bounds
}

// Len returns the number of frames in the GIF.
func (img *GIF) Len() int {
	return len(img.Image)
}

// Patch returns the dirty rectangle, disposal and delay of the i'th frame.
func (img *GIF) Patch(i int) (Patch, error) {
	if i < 0 || i >= len(img.Image) {
		return Patch{}, errIndex(i, len(img.Image))
	}
	p := Patch{Rect: img.Image[i].Bounds()}
	if img.Disposal != nil {
		p.Disposal = Disposal(img.Disposal[i])
	}
	if img.Delay != nil {
		p.Delay = img.Delay[i]
	}
	return p, nil
}

// DrawFrame renders the i'th frame's pixels into dst.
func (img *GIF) DrawFrame(i int, dst draw.Image) error {
	if i < 0 || i >= len(img.Image) {
		return errIndex(i, len(img.Image))
	}
	frame := img.Image[i]
	if len(frame.Palette) == 0 {
		return errors.New("frame has no colour table")
	}
	draw.Draw(dst, frame.Bounds(), frame, frame.Bounds().Min, draw.Src)
	return nil
}

func errIndex(i, n int) error {
	return fmt.Errorf("frame index out of range: %d not in [0, %d)", i, n)
}
