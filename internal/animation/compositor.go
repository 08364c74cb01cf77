// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"fmt"
	"image"
	"time"

	"golang.org/x/image/draw"
)

// Disposal is a GIF frame disposal method.
type Disposal byte

const (
	DisposalUnspecified Disposal = 0
	DisposalNone        Disposal = 1
	DisposalBackground  Disposal = 2
	DisposalPrevious    Disposal = 3
)

func (d Disposal) String() string {
	switch d {
	case DisposalUnspecified:
		return "unspecified"
	case DisposalNone:
		return "none"
	case DisposalBackground:
		return "background"
	case DisposalPrevious:
		return "previous"
	default:
		return fmt.Sprintf("disposal(%d)", byte(d))
	}
}

// Patch is a single frame's delta.
type Patch struct {
	// Rect is the dirty rectangle in canvas coordinates.
	Rect image.Rectangle
	// Disposal is the patch's disposal method.
	Disposal Disposal
	// Delay is the display duration in centiseconds.
	Delay int
}

// Frame is a fully composited animation frame.
type Frame struct {
	Image *image.RGBA
	Delay time.Duration
}

// Compositor maintains the accumulation buffer for a single pass over an
// animation. Patches must be applied in increasing index order and a
// Compositor must not be used concurrently.
type Compositor struct {
	parser Parser

	buf   *image.RGBA
	layer *image.RGBA
	prev  *image.RGBA

	// conformant selects GIF89a disposal. Otherwise
	// background disposal copies the patch into
	// the buffer and previous disposal is ignored.
	conformant bool

	// dirty is the region of layer written by
	// the last patch.
	dirty image.Rectangle
}

// NewCompositor returns a Compositor that composites patches from p into
// buf. The temporary layer is obtained from alloc. If conformant is true,
// disposal follows the GIF89a specification, otherwise background disposal
// replaces the dirty rectangle with the patch pixels and restore previous
// disposal leaves the buffer unchanged.
func NewCompositor(p Parser, buf *image.RGBA, alloc Surface, conformant bool) (*Compositor, error) {
	layer, err := alloc(buf.Bounds())
	if err != nil {
		return nil, err
	}
	c := &Compositor{
		parser:     p,
		buf:        buf,
		layer:      layer,
		conformant: conformant,
	}
	if conformant {
		c.prev, err = alloc(buf.Bounds())
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Apply composites the i'th patch into the accumulation buffer and returns
// a snapshot of the result.
func (c *Compositor) Apply(i int, patch Patch) (Frame, error) {
	// Clear what the previous patch left in the layer.
	if !c.dirty.Empty() {
		draw.Draw(c.layer, c.dirty, image.Transparent, image.Point{}, draw.Src)
	}
	r := patch.Rect.Intersect(c.buf.Bounds())
	c.dirty = r
	if !r.Empty() {
		err := c.parser.DrawFrame(i, c.layer.SubImage(r).(*image.RGBA))
		if err != nil {
			return Frame{}, err
		}
	}

	if c.conformant {
		return c.applyConformant(r, patch), nil
	}
	switch patch.Disposal {
	case DisposalUnspecified, DisposalNone:
		draw.Draw(c.buf, r, c.layer, r.Min, draw.Over)
	case DisposalBackground:
		draw.Draw(c.buf, r, c.layer, r.Min, draw.Src)
	}
	return Frame{Image: c.snapshot(), Delay: delay(patch.Delay)}, nil
}

func (c *Compositor) applyConformant(r image.Rectangle, patch Patch) Frame {
	if patch.Disposal == DisposalPrevious {
		draw.Draw(c.prev, r, c.buf, r.Min, draw.Src)
	}
	draw.Draw(c.buf, r, c.layer, r.Min, draw.Over)
	f := Frame{Image: c.snapshot(), Delay: delay(patch.Delay)}
	switch patch.Disposal {
	case DisposalBackground:
		draw.Draw(c.buf, r, image.Transparent, image.Point{}, draw.Src)
	case DisposalPrevious:
		draw.Draw(c.buf, r, c.prev, r.Min, draw.Src)
	}
	return f
}

// snapshot returns a copy of the accumulation buffer.
func (c *Compositor) snapshot() *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]uint8, len(c.buf.Pix)),
		Stride: c.buf.Stride,
		Rect:   c.buf.Rect,
	}
	copy(dst.Pix, c.buf.Pix)
	return dst
}

// delay converts GIF centiseconds to a duration.
func delay(cs int) time.Duration {
	if cs < 0 {
		return 0
	}
	return 10 * time.Duration(cs) * time.Millisecond
}
