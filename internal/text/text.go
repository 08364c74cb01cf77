// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package text provides layout helpers for rendering frames and status
// messages onto small raster and character surfaces.
package text

import (
	"image"
	"image/color"
	"strings"

	"github.com/bbrks/wrap/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Face is the font used for rendering messages.
var Face = basicfont.Face7x13

// Fit returns the largest rectangle with the aspect ratio of src that fits
// within dst, centred in dst. It is intended for use as the destination
// rectangle in a call to a draw.Scaler.
//
//	draw.BiLinear.Scale(dst, Fit(dst.Bounds(), src.Bounds()), src, src.Bounds(), op, opts)
func Fit(dst, src image.Rectangle) image.Rectangle {
	sx, sy := src.Dx(), src.Dy()
	dx, dy := dst.Dx(), dst.Dy()
	if sx <= 0 || sy <= 0 || dx <= 0 || dy <= 0 {
		return image.Rectangle{Min: dst.Min, Max: dst.Min}
	}
	w, h := dx, sy*dx/sx
	if h > dy {
		w, h = sx*dy/sy, dy
	}
	w, h = max(w, 1), max(h, 1)
	off := image.Point{X: (dx - w) / 2, Y: (dy - h) / 2}
	return image.Rectangle{Max: image.Point{X: w, Y: h}}.Add(dst.Min).Add(off)
}

// Wrap breaks msg into lines of at most cols runes, breaking at word
// boundaries where possible. At most rows lines are returned; if the
// message is truncated, the last line ends with an ellipsis.
func Wrap(msg string, rows, cols int) []string {
	if rows <= 0 || cols <= 0 {
		return nil
	}
	wrapper := wrap.NewWrapper()
	wrapper.StripTrailingNewline = true
	wrapper.CutLongWords = true
	lines := strings.Split(wrapper.Wrap(msg, cols), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	if len(lines) > rows {
		lines = lines[:rows]
		last := []rune(lines[rows-1])
		if len(last) > cols-len("...") {
			last = last[:max(cols-len("..."), 0)]
		}
		lines[rows-1] = string(last) + "..."
	}
	return lines
}

// Size returns the size, in font rows and columns, of the bounding
// rectangle for fnt.
func Size(bound image.Rectangle, fnt *basicfont.Face) (rows, cols int) {
	return bound.Dy() / fnt.Height, bound.Dx() / fnt.Advance
}

// Message renders msg centred in dst in the fg colour over a bg background.
func Message(dst draw.Image, msg string, fg, bg color.Color) {
	b := dst.Bounds()
	draw.Draw(dst, b, &image.Uniform{C: bg}, image.Point{}, draw.Src)
	rows, cols := Size(b, Face)
	lines := Wrap(msg, rows, cols)
	top := b.Min.Y + (b.Dy()-len(lines)*Face.Height)/2
	for i, l := range lines {
		d := font.Drawer{
			Dst:  dst,
			Src:  &image.Uniform{C: fg},
			Face: Face,
		}
		left := b.Min.X + (b.Dx()-d.MeasureString(l).Round())/2
		d.Dot = fixed.P(left, top+Face.Ascent+Face.Height*i)
		d.DrawString(l)
	}
}
