// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides delta frame compositing for animated images.
//
// An animation is delivered by a [Parser] as a sequence of patches, each
// covering a dirty rectangle of the canvas. A [Compositor] folds the patches
// into an accumulation buffer according to each patch's [Disposal] and
// emits a complete [Frame] per patch. [DecodeAll] drives a Compositor over
// every patch of a Parser and returns the immutable [Store] of frames.
package animation

import (
	"image"

	"golang.org/x/image/draw"
)

// Parser is the source of pixel truth for an animation.
//
// Patch and DrawFrame must be valid for every index in [0, Len()).
// DrawFrame renders the pixels of the i'th patch into dst at the patch's
// rectangle; pixels outside the rectangle must not be touched.
type Parser interface {
	Bounds() image.Rectangle
	Len() int
	Patch(i int) (Patch, error)
	DrawFrame(i int, dst draw.Image) error
}
