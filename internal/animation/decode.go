// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrEmptyFrameSet is returned by DecodeAll when the parser
	// reports no frames.
	ErrEmptyFrameSet = errors.New("empty frame set")

	// ErrSurfaceUnavailable is returned when no raster target
	// can be allocated for compositing.
	ErrSurfaceUnavailable = errors.New("surface unavailable")
)

// DecodeError is a failure reported by a Parser.
type DecodeError struct {
	// Frame is the index of the failing frame,
	// or -1 if the failure is not frame specific.
	Frame int
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("decode failure: %v", e.Err)
	}
	return fmt.Sprintf("decode failure at frame %d: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Surface allocates a zeroed raster target covering r.
type Surface func(r image.Rectangle) (*image.RGBA, error)

// maxSurface is the largest surface in bytes that NewSurface will allocate.
const maxSurface = 1 << 30

// NewSurface is the default Surface. It fails with ErrSurfaceUnavailable
// for empty rectangles and for rectangles that would need more than 1GiB.
func NewSurface(r image.Rectangle) (_ *image.RGBA, err error) {
	if r.Empty() {
		return nil, fmt.Errorf("%w: empty canvas %v", ErrSurfaceUnavailable, r)
	}
	w, h := r.Dx(), r.Dy()
	if w > math.MaxInt32/4 || h > maxSurface/(4*w) {
		return nil, fmt.Errorf("%w: canvas too large %v", ErrSurfaceUnavailable, r)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSurfaceUnavailable, r)
		}
	}()
	return image.NewRGBA(r), nil
}

// DecodeOption is an option for DecodeAll.
type DecodeOption func(*decodeOptions)

type decodeOptions struct {
	surface    Surface
	conformant bool
}

// WithSurface sets the Surface used to allocate compositing buffers.
func WithSurface(s Surface) DecodeOption {
	return func(o *decodeOptions) {
		o.surface = s
	}
}

// Conformant selects GIF89a disposal semantics. See [NewCompositor].
func Conformant(ok bool) DecodeOption {
	return func(o *decodeOptions) {
		o.conformant = ok
	}
}

// DecodeAll composites every patch of p in order and returns the resulting
// frames. DecodeAll checks ctx between frames.
func DecodeAll(ctx context.Context, p Parser, opts ...DecodeOption) (*Store, error) {
	o := decodeOptions{surface: NewSurface}
	for _, opt := range opts {
		opt(&o)
	}

	n := p.Len()
	if n == 0 {
		return nil, ErrEmptyFrameSet
	}
	bounds := p.Bounds()
	buf, err := o.surface(bounds)
	if err != nil {
		return nil, surfaceErr(err)
	}
	c, err := NewCompositor(p, buf, o.surface, o.conformant)
	if err != nil {
		return nil, surfaceErr(err)
	}

	s := &Store{
		bounds: bounds,
		frames: make([]Frame, 0, n),
	}
	for i := 0; i < n; i++ {
		err = ctx.Err()
		if err != nil {
			return nil, err
		}
		patch, err := p.Patch(i)
		if err != nil {
			return nil, &DecodeError{Frame: i, Err: err}
		}
		f, err := c.Apply(i, patch)
		if err != nil {
			return nil, &DecodeError{Frame: i, Err: err}
		}
		s.frames = append(s.frames, f)
		s.duration += f.Delay
	}
	return s, nil
}

func surfaceErr(err error) error {
	if errors.Is(err, ErrSurfaceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
}
