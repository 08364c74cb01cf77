// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"time"
)

// Store is an immutable sequence of composited frames.
type Store struct {
	bounds   image.Rectangle
	frames   []Frame
	duration time.Duration
}

// NewStore returns a Store holding a copy of the provided frame list.
// All frames must have the given bounds.
func NewStore(bounds image.Rectangle, frames []Frame) *Store {
	s := &Store{
		bounds: bounds,
		frames: append([]Frame(nil), frames...),
	}
	for _, f := range frames {
		s.duration += f.Delay
	}
	return s
}

// Frame returns the i'th frame and whether i is a valid index.
func (s *Store) Frame(i int) (Frame, bool) {
	if s == nil || i < 0 || i >= len(s.frames) {
		return Frame{}, false
	}
	return s.frames[i], true
}

// Len returns the number of frames in the store.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.frames)
}

// Bounds returns the canvas bounds shared by all frames.
func (s *Store) Bounds() image.Rectangle {
	if s == nil {
		return image.Rectangle{}
	}
	return s.bounds
}

// Duration returns the sum of all frame delays.
func (s *Store) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}
