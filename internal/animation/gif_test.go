// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// twoFrameGIF returns a 4×4 GIF with a red first frame and a 2×2 blue
// patch at (1,1) whose top-left pixel is transparent.
func twoFrameGIF() *gif.GIF {
	pal := color.Palette{red, blue, color.RGBA{}}
	f0 := image.NewPaletted(image.Rect(0, 0, 4, 4), pal)
	f1 := image.NewPaletted(image.Rect(1, 1, 3, 3), pal)
	for i := range f1.Pix {
		f1.Pix[i] = 1
	}
	f1.SetColorIndex(1, 1, 2)
	return &gif.GIF{
		Image:    []*image.Paletted{f0, f1},
		Delay:    []int{10, 20},
		Disposal: []byte{gif.DisposalNone, gif.DisposalNone},
		Config:   image.Config{Width: 4, Height: 4},
	}
}

func TestGIFRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, twoFrameGIF())
	if err != nil {
		t.Fatalf("unexpected error encoding gif: %v", err)
	}
	r := AsReadPeeker(&buf)
	if !IsGIF(r) {
		t.Fatal("encoded gif not recognised")
	}
	g, err := DecodeGIF(r)
	if err != nil {
		t.Fatalf("unexpected error decoding gif: %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("unexpected frame count: got:%d want:2", g.Len())
	}
	if got, want := g.Bounds(), image.Rect(0, 0, 4, 4); got != want {
		t.Errorf("unexpected bounds: got:%v want:%v", got, want)
	}
	got, err := g.Patch(1)
	if err != nil {
		t.Fatalf("unexpected error getting patch: %v", err)
	}
	want := Patch{Rect: image.Rect(1, 1, 3, 3), Disposal: DisposalNone, Delay: 20}
	if got != want {
		t.Errorf("unexpected patch:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	_, err = g.Patch(2)
	if err == nil {
		t.Error("expected error for out of range patch")
	}

	s, err := DecodeAll(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error compositing gif: %v", err)
	}
	f, _ := s.Frame(1)
	for _, p := range []struct {
		pt   image.Point
		want color.RGBA
	}{
		{pt: image.Pt(0, 0), want: red},
		{pt: image.Pt(1, 1), want: red},
		{pt: image.Pt(2, 1), want: blue},
		{pt: image.Pt(2, 2), want: blue},
		{pt: image.Pt(3, 3), want: red},
	} {
		if got := f.Image.RGBAAt(p.pt.X, p.pt.Y); got != p.want {
			t.Errorf("unexpected pixel at %v: got:%v want:%v", p.pt, got, p.want)
		}
	}
	if got, want := s.Duration().Milliseconds(), int64(300); got != want {
		t.Errorf("unexpected duration: got:%d want:%d", got, want)
	}
}

func TestNewGIF(t *testing.T) {
	t.Run("mismatched_delay", func(t *testing.T) {
		g := twoFrameGIF()
		g.Delay = g.Delay[:1]
		_, err := NewGIF(g)
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Errorf("unexpected error: got:%v want DecodeError", err)
		}
	})
	t.Run("mismatched_disposal", func(t *testing.T) {
		g := twoFrameGIF()
		g.Disposal = g.Disposal[:1]
		_, err := NewGIF(g)
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Errorf("unexpected error: got:%v want DecodeError", err)
		}
	})
	t.Run("missing_config", func(t *testing.T) {
		g := twoFrameGIF()
		g.Config = image.Config{}
		g.Image[0] = image.NewPaletted(image.Rect(1, 1, 3, 3), g.Image[0].Palette)
		g.Image[1] = image.NewPaletted(image.Rect(2, 0, 5, 2), g.Image[1].Palette)
		p, err := NewGIF(g)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got, want := p.Bounds(), image.Rect(0, 0, 5, 3); got != want {
			t.Errorf("unexpected bounds: got:%v want:%v", got, want)
		}
	})
	t.Run("nil_metadata", func(t *testing.T) {
		g := twoFrameGIF()
		g.Delay = nil
		g.Disposal = nil
		p, err := NewGIF(g)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := p.Patch(0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := (Patch{Rect: image.Rect(0, 0, 4, 4)}); got != want {
			t.Errorf("unexpected patch: got:%+v want:%+v", got, want)
		}
	})
}

func TestDecodeGIFMalformed(t *testing.T) {
	for _, data := range []string{
		"GIF89a",
		"GIF89a\x04\x00\x04\x00\x80\x00\x00",
		"not a gif",
	} {
		_, err := DecodeGIF(strings.NewReader(data))
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Errorf("unexpected error for %q: got:%v want DecodeError", data, err)
			continue
		}
		if derr.Frame != -1 {
			t.Errorf("unexpected frame index for %q: got:%d want:-1", data, derr.Frame)
		}
	}
}

func TestIsGIF(t *testing.T) {
	for _, test := range []struct {
		data string
		want bool
	}{
		{data: "GIF87a...", want: true},
		{data: "GIF89a...", want: true},
		{data: "GIF8", want: false},
		{data: "\x89PNG\r\n\x1a\n", want: false},
		{data: "", want: false},
	} {
		got := IsGIF(AsReadPeeker(strings.NewReader(test.data)))
		if got != test.want {
			t.Errorf("unexpected result for %q: got:%t want:%t", test.data, got, test.want)
		}
	}
}
