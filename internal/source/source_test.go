// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kortschak/flipbook/internal/animation"
)

func testGIF(t *testing.T) []byte {
	t.Helper()
	pal := color.Palette{color.Black, color.White}
	var frames []*image.Paletted
	for i := 0; i < 3; i++ {
		img := image.NewPaletted(image.Rect(0, 0, 4, 4), pal)
		img.SetColorIndex(i, i, 1)
		frames = append(frames, img)
	}
	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &gif.GIF{
		Image:    frames,
		Delay:    []int{10, 20, 30},
		Disposal: []byte{gif.DisposalNone, gif.DisposalNone, gif.DisposalNone},
	})
	if err != nil {
		t.Fatalf("unexpected error encoding gif: %v", err)
	}
	return buf.Bytes()
}

func TestLoad(t *testing.T) {
	data := testGIF(t)
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "anim.gif"), data, 0o644)
	if err != nil {
		t.Fatalf("unexpected error writing gif: %v", err)
	}
	err = os.WriteFile(filepath.Join(dir, "text.txt"), []byte("not an animation"), 0o644)
	if err != nil {
		t.Fatalf("unexpected error writing text: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/anim.gif":
			w.Write(data)
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()

	var loadTests = []struct {
		name       string
		src        string
		wantFetch  bool
		wantDecode bool
	}{
		{name: "relative", src: "anim.gif"},
		{name: "absolute", src: filepath.Join(dir, "anim.gif")},
		{name: "file_url", src: "file://" + filepath.Join(dir, "anim.gif")},
		{name: "data_filename", src: "data:text/filename,anim.gif"},
		{name: "data_base64", src: "data:image/gif;base64," + base64.StdEncoding.EncodeToString(data)},
		{name: "http", src: srv.URL + "/anim.gif"},
		{name: "http_missing", src: srv.URL + "/missing.gif", wantFetch: true},
		{name: "missing_file", src: "missing.gif", wantFetch: true},
		{name: "empty", src: "", wantFetch: true},
		{name: "data_bad_encoding", src: "data:image/gif;hex,00", wantFetch: true},
		{name: "data_bad_base64", src: "data:image/gif;base64,!!!", wantFetch: true},
		{name: "data_bad_type", src: "data:text/plain,hello", wantFetch: true},
		{name: "not_gif", src: "text.txt", wantDecode: true},
		{name: "truncated", src: "data:image/gif;base64," + base64.StdEncoding.EncodeToString(data[:len(data)/2]), wantDecode: true},
	}

	l := &Loader{Datadir: dir, Client: srv.Client()}
	for _, test := range loadTests {
		t.Run(test.name, func(t *testing.T) {
			s, err := l.Load(context.Background(), test.src)
			var (
				ferr *Error
				derr *animation.DecodeError
			)
			switch {
			case test.wantFetch:
				if !errors.As(err, &ferr) {
					t.Errorf("expected fetch failure: got:%v", err)
				}
			case test.wantDecode:
				if !errors.As(err, &derr) {
					t.Errorf("expected decode failure: got:%v", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if s.Len() != 3 {
					t.Errorf("unexpected frame count: got:%d want:3", s.Len())
				}
				if got := s.Duration().Milliseconds(); got != 600 {
					t.Errorf("unexpected duration: got:%d want:600", got)
				}
				white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
				black := color.RGBA{A: 0xff}
				for i := 0; i < s.Len(); i++ {
					f, _ := s.Frame(i)
					for j := 0; j < 3; j++ {
						want := black
						if i == j {
							want = white
						}
						if got := f.Image.RGBAAt(j, j); got != want {
							t.Errorf("unexpected pixel in frame %d at (%d,%d): got:%v want:%v", i, j, j, got, want)
						}
					}
				}
			}
		})
	}
}

func TestErrorRedactsData(t *testing.T) {
	src := "data:image/gif;base64," + base64.StdEncoding.EncodeToString(make([]byte, 128))
	err := &Error{Source: src, Err: errors.New("failed")}
	if len(err.Error()) > 64 {
		t.Errorf("data uri not shortened in message: %q", err.Error())
	}
}
