// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/kortschak/flipbook/internal/source"
)

type encoder func(io.Writer, image.Image) error

var encoders = map[string]encoder{
	"png":  png.Encode,
	"bmp":  bmp.Encode,
	"tiff": encodeTIFF,
}

func encodeTIFF(w io.Writer, m image.Image) error {
	return tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate})
}

// manifestEntry is an element of the exported frames.json file.
type manifestEntry struct {
	File  string `json:"file"`
	Delay int64  `json:"delay_ms"`
}

// exportFrames decodes the configured source and writes each composited
// frame to dir, followed by a frames.json manifest of file names and
// delays.
func exportFrames(cfg playerConfig, dir, ext string, enc encoder, log *slog.Logger) int {
	ctx := context.Background()
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	l := &source.Loader{
		Datadir:    wd,
		Client:     &http.Client{Timeout: time.Minute},
		Conformant: cfg.Conformant,
		Log:        log,
	}
	store, err := l.Load(ctx, cfg.Source)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	manifest := make([]manifestEntry, 0, store.Len())
	for i := range store.Len() {
		f, _ := store.Frame(i)
		name := fmt.Sprintf("frame-%03d.%s", i, ext)
		err = writeImage(filepath.Join(dir, name), f.Image, enc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to write frame %d: %v\n", i, err)
			return internalError
		}
		manifest = append(manifest, manifestEntry{File: name, Delay: f.Delay.Milliseconds()})
	}
	b, err := json.MarshalIndent(manifest, "", "\t")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	err = os.WriteFile(filepath.Join(dir, "frames.json"), append(b, '\n'), 0o644)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	bounds := store.Bounds()
	log.LogAttrs(ctx, slog.LevelDebug, "exported frames", slog.String("dir", dir), slog.Int("frames", store.Len()))
	fmt.Printf("wrote %d frames (%dx%d, %v) to %s\n", store.Len(), bounds.Dx(), bounds.Dy(), store.Duration(), dir)
	return success
}

func writeImage(path string, img image.Image, enc encoder) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	err = enc(w, img)
	if err != nil {
		f.Close()
		return err
	}
	err = w.Flush()
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
