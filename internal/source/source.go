// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package source fetches encoded animations.
//
// A source identifier is one of
//
//   - an http or https URL,
//   - a file URL,
//   - a data URI, either data:image/gif;base64,<data> or
//     data:text/filename,<path>,
//   - a file path.
//
// Relative file paths are resolved against a data directory and a leading
// ~/ is expanded to the user's home directory.
package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kortschak/flipbook/internal/animation"
)

// Error is a failure to obtain the bytes of a source.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch failure: %s: %v", redact(e.Source), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// redact shortens data URIs for messages.
func redact(src string) string {
	const n = 32
	if strings.HasPrefix(src, "data:") && len(src) > n {
		return src[:n] + "..."
	}
	return src
}

// Fetch returns a reader for the bytes of src. Relative paths are
// resolved against datadir. If client is nil, http.DefaultClient is
// used. Failures are returned as *Error.
func Fetch(ctx context.Context, src, datadir string, client *http.Client) (io.ReadCloser, error) {
	r, err := fetch(ctx, src, datadir, client)
	if err != nil {
		return nil, &Error{Source: src, Err: err}
	}
	return r, nil
}

func fetch(ctx context.Context, src, datadir string, client *http.Client) (io.ReadCloser, error) {
	switch {
	case src == "":
		return nil, errors.New("empty source")
	case strings.HasPrefix(src, "data:"):
		return fetchData(src, datadir)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return fetchHTTP(ctx, src, client)
	case strings.HasPrefix(src, "file://"):
		u, err := url.Parse(src)
		if err != nil {
			return nil, err
		}
		return openFile(u.Path, datadir)
	default:
		return openFile(src, datadir)
	}
}

func fetchHTTP(ctx context.Context, src string, client *http.Client) (io.ReadCloser, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("http status: %s", resp.Status)
	}
	return resp.Body, nil
}

// fetchData handles data URIs in the form
// "^data:(?:text/filename|image/gif(?:;[^,;]*)*;base64),.*$".
func fetchData(uri, datadir string) (io.ReadCloser, error) {
	mtyp, val, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("invalid data uri: %s", redact(uri))
	}
	mtyp, enc, _ := cutLast(mtyp, ";")
	mtyp, _, _ = strings.Cut(mtyp, ";")
	switch mtyp {
	case "text/filename":
		path, err := url.PathUnescape(val)
		if err != nil {
			return nil, err
		}
		return openFile(path, datadir)
	case "image/gif", "image/*":
		if enc != "base64" {
			return nil, fmt.Errorf("invalid encoding in image uri: %q", enc)
		}
		b, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}
		return io.NopCloser(bytes.NewReader(b)), nil
	default:
		return nil, fmt.Errorf("unknown mime type: %s", mtyp)
	}
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func openFile(path, datadir string) (io.ReadCloser, error) {
	path, ok := strings.CutPrefix(path, "~/")
	if ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, path)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(datadir, path)
	}
	return os.Open(path)
}

// Loader is a playback.Loader that fetches and decodes GIF sources.
type Loader struct {
	// Datadir is the base for relative paths.
	Datadir string
	// Client is used for http sources.
	Client *http.Client
	// Conformant selects GIF89a disposal.
	Conformant bool

	Log *slog.Logger
}

// Load fetches src, decodes it and composites all its frames.
func (l *Loader) Load(ctx context.Context, src string) (*animation.Store, error) {
	r, err := Fetch(ctx, src, l.Datadir, l.Client)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rp := animation.AsReadPeeker(r)
	if !animation.IsGIF(rp) {
		return nil, &animation.DecodeError{Frame: -1, Err: errors.New("not a gif")}
	}
	g, err := animation.DecodeGIF(rp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if l.Log != nil {
		l.Log.LogAttrs(ctx, slog.LevelDebug, "decoded gif", slog.String("source", redact(src)), slog.Int("frames", g.Len()), slog.Int("loop", g.LoopCount), slog.Any("bounds", g.Bounds()))
	}
	return animation.DecodeAll(ctx, g, animation.Conformant(l.Conformant))
}
