// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"errors"
	"hash"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a configuration change identified by a Watcher. If the
// configuration file was removed or is invalid, Config is nil.
type Change struct {
	Event  []fsnotify.Event
	Config *Player
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, o := range c.Event {
		op |= o.Op
	}
	return op
}

// Watcher collects raw fsnotify.Events for a single configuration file and
// filters them for semantically meaningful configuration changes.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	hash     hash.Hash
	sum      Sum
	log      *slog.Logger
}

// NewWatcher starts an fsnotify.Watcher for the configuration file at path,
// sending change events on the changes channel when Watch is called. The
// directory holding path is watched so that editors replacing the file are
// seen. The debounce parameter specifies how long to wait after an
// fsnotify.Event before reading the file to ensure that writes will be
// reflected in the semantic checksum. If it is less than zero, FileDebounce
// is used. The current contents of path, if it exists, are the baseline
// for change detection.
func NewWatcher(path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if debounce < 0 {
		debounce = FileDebounce
	}
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		hash:     sha1.New(),
		log:      log.With(slog.String("component", "config_watcher")),
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		_, w.sum, _ = unmarshalConfig(w.hash, b)
	case !errors.Is(err, fs.ErrNotExist):
		watcher.Close()
		return nil, err
	}
	return w, nil
}

// Watch processes file events until ctx is cancelled or the Watcher is
// closed.
func (w *Watcher) Watch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				time.Sleep(w.debounce)

				b, err := os.ReadFile(w.path)
				if err != nil {
					w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
					w.send(ctx, Change{Err: err})
					continue
				}
				cfg, sum, err := unmarshalConfig(w.hash, b)
				if w.sum == sum {
					w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.String("sum", sum.String()))
					continue
				}
				w.log.LogAttrs(ctx, slog.LevelDebug, "set hash", slog.String("sum", sum.String()), slog.String("previous", w.sum.String()))
				w.sum = sum
				w.send(ctx, Change{
					Event:  []fsnotify.Event{ev},
					Config: cfg,
					Err:    err,
				})

			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				w.sum = Sum{}
				w.send(ctx, Change{Event: []fsnotify.Event{ev}})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.send(ctx, Change{Err: err})
		}
	}
}

func (w *Watcher) send(ctx context.Context, c Change) {
	select {
	case <-ctx.Done():
	case w.changes <- c:
	}
}

// Close stops the underlying fsnotify.Watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
