// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/flipbook/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func Test(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	var logBuf bytes.Buffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	defer func() {
		if *verbose && logBuf.Len() != 0 {
			t.Logf("log:\n%s\n", &logBuf)
		}
	}()

	db, err := Open(path, log)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}

	_, err = db.Get("missing.gif")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unexpected error for missing source: got:%v want:%v", err, ErrNotFound)
	}
	if _, ok := db.Position("missing.gif"); ok {
		t.Error("unexpected position for missing source")
	}

	want := map[string]int{
		"a.gif":                    3,
		"https://example.com/b":    0,
		"data:text/filename,c.gif": 12,
	}
	for src, frame := range want {
		err = db.SetPosition(src, frame+1)
		if err != nil {
			t.Fatalf("unexpected error setting position: %v", err)
		}
		err = db.SetPosition(src, frame)
		if err != nil {
			t.Fatalf("unexpected error updating position: %v", err)
		}
	}
	for src, frame := range want {
		got, ok := db.Position(src)
		if !ok || got != frame {
			t.Errorf("unexpected position for %s: got:%d,%t want:%d,true", src, got, ok, frame)
		}
	}

	err = db.Delete("a.gif")
	if err != nil {
		t.Errorf("unexpected error deleting position: %v", err)
	}
	delete(want, "a.gif")

	err = db.Close()
	if err != nil {
		t.Fatalf("unexpected error closing db: %v", err)
	}
	db, err = Open(path, log)
	if err != nil {
		t.Fatalf("failed to reopen db: %v", err)
	}
	defer db.Close()
	got, err := db.Dump()
	if err != nil {
		t.Fatalf("unexpected error dumping db: %v", err)
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected persisted positions:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestConcurrentAccess(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := fmt.Sprintf("source-%d.gif", i)
			for j := 0; j < 10; j++ {
				err := db.SetPosition(src, j)
				if err != nil {
					t.Errorf("unexpected error setting position: %v", err)
					return
				}
				_, err = db.Get(src)
				if err != nil {
					t.Errorf("unexpected error getting position: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := db.Dump()
	if err != nil {
		t.Fatalf("unexpected error dumping db: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("unexpected number of positions: got:%d want:10", len(got))
	}
	for src, frame := range got {
		if frame != 9 {
			t.Errorf("unexpected final position for %s: got:%d want:9", src, frame)
		}
	}
}
