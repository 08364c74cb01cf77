// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func ptr[T any](v T) *T { return &v }

func mustSum(text string) *Sum {
	if len(text) != hex.EncodedLen(len(Sum{})) {
		panic(fmt.Sprintf("invalid length: %d != %d", len(text), hex.EncodedLen(len(Sum{}))))
	}
	b, err := hex.DecodeString(text)
	if err != nil {
		panic(err)
	}
	return (*Sum)(b)
}

var loadTests = []struct {
	name    string
	data    string
	want    *Player
	wantErr bool
}{
	{
		name: "simple",
		data: `source = "a.gif"
network = "unix"
`,
		want: &Player{
			Source:  "a.gif",
			Network: "unix",
			Sum:     mustSum("87ea56f8d6cfa67d6f50d1558d7fb64eefebe4d7"),
		},
	},
	{
		name: "deck",
		data: `# Show the animation on a key.
source = "anim.gif"
drawable = "deck"

[deck]
row = 1
col = 2
`,
		want: &Player{
			Source:   "anim.gif",
			Drawable: "deck",
			Deck:     &Deck{Row: 1, Col: 2},
			Sum:      mustSum("a4a8f8f816f8c30e5c725bae3c7632bc3f7fbe9a"),
		},
	},
	{
		name:    "invalid_drawable",
		data:    `drawable = "window"`,
		wantErr: true,
	},
	{
		name:    "invalid_toml",
		data:    `source = `,
		wantErr: true,
	},
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	for _, test := range loadTests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(dir, test.name+".toml")
			err := os.WriteFile(path, []byte(test.data), 0o644)
			if err != nil {
				t.Fatalf("unexpected error writing config: %v", err)
			}
			got, err := Load(path)
			if (err != nil) != test.wantErr {
				t.Errorf("unexpected error: got:%v want error:%t", err, test.wantErr)
			}
			if !cmp.Equal(test.want, got) {
				t.Errorf("unexpected result:\n--- want:\n+++ got:\n%s", cmp.Diff(test.want, got))
			}
		})
	}
}

var sumTests = []struct {
	a, b *Sum
	want bool
}{
	{a: nil, b: nil, want: true},
	{a: nil, b: &Sum{}, want: false},
	{a: &Sum{}, b: nil, want: false},
	{a: &Sum{}, b: &Sum{}, want: true},
	{a: &Sum{0: 1}, b: &Sum{}, want: false},
	{a: &Sum{}, b: &Sum{0: 1}, want: false},
}

func TestSum(t *testing.T) {
	for _, test := range sumTests {
		got := test.a.Equal(test.b)
		if got != test.want {
			t.Errorf("unexpected result for %q.equal(%q): got:%t want:%t", test.a, test.b, got, test.want)
		}
	}
}
