// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xdg locates the per-user configuration, state and runtime
// directories used by flipbook.
package xdg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// base is a base directory. If env is set in the environment its value is
// used, otherwise def is used, relative to $HOME unless it is absolute.
// An empty def means there is no fallback.
type base struct {
	env string
	def string
}

// path returns the base directory path and whether one could be
// determined.
func (b base) path() (string, bool) {
	if b.env != "" {
		if val, ok := os.LookupEnv(b.env); ok && val != "" {
			return val, true
		}
	}
	if b.def == "" {
		return "", false
	}
	if filepath.IsAbs(b.def) {
		return b.def, true
	}
	home, ok := os.LookupEnv("HOME")
	if !ok {
		return "", false
	}
	return filepath.Join(home, b.def), true
}

// find returns the path to name in b if it exists.
func (b base) find(name string) (string, error) {
	dir, ok := b.path()
	if !ok {
		return "", syscall.ENOENT
	}
	path := filepath.Join(dir, name)
	_, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return path, nil
}

// ensure returns the path to the name directory in b, creating it
// with mode perm if necessary.
func (b base) ensure(name string, perm os.FileMode) (string, error) {
	path, err := b.find(name)
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, syscall.ENOENT) && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	dir, ok := b.path()
	if !ok {
		return "", fmt.Errorf("no base directory for %s", name)
	}
	path = filepath.Join(dir, name)
	err = os.MkdirAll(path, perm)
	if err != nil {
		return "", err
	}
	return path, nil
}

// Config returns the path to the named file in the user's configuration
// directory. If the file does not exist Config returns an error satisfying
// errors.Is(err, os.ErrNotExist).
func Config(name string) (string, error) { return configHome.find(name) }

// ConfigDir returns the path to the named directory in the user's
// configuration directory, creating it if it does not exist.
func ConfigDir(name string) (string, error) { return configHome.ensure(name, 0o755) }

// StateDir returns the path to the named directory in the user's state
// directory, creating it if it does not exist.
func StateDir(name string) (string, error) { return stateHome.ensure(name, 0o755) }

// RuntimeDir returns the path to the named directory in the user's runtime
// directory, creating it with owner only access if it does not exist.
func RuntimeDir(name string) (string, error) { return runtimeDir.ensure(name, 0o700) }
