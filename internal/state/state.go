// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package state provides persistence of playback positions.
package state

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a source has no stored position.
var ErrNotFound = errors.New("not found")

// DB is a persistent position store.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Schema is the DB schema.
const Schema = `
create table if not exists positions(
	source  TEXT NOT NULL PRIMARY KEY,
	frame   INTEGER NOT NULL,
	updated TEXT NOT NULL
);
`

const (
	upsert = `
insert into positions values(?, ?, ?)
  on conflict do update set frame=excluded.frame, updated=excluded.updated;
`

	get = `
select frame from positions where source is ?;
`

	delet = `
delete from positions where source is ?;
`

	dump = `
select source, frame from positions;
`
)

// Open opens a DB, creating the tables if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details.
func Open(name string, log *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{store: db, log: log.With(slog.String("component", "state"))}, nil
}

// SetPosition records frame as the last position shown for source.
func (db *DB) SetPosition(source string, frame int) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "set", slog.String("source", source), slog.Int("frame", frame))
	db.mu.Lock()
	_, err := db.store.Exec(upsert, source, frame, time.Now().UTC().Format(time.RFC3339Nano))
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "set", slog.String("source", source), slog.Any("error", err))
	}
	return err
}

// Get returns the last position recorded for source. Get returns
// ErrNotFound if no position is found.
func (db *DB) Get(source string) (frame int, err error) {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.String("source", source))
	db.mu.Lock()
	err = db.store.QueryRow(get, source).Scan(&frame)
	db.mu.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "get", slog.String("source", source), slog.Any("error", err))
	}
	return frame, err
}

// Position returns the last position recorded for source and whether
// one was found.
func (db *DB) Position(source string) (frame int, ok bool) {
	frame, err := db.Get(source)
	return frame, err == nil
}

// Delete removes the position for source.
func (db *DB) Delete(source string) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "delete", slog.String("source", source))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(delet, source)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "delete", slog.String("source", source), slog.Any("error", err))
	}
	return err
}

// Dump returns all recorded positions.
func (db *DB) Dump() (map[string]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.Query(dump)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		source string
		frame  int
	)
	d := make(map[string]int)
	for rows.Next() {
		err = rows.Scan(&source, &frame)
		if err != nil {
			return nil, err
		}
		d[source] = frame
	}
	return d, rows.Err()
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}
