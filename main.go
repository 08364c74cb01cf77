// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The flipbook command plays animated GIFs on a terminal or a Stream Deck
// key. Playback may be controlled from the keyboard when the terminal is
// used, and over JSON RPC 2 with the flipctl command.
//
// Usage:
//
//	flipbook [options] [source]
//
// The source may be a file path, a file, http or https URL, or a data URI.
// Options may also be provided in a TOML configuration file, by default
// $XDG_CONFIG_HOME/flipbook/flipbook.toml. Flags that are set on the
// command line take precedence over the configuration file. Changes to
// the configuration file's source and logging options are applied while
// flipbook is running.
//
// A tcp control server may require TLS by setting the tls table of the
// configuration file:
//
//	network = "tcp"
//
//	[tls]
//	cert = "server.pem"
//	key = "server-key.pem"
//	ca = "client-ca.pem" # optional, requires client certificates
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/kortschak/jsonrpc2"

	public "github.com/kortschak/flipbook/config"
	"github.com/kortschak/flipbook/internal/config"
	"github.com/kortschak/flipbook/internal/deck"
	"github.com/kortschak/flipbook/internal/mtls"
	"github.com/kortschak/flipbook/internal/playback"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/source"
	"github.com/kortschak/flipbook/internal/state"
	"github.com/kortschak/flipbook/internal/term"
	"github.com/kortschak/flipbook/internal/timing"
	"github.com/kortschak/flipbook/internal/version"
	"github.com/kortschak/flipbook/internal/xdg"
	"github.com/kortschak/flipbook/rpc"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	cfgPath := flag.String("config", "", "path to TOML configuration file (default $XDG_CONFIG_HOME/flipbook/flipbook.toml)")
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	logFile := flag.String("log_file", "", "log destination (default stderr, or $XDG_STATE_HOME/flipbook/flipbook.log for the terminal drawable)")
	v := flag.Bool("version", false, "print version and exit")
	autoplay := flag.Bool("autoplay", false, "start playback when the source is loaded")
	conformant := flag.Bool("conformant", false, "use GIF89a frame disposal")
	delay := flag.String("delay", "", "CEL expression for frame delays using index, frames and delay (ms)")
	drawable := flag.String("drawable", "term", "output surface (term, deck or none)")
	network := flag.String("network", "unix", "control network (unix, tcp or none)")
	addr := flag.String("addr", "", "control address (default depends on network)")
	resume := flag.Bool("resume", false, "resume playback from the last frame shown for the source")
	export := flag.String("export", "", "write composited frames to this directory and exit")
	format := flag.String("format", "png", "export image format (png, bmp or tiff)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage of %s:

  $ %[1]s [options] [source]

`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}
	if flag.NArg() > 1 {
		flag.Usage()
		return invocationError
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return invocationError
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "autoplay":
			cfg.Autoplay = *autoplay
		case "conformant":
			cfg.Conformant = *conformant
		case "delay":
			cfg.Delay = *delay
		case "drawable":
			cfg.Drawable = *drawable
		case "network":
			cfg.Network = *network
		case "resume":
			cfg.Resume = *resume
		case "log":
			var level slog.Level
			if level.UnmarshalText([]byte(*logging)) == nil {
				cfg.LogLevel = &level
			}
		case "lines":
			cfg.AddSource = lines
		}
	})
	if flag.NArg() == 1 {
		cfg.Source = flag.Arg(0)
	}
	if cfg.Drawable == "" {
		cfg.Drawable = *drawable
	}
	if cfg.Network == "" {
		cfg.Network = *network
	}

	var level slog.LevelVar
	err = level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return invocationError
	}
	if cfg.LogLevel != nil {
		level.Set(*cfg.LogLevel)
	}
	addSource := slogext.NewAtomicBool(cfg.AddSource != nil && *cfg.AddSource)

	switch cfg.Drawable {
	case "term", "deck", "none":
	default:
		flag.Usage()
		return invocationError
	}
	switch cfg.Network {
	case "unix", "tcp", "none":
	default:
		flag.Usage()
		return invocationError
	}
	if *export != "" {
		if cfg.Source == "" {
			flag.Usage()
			return invocationError
		}
		enc, ok := encoders[*format]
		if !ok {
			flag.Usage()
			return invocationError
		}
		log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
			Level:     &level,
			AddSource: addSource,
		})})
		return exportFrames(cfg, *export, *format, enc, log)
	}

	var logDst io.Writer = os.Stderr
	if *logFile == "" && cfg.Drawable == "term" {
		dir, err := xdg.StateDir("flipbook")
		if err != nil {
			fmt.Fprintf(os.Stderr, "no log directory for terminal drawable: %v\n", err)
			return internalError
		}
		*logFile = filepath.Join(dir, "flipbook.log")
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		defer f.Close()
		logDst = f
	}

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(logDst, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "flipbook.main"))

	if cfg.Network == "unix" {
		runtimeDir, err := xdg.RuntimeDir(rpc.RuntimeDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		pidFile := filepath.Join(runtimeDir, "pid")
		fl := flock.New(pidFile)
		ok, err := fl.TryLock()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "flipbook is already running")
			return internalError
		}
		defer func() {
			fl.Unlock()
			os.Remove(pidFile)
		}()
		pid := fmt.Sprintln(os.Getpid())
		err = os.WriteFile(pidFile, []byte(pid), 0o600)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	opts := playback.Options{
		Autoplay: cfg.Autoplay,
		Log:      log,
	}
	if cfg.Delay != "" {
		policy, err := timing.Compile(cfg.Delay, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid delay expression: %v\n", err)
			return invocationError
		}
		opts.Delay = policy.Delay
	}
	var store *state.DB
	if cfg.Resume {
		datadir, err := xdg.StateDir("flipbook")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		mlog.LogAttrs(ctx, slog.LevelInfo, "data dir", slog.String("path", datadir))
		store, err = state.Open(filepath.Join(datadir, "state.sqlite3"), log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open data store: %v\n", err)
			return internalError
		}
		defer store.Close()
		opts.Resume = store
	}

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	loader := &source.Loader{
		Datadir:    wd,
		Client:     &http.Client{Timeout: time.Minute},
		Conformant: cfg.Conformant,
		Log:        log,
	}

	var (
		screen *term.Screen
		key    *deck.Key
	)
	player := playback.New(nil, loader, opts)
	defer player.Close()
	// Drawables are closed after the player so that no frame
	// is drawn to a closed surface.
	switch cfg.Drawable {
	case "term":
		screen, err = term.New(nil, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open terminal: %v\n", err)
			return internalError
		}
		defer func() {
			player.Close()
			screen.Close()
		}()
		player.SetDrawable(screen)
	case "deck":
		d := cfg.Deck
		if d == nil {
			d = &public.Deck{}
		}
		key, err = deck.Open(d.PID, d.Serial, d.Row, d.Col, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open deck: %v\n", err)
			return internalError
		}
		defer func() {
			player.Close()
			key.Close()
		}()
		player.SetDrawable(key)
		states, unsubscribe := player.Subscribe()
		defer unsubscribe()
		go func() {
			for st := range states {
				key.SetState(st)
			}
		}()
	}

	if cfg.Network != "none" {
		var posStore rpc.Store
		if store != nil {
			posStore = store
		}
		var tlsConfig *tls.Config
		if cfg.TLS != nil {
			if cfg.Network != "tcp" {
				fmt.Fprintf(os.Stderr, "tls configured for %s network\n", cfg.Network)
				return invocationError
			}
			tlsConfig, err = mtls.Files{CA: cfg.TLS.CA, Cert: cfg.TLS.Cert, Key: cfg.TLS.Key}.ServerConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid tls configuration: %v\n", err)
				return invocationError
			}
		}
		srv, err := rpc.NewServer(ctx, cfg.Network, *addr, jsonrpc2.NetListenOptions{}, tlsConfig, player, posStore, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start control server: %v\n", err)
			return internalError
		}
		defer srv.Close()
		mlog.LogAttrs(ctx, slog.LevelInfo, "control server", slog.String("network", cfg.Network), slog.Any("addr", slogext.Stringer{Stringer: srv.Addr()}))
	}

	if cfg.Sum != nil {
		changes := make(chan config.Change)
		w, err := config.NewWatcher(cfg.path, changes, -1, log)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "config watcher", slog.Any("error", err))
		} else {
			defer w.Close()
			go w.Watch(ctx)
			go applyChanges(ctx, changes, player, cfg.Source, &level, addSource, mlog)
		}
	}

	if cfg.Source != "" {
		player.Load(cfg.Source)
	}

	if screen != nil {
		err = screen.Run(ctx, player)
		if err != nil && !errors.Is(err, context.Canceled) {
			mlog.LogAttrs(ctx, slog.LevelError, "terminal", slog.Any("error", err))
			return internalError
		}
	} else {
		<-ctx.Done()
	}
	mlog.LogAttrs(ctx, slog.LevelInfo, "exit")
	return success
}

// playerConfig is a player configuration and the path it was read from.
type playerConfig struct {
	*public.Player
	path string
}

// loadConfig returns the configuration at path. If path is empty, the
// default configuration file is used if it exists.
func loadConfig(path string) (playerConfig, error) {
	if path == "" {
		var err error
		path, err = xdg.Config(filepath.Join("flipbook", "flipbook.toml"))
		if err != nil {
			return playerConfig{Player: &public.Player{}}, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return playerConfig{}, fmt.Errorf("no configuration file: %s", path)
		}
		return playerConfig{}, err
	}
	return playerConfig{Player: cfg, path: path}, nil
}

// applyChanges applies configuration changes from the stream to the
// player and logger until ctx is cancelled.
func applyChanges(ctx context.Context, changes <-chan config.Change, player *playback.Controller, src string, level *slog.LevelVar, addSource *atomic.Bool, log *slog.Logger) {
	for {
		var c config.Change
		select {
		case <-ctx.Done():
			return
		case c = <-changes:
		}
		if c.Err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "config stream error", slog.Any("error", c.Err))
			continue
		}
		if c.Config == nil {
			log.LogAttrs(ctx, slog.LevelInfo, "config removed", slog.String("op", c.Op().String()))
			continue
		}
		log.LogAttrs(ctx, slog.LevelDebug, "config stream element", slog.String("sum", c.Config.Sum.String()), slog.String("op", c.Op().String()))
		if c.Config.LogLevel != nil {
			level.Set(*c.Config.LogLevel)
		}
		if c.Config.AddSource != nil {
			addSource.Store(*c.Config.AddSource)
		}
		if c.Config.Source != "" && c.Config.Source != src {
			src = c.Config.Source
			player.Load(src)
		}
	}
}
