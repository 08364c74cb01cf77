// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/playback"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/version"
	"github.com/kortschak/flipbook/internal/xdg"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that the unix socket
// is created in if the unix network is used for communication.
const RuntimeDir = "flipbook"

// SocketName is the name of the control socket within RuntimeDir.
const SocketName = "control.sock"

// DefaultAddr returns the default listen address for the network.
func DefaultAddr(network string) (string, error) {
	switch network {
	case "unix":
		dir, err := xdg.RuntimeDir(RuntimeDir)
		if err != nil {
			return "", fmt.Errorf("no runtime directory: %w", err)
		}
		return filepath.Join(dir, SocketName), nil
	case "tcp":
		return "localhost:0", nil
	default:
		return "", fmt.Errorf("invalid network: %s", network)
	}
}

// Player is the playback surface controlled by the server.
type Player interface {
	State() playback.State
	Load(source string) <-chan struct{}
	Play()
	Pause()
	Restart()
	RenderFrame(int)
	RenderNextFrame()
	RenderPreviousFrame()
}

// Store is a persistent record of playback positions.
type Store interface {
	Dump() (map[string]int, error)
	Delete(source string) error
}

// Server is a JSON RPC 2 server exposing a Player.
type Server struct {
	listener *netListener
	server   *jsonrpc2.Server
	network  string

	player Player
	store  Store

	log *slog.Logger
}

var serverUID = UID{Module: "flipbook", Service: "rpc"}

// NewServer returns a new Server exposing player, communicating over the
// provided network which may be either "unix" or "tcp". If addr is empty,
// the address returned by DefaultAddr is used. A stale unix socket at addr
// is removed; callers must ensure that no other server is using it. If
// store is nil, the positions and forget methods return an error. If
// tlsConfig is not nil, clients must connect using TLS.
func NewServer(ctx context.Context, network, addr string, options jsonrpc2.NetListenOptions, tlsConfig *tls.Config, player Player, store Store, log *slog.Logger) (*Server, error) {
	s := Server{
		network: network,
		player:  player,
		store:   store,
		log:     log.With(slog.String("component", serverUID.String())),
	}
	var err error
	if addr == "" {
		addr, err = DefaultAddr(network)
		if err != nil {
			return nil, err
		}
	}
	if network == "unix" {
		err = os.Remove(addr)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		s.log.LogAttrs(ctx, slog.LevelDebug, "control socket", slog.String("path", addr))
	}
	s.listener, err = newNetListener(ctx, network, addr, options, tlsConfig)
	if err != nil {
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelDebug, "new server", slog.String("network", network), slog.Bool("tls", tlsConfig != nil), slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle implements the jsonrpc2.Handler interface.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))
	if !req.IsCall() {
		return nil, jsonrpc2.ErrNotHandled
	}

	switch req.Method {
	case Who:
		_, err := unmarshal[None](ctx, s.log, req)
		if err != nil {
			return nil, err
		}
		v, err := version.String()
		if err != nil {
			v = err.Error()
		}
		return NewMessage(serverUID, v), nil

	case State, Play, Pause, Restart, Next, Previous:
		_, err := unmarshal[None](ctx, s.log, req)
		if err != nil {
			return nil, err
		}
		return s.control(ctx, req.Method)

	case Seek:
		m, err := unmarshal[Frame](ctx, s.log, req)
		if err != nil {
			return nil, err
		}
		return s.seek(ctx, m.Body.Index)

	case Load:
		m, err := unmarshal[Source](ctx, s.log, req)
		if err != nil {
			return nil, err
		}
		return s.load(ctx, m.Body)

	case Positions:
		_, err := unmarshal[None](ctx, s.log, req)
		if err != nil {
			return nil, err
		}
		if s.store == nil {
			return nil, NewError(ErrCodeNoStore, "no position store", nil)
		}
		pos, err := s.store.Dump()
		if err != nil {
			return nil, NewError(ErrCodeStoreErr, err.Error(), nil)
		}
		return NewMessage(serverUID, pos), nil

	case Forget:
		m, err := unmarshal[string](ctx, s.log, req)
		if err != nil {
			return nil, err
		}
		if s.store == nil {
			return nil, NewError(ErrCodeNoStore, "no position store", nil)
		}
		err = s.store.Delete(m.Body)
		if err != nil {
			return nil, NewError(ErrCodeStoreErr, err.Error(), map[string]any{"source": m.Body})
		}
		return NewMessage(serverUID, "ok"), nil

	default:
		return nil, jsonrpc2.ErrNotHandled
	}
}

func unmarshal[T any](ctx context.Context, log *slog.Logger, req *jsonrpc2.Request) (*Message[T], error) {
	var m Message[T]
	err := UnmarshalMessage(req.Params, &m)
	if err != nil {
		log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
		return nil, err
	}
	return &m, nil
}

func (s *Server) control(ctx context.Context, method string) (any, error) {
	switch method {
	case Play:
		s.player.Play()
	case Pause:
		s.player.Pause()
	case Restart:
		s.player.Restart()
	case Next:
		s.player.RenderNextFrame()
	case Previous:
		s.player.RenderPreviousFrame()
	}
	st := s.player.State()
	s.log.LogAttrs(ctx, slog.LevelDebug, method, slog.Any("state", st))
	return NewMessage(serverUID, st), nil
}

func (s *Server) seek(ctx context.Context, i int) (any, error) {
	st := s.player.State()
	if st.Kind != playback.Ready {
		return nil, NewError(ErrCodeNotReady, "player not ready", map[string]any{"state": st.Kind})
	}
	if i < 0 || i >= st.Frames {
		return nil, NewError(ErrCodeBounds, fmt.Sprintf("frame index out of range: %d not in [0, %d)", i, st.Frames), map[string]any{"index": i, "frames": st.Frames})
	}
	s.player.RenderFrame(i)
	return s.control(ctx, Seek)
}

func (s *Server) load(ctx context.Context, src Source) (any, error) {
	if src.Source == "" {
		return nil, NewError(ErrCodeParameters, "missing source", nil)
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "load", slog.String("source", src.Source), slog.Bool("wait", src.Wait))
	done := s.player.Load(src.Source)
	if src.Wait {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return NewMessage(serverUID, s.player.State()), nil
}

// Close stops the server and waits for it to shut down.
func (s *Server) Close() error {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	s.server.Shutdown()
	return s.server.Wait()
}
