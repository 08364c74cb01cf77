// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package term provides a terminal drawable for animation playback.
//
// Frames are rendered with upper half block cells so that each terminal
// cell shows two vertically adjacent pixels. The bottom line of the
// terminal is used for a status line.
package term

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/image/draw"

	"github.com/kortschak/flipbook/internal/playback"
	"github.com/kortschak/flipbook/internal/text"
)

// Screen is a playback.Drawable that renders to a terminal.
type Screen struct {
	mu     sync.Mutex
	screen tcell.Screen
	buf    *image.RGBA
	last   image.Image
	state  playback.State
	log    *slog.Logger
}

var _ playback.Drawable = (*Screen)(nil)

// New returns a Screen rendering to s. If s is nil, a new terminal screen
// is created. The screen is initialised by New and must be released with
// Close.
func New(s tcell.Screen, log *slog.Logger) (*Screen, error) {
	if s == nil {
		var err error
		s, err = tcell.NewScreen()
		if err != nil {
			return nil, err
		}
	}
	err := s.Init()
	if err != nil {
		return nil, err
	}
	s.HideCursor()
	return &Screen{
		screen: s,
		log:    log.With(slog.String("component", "term")),
	}, nil
}

// Close restores the terminal.
func (s *Screen) Close() error {
	s.screen.Fini()
	return nil
}

// Draw renders img scaled to fit the terminal.
func (s *Screen) Draw(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = img
	s.redraw()
	return nil
}

// Hide clears the image area of the terminal.
func (s *Screen) Hide() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
	s.redraw()
	return nil
}

// SetState updates the status line.
func (s *Screen) SetState(st playback.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.redraw()
}

// redraw renders the last image, or the state message if there is no
// image, and the status line.
func (s *Screen) redraw() {
	s.screen.Clear()
	w, h := s.screen.Size()
	if h > 1 {
		area := image.Rect(0, 0, w, 2*(h-1))
		if s.last != nil {
			s.drawImage(area)
		} else {
			s.drawMessage(w, h-1)
		}
	}
	s.drawStatus(w, h-1)
	s.screen.Show()
}

func (s *Screen) drawImage(area image.Rectangle) {
	if s.buf == nil || s.buf.Bounds() != area {
		s.buf = image.NewRGBA(area)
	}
	draw.Draw(s.buf, area, image.Black, image.Point{}, draw.Src)
	src := s.last.Bounds()
	draw.NearestNeighbor.Scale(s.buf, text.Fit(area, src), s.last, src, draw.Over, nil)
	for y := 0; y < area.Dy()/2; y++ {
		for x := 0; x < area.Dx(); x++ {
			top := s.buf.RGBAAt(x, 2*y)
			bottom := s.buf.RGBAAt(x, 2*y+1)
			style := tcell.StyleDefault.Foreground(rgb(top)).Background(rgb(bottom))
			s.screen.SetContent(x, y, '▀', nil, style)
		}
	}
}

func rgb(c color.RGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

func (s *Screen) drawMessage(w, h int) {
	var msg string
	switch s.state.Kind {
	case playback.Loading:
		if s.state.Source == "" {
			return
		}
		msg = "loading " + s.state.Source
	case playback.Error:
		msg = s.state.Message
	default:
		return
	}
	lines := text.Wrap(msg, h, w)
	top := (h - len(lines)) / 2
	style := tcell.StyleDefault
	if s.state.Kind == playback.Error {
		style = style.Foreground(tcell.ColorRed)
	}
	for i, l := range lines {
		s.putString((w-len([]rune(l)))/2, top+i, l, style)
	}
}

func (s *Screen) drawStatus(w, y int) {
	if y < 0 {
		return
	}
	st := s.state
	var status string
	switch st.Kind {
	case playback.Ready:
		mode := "paused"
		if st.Playing {
			mode = "playing"
		}
		status = fmt.Sprintf("%d/%d %dx%d %s  space:play/pause ←/→:step r:restart q:quit", st.Frame+1, st.Frames, st.Width, st.Height, mode)
	default:
		status = fmt.Sprintf("%s  q:quit", st.Kind)
	}
	r := []rune(status)
	if len(r) > w {
		r = r[:w]
	}
	s.putString(0, y, string(r), tcell.StyleDefault.Reverse(true))
	s.putString(len(r), y, strings.Repeat(" ", max(w-len(r), 0)), tcell.StyleDefault.Reverse(true))
}

func (s *Screen) putString(x, y int, str string, style tcell.Style) {
	for _, r := range str {
		s.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

// Player is the playback surface controlled by the terminal.
type Player interface {
	State() playback.State
	Subscribe() (<-chan playback.State, func())
	Play()
	Pause()
	Restart()
	RenderFrame(int)
	RenderNextFrame()
	RenderPreviousFrame()
}

// Run handles terminal events and keeps the status line current until the
// user quits, ctx is cancelled or the screen is closed. The key bindings
// are
//
//	space        toggle play and pause
//	left, right  step to the previous or next frame
//	home         show the first frame
//	r            restart
//	q, esc       quit
func (s *Screen) Run(ctx context.Context, p Player) error {
	states, cancel := p.Subscribe()
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case st, ok := <-states:
				if !ok {
					return
				}
				s.SetState(st)
			case <-ctx.Done():
				s.screen.PostEvent(tcell.NewEventInterrupt(nil))
				return
			case <-done:
				return
			}
		}
	}()

	for {
		switch ev := s.screen.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventInterrupt:
			return ctx.Err()
		case *tcell.EventResize:
			s.mu.Lock()
			s.screen.Sync()
			s.redraw()
			s.mu.Unlock()
		case *tcell.EventKey:
			s.log.LogAttrs(ctx, slog.LevelDebug, "key", slog.String("name", ev.Name()))
			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return nil
			case tcell.KeyLeft:
				p.RenderPreviousFrame()
			case tcell.KeyRight:
				p.RenderNextFrame()
			case tcell.KeyHome:
				p.RenderFrame(0)
			case tcell.KeyRune:
				switch ev.Rune() {
				case ' ':
					if p.State().Playing {
						p.Pause()
					} else {
						p.Play()
					}
				case 'r':
					p.Restart()
				case 'q':
					return nil
				}
			}
		}
	}
}
