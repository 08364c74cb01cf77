// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package playback provides a timed playback state machine over
// composited animation frames.
package playback

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kortschak/flipbook/internal/animation"
)

// Kind is the state of a Controller.
type Kind int

const (
	Loading Kind = iota
	Error
	Ready
)

func (k Kind) String() string {
	switch k {
	case Loading:
		return "loading"
	case Error:
		return "error"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case Loading, Error, Ready:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("invalid state kind: %d", int(k))
	}
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "loading":
		*k = Loading
	case "error":
		*k = Error
	case "ready":
		*k = Ready
	default:
		return fmt.Errorf("invalid state kind: %q", text)
	}
	return nil
}

// State is a snapshot of the observable state of a Controller.
// Width, Height, Frame, Frames and Playing are only meaningful
// when Kind is Ready and Message is only set when Kind is Error.
type State struct {
	Kind    Kind   `json:"state"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Frame   int    `json:"frame"`
	Frames  int    `json:"frames,omitempty"`
	Playing bool   `json:"playing"`
}

// Drawable is a presentation surface.
type Drawable interface {
	// Draw writes a full canvas image to the surface.
	Draw(image.Image) error
	// Hide marks the surface as inactive.
	Hide() error
}

// Loader obtains the composited frames for a source.
type Loader interface {
	Load(ctx context.Context, source string) (*animation.Store, error)
}

// LoaderFunc is a function adapter for Loader.
type LoaderFunc func(ctx context.Context, source string) (*animation.Store, error)

func (f LoaderFunc) Load(ctx context.Context, source string) (*animation.Store, error) {
	return f(ctx, source)
}

// Resumer persists playback positions.
type Resumer interface {
	Position(source string) (frame int, ok bool)
	SetPosition(source string, frame int) error
}

// Options holds Controller options.
type Options struct {
	// Autoplay starts playback when a source becomes ready.
	Autoplay bool

	// Delay optionally adjusts the display time for
	// the frame at index. d is the frame's own delay.
	Delay func(index, frames int, d time.Duration) time.Duration

	// Resume, if not nil, provides the initial frame
	// for a source and records the last frame shown.
	Resume Resumer

	Log *slog.Logger
}

// Controller is a playback state machine. All playback operations are
// no-ops unless the Controller is Ready. Controller methods are safe for
// concurrent use.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger

	loader   Loader
	autoplay bool
	delay    func(index, frames int, d time.Duration) time.Duration
	resume   Resumer

	mu       sync.Mutex
	drawable Drawable

	// gen is the current decode attempt generation
	// and loadCancel cancels its context.
	gen        uint64
	loadCancel context.CancelFunc

	kind    Kind
	message string
	source  string
	store   *animation.Store
	index   int
	playing bool

	// timer is the pending tick, tick is its generation.
	// A tick that fires with a stale generation is dropped.
	timer *time.Timer
	tick  uint64

	subs   map[chan State]struct{}
	closed bool
}

// New returns a new Controller writing to d and loading sources with l.
// The Controller is in the Loading state until Load is called and the
// source is decoded.
func New(d Drawable, l Loader, opts Options) *Controller {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With(slog.String("component", "playback")),
		loader:   l,
		autoplay: opts.Autoplay,
		delay:    opts.Delay,
		resume:   opts.Resume,
		drawable: d,
		subs:     make(map[chan State]struct{}),
	}
}

// Load starts a new decode attempt for source, discarding any in-flight
// attempt. The returned channel is closed when the attempt completes,
// whether or not its result was used.
func (c *Controller) Load(source string) <-chan struct{} {
	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(done)
		return done
	}
	c.saveLocked()
	if c.loadCancel != nil {
		c.loadCancel()
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.loadCancel = cancel
	c.stopLocked()
	c.kind = Loading
	c.message = ""
	c.source = source
	c.store = nil
	c.index = 0
	c.hideLocked()
	c.notifyLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.LogAttrs(ctx, slog.LevelInfo, "load", slog.String("source", source), slog.Uint64("generation", gen))
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel()
		store, err := c.loader.Load(ctx, source)
		c.finish(gen, source, store, err)
	}()
	return done
}

// finish completes decode attempt gen.
func (c *Controller) finish(gen uint64, source string, store *animation.Store, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		c.log.LogAttrs(c.ctx, slog.LevelDebug, "discard stale load", slog.String("source", source), slog.Uint64("generation", gen), slog.Uint64("current", c.gen))
		return
	}
	c.loadCancel = nil
	if err == nil && store.Len() == 0 {
		err = animation.ErrEmptyFrameSet
	}
	if err != nil {
		c.log.LogAttrs(c.ctx, slog.LevelError, "load failed", slog.String("source", source), slog.Any("error", err))
		c.kind = Error
		c.message = err.Error()
		c.hideLocked()
		c.notifyLocked()
		return
	}

	c.kind = Ready
	c.store = store
	start := 0
	if c.resume != nil {
		i, ok := c.resume.Position(source)
		if ok && 0 <= i && i < store.Len() {
			start = i
		}
	}
	c.log.LogAttrs(c.ctx, slog.LevelInfo, "ready", slog.String("source", source), slog.Int("frames", store.Len()), slog.Duration("duration", store.Duration()), slog.Int("start", start))
	c.renderLocked(start)
	if c.autoplay {
		c.playLocked()
	}
	c.notifyLocked()
}

// SetDrawable replaces the Controller's drawable. If the Controller is
// Ready the current frame is drawn to d, otherwise d is hidden.
func (c *Controller) SetDrawable(d Drawable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drawable = d
	if c.kind == Ready {
		c.renderLocked(c.index)
	} else {
		c.hideLocked()
	}
}

// State returns a snapshot of the Controller's state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	s := State{
		Kind:    c.kind,
		Message: c.message,
		Source:  c.source,
	}
	if c.kind == Ready {
		b := c.store.Bounds()
		s.Width = b.Dx()
		s.Height = b.Dy()
		s.Frame = c.index
		s.Frames = c.store.Len()
		s.Playing = c.playing
	}
	return s
}

// RenderFrame draws frame i and makes it current. It is a no-op if i is
// out of range.
func (c *Controller) RenderFrame(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != Ready || i < 0 || i >= c.store.Len() {
		return
	}
	c.renderLocked(i)
	c.notifyLocked()
}

// RenderNextFrame draws the frame after the current frame, wrapping to
// the first frame after the last.
func (c *Controller) RenderNextFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != Ready {
		return
	}
	c.renderLocked((c.index + 1) % c.store.Len())
	c.notifyLocked()
}

// RenderPreviousFrame draws the frame before the current frame, wrapping
// to the last frame before the first.
func (c *Controller) RenderPreviousFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != Ready {
		return
	}
	n := c.store.Len()
	c.renderLocked((c.index - 1 + n) % n)
	c.notifyLocked()
}

// Play starts timed playback from the current frame.
func (c *Controller) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != Ready || c.playing {
		return
	}
	c.playLocked()
	c.notifyLocked()
}

// Pause stops timed playback. A pending tick is cancelled and will not
// advance the frame.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != Ready || !c.playing {
		return
	}
	c.stopLocked()
	c.notifyLocked()
}

// Restart makes the first frame current without drawing it.
func (c *Controller) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != Ready {
		return
	}
	c.index = 0
	c.notifyLocked()
}

// Subscribe returns a channel that receives the Controller's state after
// each change. Only the most recent state is held, so slow receivers
// see the latest state rather than every transition. The returned func
// cancels the subscription and closes the channel.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	ch <- c.stateLocked()
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// Close stops playback, cancels any in-flight decode, records the
// current position and waits for decode goroutines to return.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopLocked()
	c.saveLocked()
	c.cancel()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// playLocked sets playing and arms the first tick.
func (c *Controller) playLocked() {
	c.playing = true
	c.armLocked()
}

// stopLocked clears playing and disarms any pending tick.
func (c *Controller) stopLocked() {
	c.playing = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.tick++
}

// armLocked schedules the advance from the current frame.
func (c *Controller) armLocked() {
	f, _ := c.store.Frame(c.index)
	d := f.Delay
	if c.delay != nil {
		d = c.delay(c.index, c.store.Len(), d)
	}
	if d < 0 {
		d = 0
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.tick++
	tick := c.tick
	c.timer = time.AfterFunc(d, func() { c.fire(tick) })
}

// fire is the tick callback. It advances the frame and re-arms only if
// the tick is still current and playback has not been stopped.
func (c *Controller) fire(tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tick != c.tick || !c.playing || c.kind != Ready {
		return
	}
	c.timer = nil
	c.renderLocked((c.index + 1) % c.store.Len())
	c.armLocked()
	c.notifyLocked()
}

// renderLocked draws frame i and makes it current. Draw failures are
// logged.
func (c *Controller) renderLocked(i int) {
	f, ok := c.store.Frame(i)
	if !ok {
		return
	}
	c.index = i
	if c.drawable == nil {
		return
	}
	err := c.drawable.Draw(f.Image)
	if err != nil {
		c.log.LogAttrs(c.ctx, slog.LevelWarn, "draw frame", slog.Int("frame", i), slog.Any("error", err))
	}
}

func (c *Controller) hideLocked() {
	if c.drawable == nil {
		return
	}
	err := c.drawable.Hide()
	if err != nil {
		c.log.LogAttrs(c.ctx, slog.LevelWarn, "hide drawable", slog.Any("error", err))
	}
}

// saveLocked records the current position if the Controller is Ready.
func (c *Controller) saveLocked() {
	if c.resume == nil || c.kind != Ready {
		return
	}
	err := c.resume.SetPosition(c.source, c.index)
	if err != nil {
		c.log.LogAttrs(c.ctx, slog.LevelWarn, "save position", slog.String("source", c.source), slog.Int("frame", c.index), slog.Any("error", err))
	}
}

func (c *Controller) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}
	s := c.stateLocked()
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
