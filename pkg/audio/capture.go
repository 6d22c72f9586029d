// Package audio owns the local audio endpoints of a call session:
// exclusive microphone capture and speaker playback. Capture treats the
// microphone as a scoped resource with exactly-once release; Player renders
// assistant PCM through the system speaker.
package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hearsay-ai/callwire/pkg/wire"
)

// Config describes the captured PCM format: signed 16-bit little-endian.
type Config struct {
	SampleRateHz int
	Channels     int
}

// DefaultConfig returns the capture format the bridge expects.
func DefaultConfig() Config {
	return Config{SampleRateHz: wire.CaptureSampleRateHz, Channels: 1}
}

// Device is an acquired capture device. Close stops and releases it.
type Device interface {
	Close() error
}

// DeviceOpener acquires a capture device and begins delivering PCM into
// onData. onData is called from the device's data callback and must not
// block; the passed slice is only valid for the duration of the call.
type DeviceOpener func(cfg Config, onData func(pcm []byte)) (Device, error)

// Capture acquires the microphone and exposes it as an ordered stream of
// PCM chunks. The device is released exactly once per run no matter how
// many stop triggers race: context cancellation, Stop, or both at once.
// After a full Stop the pipeline may be started again.
type Capture struct {
	cfg    Config
	open   DeviceOpener
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	release func()
}

// Option configures a Capture.
type Option func(*Capture)

// WithConfig overrides the capture format.
func WithConfig(cfg Config) Option {
	return func(c *Capture) {
		c.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capture) {
		c.logger = l
	}
}

// WithDeviceOpener replaces the malgo-backed opener. Tests use this to run
// the pipeline without hardware.
func WithDeviceOpener(open DeviceOpener) Option {
	return func(c *Capture) {
		c.open = open
	}
}

// NewCapture creates an idle capture pipeline.
func NewCapture(opts ...Option) *Capture {
	c := &Capture{
		cfg:    DefaultConfig(),
		open:   openMalgoDevice,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start acquires the device and returns the chunk stream. Chunks arrive in
// production order and the stream closes once the device is released,
// which happens on the first of: ctx cancellation, Stop, or abandonment of
// the run. Starting an already-started capture is an error; restarting is
// allowed only after a full Stop.
func (c *Capture) Start(ctx context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, errors.New("audio: capture already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		c.abortStart()
		return nil, err
	}

	var (
		bufMu  sync.Mutex
		cond   = sync.NewCond(&bufMu)
		buf    []byte
		closed bool
	)

	device, err := c.open(c.cfg, func(pcm []byte) {
		bufMu.Lock()
		buf = append(buf, pcm...)
		bufMu.Unlock()
		cond.Signal()
	})
	if err != nil {
		c.abortStart()
		return nil, err
	}

	frames := make(chan []byte, 32)
	quit := make(chan struct{})

	var once sync.Once
	release := func() {
		once.Do(func() {
			if cerr := device.Close(); cerr != nil {
				c.logger.Warn("closing capture device", "error", cerr)
			}
			bufMu.Lock()
			closed = true
			bufMu.Unlock()
			cond.Broadcast()
			close(quit)

			c.mu.Lock()
			c.started = false
			c.release = nil
			c.mu.Unlock()
		})
	}

	c.mu.Lock()
	c.release = release
	c.mu.Unlock()

	// Drain the device buffer into the chunk stream. The device callback
	// only appends under bufMu, so it never blocks on a slow consumer.
	go func() {
		defer close(frames)
		for {
			bufMu.Lock()
			for len(buf) == 0 && !closed {
				cond.Wait()
			}
			if closed && len(buf) == 0 {
				bufMu.Unlock()
				return
			}
			chunk := make([]byte, len(buf))
			copy(chunk, buf)
			buf = buf[:0]
			bufMu.Unlock()

			select {
			case frames <- chunk:
			case <-quit:
				return
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			release()
		case <-quit:
		}
	}()

	return frames, nil
}

// Stop releases the device of the current run. Safe to call more than once
// and after the run already ended.
func (c *Capture) Stop() {
	c.mu.Lock()
	release := c.release
	c.mu.Unlock()
	if release != nil {
		release()
	}
}

func (c *Capture) abortStart() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}
