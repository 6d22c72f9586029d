package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/hearsay-ai/callwire/pkg/wire"
)

// Player renders assistant PCM through the system speaker. PlayAudio
// appends to an internal buffer that the oto player drains on its own
// schedule, so callers never block on the audio hardware.
type Player struct {
	otoCtx *oto.Context

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	player *oto.Player
	closed bool
}

// NewPlayer initializes the speaker for S16LE mono at the given sample
// rate and blocks until the audio backend is ready.
func NewPlayer(sampleRateHz int) (*Player, error) {
	if sampleRateHz <= 0 {
		sampleRateHz = wire.PlaybackSampleRateHz
	}

	opts := &oto.NewContextOptions{
		SampleRate:   sampleRateHz,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	p := &Player{otoCtx: otoCtx}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// PlayAudio queues one chunk of PCM for playback. The first chunk starts
// the underlying player. Chunks queued after Close are dropped.
func (p *Player) PlayAudio(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.buf = append(p.buf, pcm...)

	if p.player == nil {
		p.player = p.otoCtx.NewPlayer(p)
		p.player.Play()
	}
	p.cond.Signal()
}

// Read implements io.Reader for the oto player, which pulls PCM on its own
// schedule. After Close it returns silence so the device drains without
// underrun errors.
func (p *Player) Read(out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}

	if p.closed && len(p.buf) == 0 {
		for i := range out {
			out[i] = 0
		}
		return len(out), nil
	}

	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Flush discards any queued audio and stops the current playback so the
// next chunk starts fresh.
func (p *Player) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = nil
	if p.player != nil {
		p.player.Pause()
		p.player.Reset()
		_ = p.player.Close()
		p.player = nil
	}
}

// Close stops playback and releases the speaker. Safe to call more than
// once.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	player := p.player
	p.player = nil
	p.mu.Unlock()
	p.cond.Broadcast()

	if player != nil {
		player.Pause()
		_ = player.Close()
	}
	_ = p.otoCtx.Suspend()
}
