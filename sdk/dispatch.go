package callwire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/hearsay-ai/callwire/pkg/wire"
)

// StreamEvent is a decoded media-stream frame.
type StreamEvent interface {
	streamEventType() string
}

// AudioEvent carries one chunk of assistant PCM audio.
type AudioEvent struct {
	Seq int64
	PCM []byte
}

func (e AudioEvent) streamEventType() string { return wire.EventAudio }

// TranscriptEvent carries one transcript line with its sender tag.
// It doubles as a session event so the controller can forward transcript
// lines to its consumers unchanged.
type TranscriptEvent struct {
	Sender string
	Text   string
}

func (e TranscriptEvent) streamEventType() string { return wire.EventTranscript }

// EventType implements SessionEvent.
func (e TranscriptEvent) EventType() string { return "transcript" }

// UnknownEvent preserves a frame with an unrecognized event value.
type UnknownEvent struct {
	Event string
	Raw   json.RawMessage
}

func (e UnknownEvent) streamEventType() string { return e.Event }

// decodeStreamEvent decodes one inbound text frame. Frames with an
// unrecognized event value decode to UnknownEvent; frames that cannot be
// decoded at all (bad JSON, missing event, bad audio payload) are malformed
// and returned as errors.
func decodeStreamEvent(data []byte) (StreamEvent, error) {
	var envelope wire.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode stream frame envelope: %w", err)
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, fmt.Errorf("stream frame missing event")
	}

	switch event {
	case wire.EventAudio:
		var frame wire.AudioFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode audio frame: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			return nil, fmt.Errorf("decode audio frame data: %w", err)
		}
		return AudioEvent{Seq: frame.Seq, PCM: pcm}, nil
	case wire.EventTranscript:
		var frame wire.TranscriptFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode transcript frame: %w", err)
		}
		return TranscriptEvent{Sender: frame.Sender, Text: frame.Text}, nil
	default:
		return UnknownEvent{
			Event: event,
			Raw:   append(json.RawMessage(nil), data...),
		}, nil
	}
}

// PlaybackSink consumes assistant audio for local playback.
type PlaybackSink interface {
	PlayAudio(pcm []byte)
}

// TranscriptSink consumes transcript lines in arrival order.
type TranscriptSink interface {
	OnTranscript(sender, text string)
}

// Dispatcher routes decoded stream events to their sinks: audio to the
// playback sink, transcripts to the transcript sink. Frames with an
// unrecognized event are counted and logged, never fatal. A nil sink drops
// its events.
type Dispatcher struct {
	playback   PlaybackSink
	transcript TranscriptSink
	logger     *slog.Logger

	unknown atomic.Int64
}

// NewDispatcher creates a dispatcher feeding the given sinks. Either sink
// may be nil.
func NewDispatcher(playback PlaybackSink, transcript TranscriptSink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		playback:   playback,
		transcript: transcript,
		logger:     logger,
	}
}

// Dispatch routes one event. The transport's read loop calls it in frame
// arrival order; sinks must not block for long.
func (d *Dispatcher) Dispatch(event StreamEvent) {
	switch ev := event.(type) {
	case AudioEvent:
		if d.playback != nil {
			d.playback.PlayAudio(ev.PCM)
		}
	case TranscriptEvent:
		if d.transcript != nil {
			d.transcript.OnTranscript(ev.Sender, ev.Text)
		}
	default:
		n := d.unknown.Add(1)
		d.logger.Debug("ignoring unknown stream event", "event", event.streamEventType(), "count", n)
	}
}

// UnknownCount reports how many unrecognized frames have been dropped.
func (d *Dispatcher) UnknownCount() int64 {
	return d.unknown.Load()
}
