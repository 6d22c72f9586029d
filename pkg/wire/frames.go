// Package wire defines the JSON frames exchanged over a media-stream
// WebSocket. Both the client SDK and the bridge server speak this format.
package wire

// Frame event discriminators. Every frame carries an "event" field; frames
// with an unrecognized event are ignored by receivers, so new event types can
// be introduced without breaking older peers.
const (
	EventAudio      = "audio"
	EventTranscript = "transcript"
)

// Sender tags attached to transcript frames.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// PCM stream parameters. Audio is signed 16-bit little-endian, mono.
const (
	CaptureSampleRateHz  = 16000
	PlaybackSampleRateHz = 24000
)

// AudioFrame carries one chunk of PCM audio, base64-encoded. Seq is a
// per-sender monotonic counter; receivers may use it to detect gaps but are
// not required to.
type AudioFrame struct {
	Event string `json:"event"`
	Seq   int64  `json:"seq,omitempty"`
	Data  string `json:"data"`
}

// TranscriptFrame carries one line of recognized or synthesized speech.
type TranscriptFrame struct {
	Event  string `json:"event"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Envelope is the minimal decode target used to pick a frame type before
// unmarshaling the full payload.
type Envelope struct {
	Event string `json:"event"`
}
