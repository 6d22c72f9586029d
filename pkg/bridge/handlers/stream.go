package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearsay-ai/callwire/pkg/bridge/config"
	"github.com/hearsay-ai/callwire/pkg/bridge/metrics"
	"github.com/hearsay-ai/callwire/pkg/bridge/store"
	"github.com/hearsay-ai/callwire/pkg/wire"
)

// The assistant side of a bridged call is scripted: a greeting, a short
// tone burst standing in for synthesized speech, and a goodbye.
const (
	assistantGreeting = "Hello! This is your daily check-in call. How are you feeling today?"
	assistantGoodbye  = "Thanks for checking in. Take care, and talk to you tomorrow."

	assistantAudioFrames  = 5
	assistantFrameSamples = wire.PlaybackSampleRateHz / 50 // 20ms per frame
)

// MediaStreamHandler carries the call audio over a WebSocket. The query
// parameter call_record_id holds the call SID handed out by /call-user;
// the call must exist before the upgrade is accepted.
type MediaStreamHandler struct {
	Config  config.Config
	Store   store.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, r, http.StatusMethodNotAllowed, errTypeInvalidRequest, "method not allowed")
		return
	}
	callSID := strings.TrimSpace(r.URL.Query().Get("call_record_id"))
	if callSID == "" {
		writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "missing call_record_id")
		return
	}
	call, err := h.Store.GetCallBySID(r.Context(), callSID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, r, http.StatusNotFound, errTypeNotFound, "unknown call")
		return
	}
	if err != nil {
		h.Logger.Error("look up call", "call_sid", callSID, "error", err)
		h.Metrics.RecordError("store")
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "failed to look up call")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.StreamMaxFrameBytes > 0 {
		conn.SetReadLimit(h.Config.StreamMaxFrameBytes)
	}

	h.Metrics.RecordStreamStart()
	start := time.Now()
	streamStatus := "completed"
	defer func() {
		h.Metrics.RecordStreamEnd(streamStatus, time.Since(start))
	}()

	if err := h.Store.SetCallStatus(r.Context(), call.ID, store.CallStatusInProgress); err != nil {
		h.Logger.Warn("mark call in progress", "call_id", call.ID, "error", err)
	}
	h.Logger.Info("media stream open", "call_id", call.ID, "call_sid", call.CallSID)

	// Backstop against runaway calls.
	hangup := time.AfterFunc(h.Config.StreamMaxDuration, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call time limit"),
			time.Now().Add(2*time.Second))
	})
	defer hangup.Stop()

	var writeMu sync.Mutex

	stop := make(chan struct{})
	assistantDone := make(chan struct{})
	var spoken []string
	go func() {
		defer close(assistantDone)
		spoken = h.speakScript(conn, &writeMu, stop)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				streamStatus = "aborted"
			}
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			h.Metrics.RecordAudio("inbound", len(data))
		case websocket.TextMessage:
			h.meterInbound(data)
		}
	}
	close(stop)
	<-assistantDone

	// The request context dies with the connection; persistence gets its own.
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(spoken) > 0 {
		if _, err := h.Store.SaveTranscription(persistCtx, call.ID, strings.Join(spoken, "\n")); err != nil {
			h.Logger.Error("save transcription", "call_id", call.ID, "error", err)
			h.Metrics.RecordError("store")
		}
	}
	if err := h.Store.FinishCall(persistCtx, call.ID, store.CallStatusCompleted); err != nil {
		h.Logger.Error("finish call", "call_id", call.ID, "error", err)
		h.Metrics.RecordError("store")
	}
	h.Logger.Info("media stream closed",
		"call_id", call.ID,
		"status", streamStatus,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// meterInbound accounts for audio the caller sends. Unknown frames are
// tolerated; the client side owns strict validation.
func (h MediaStreamHandler) meterInbound(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.Logger.Warn("unparseable inbound frame", "error", err)
		return
	}
	if env.Event != wire.EventAudio {
		h.Logger.Debug("ignoring inbound frame", "event", env.Event)
		return
	}
	var frame wire.AudioFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		h.Logger.Warn("undecodable inbound audio", "error", err)
		return
	}
	h.Metrics.RecordAudio("inbound", len(pcm))
}

// speakScript plays the assistant's scripted turn and returns the lines it
// spoke. It stops early when stop closes and hangs up the call once the
// script completes.
func (h MediaStreamHandler) speakScript(conn *websocket.Conn, writeMu *sync.Mutex, stop <-chan struct{}) []string {
	var spoken []string

	say := func(text string) bool {
		err := h.writeFrame(conn, writeMu, wire.TranscriptFrame{
			Event:  wire.EventTranscript,
			Sender: wire.SenderAssistant,
			Text:   text,
		})
		if err != nil {
			return false
		}
		spoken = append(spoken, "Assistant: "+text)
		return true
	}

	if !say(assistantGreeting) {
		return spoken
	}

	tone := assistantTone(assistantFrameSamples)
	for seq := 1; seq <= assistantAudioFrames; seq++ {
		if !h.pause(stop) {
			return spoken
		}
		frame := wire.AudioFrame{
			Event: wire.EventAudio,
			Seq:   int64(seq),
			Data:  base64.StdEncoding.EncodeToString(tone),
		}
		if err := h.writeFrame(conn, writeMu, frame); err != nil {
			return spoken
		}
		h.Metrics.RecordAudio("outbound", len(tone))
	}

	if !h.pause(stop) {
		return spoken
	}
	if !say(assistantGoodbye) {
		return spoken
	}

	// Script complete: hang up. The read loop drains the close reply.
	writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call complete"),
		time.Now().Add(2*time.Second))
	writeMu.Unlock()
	return spoken
}

// pause waits one frame interval, returning false once the stream stopped.
func (h MediaStreamHandler) pause(stop <-chan struct{}) bool {
	if h.Config.AssistantFrameInterval <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(h.Config.AssistantFrameInterval)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

func (h MediaStreamHandler) writeFrame(conn *websocket.Conn, writeMu *sync.Mutex, v any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	if h.Config.StreamWriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.Config.StreamWriteTimeout))
	}
	return conn.WriteJSON(v)
}

// assistantTone synthesizes one 440 Hz S16LE frame at the playback rate.
func assistantTone(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*440*float64(i)/float64(wire.PlaybackSampleRateHz)))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
