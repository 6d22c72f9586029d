package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hearsay-ai/callwire/pkg/bridge/metrics"
	"github.com/hearsay-ai/callwire/pkg/bridge/store"
	"github.com/hearsay-ai/callwire/pkg/wire"
)

// seedCall stores a dialed call and returns its SID.
func seedCall(t *testing.T, st store.Store, sid string) store.Call {
	t.Helper()
	ctx := context.Background()
	user, err := st.EnsureUser(ctx, "+15550100")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	call, err := st.CreateCall(ctx, user.ID, "on-demand")
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if err := st.SetCallDialSID(ctx, call.ID, sid); err != nil {
		t.Fatalf("SetCallDialSID() error = %v", err)
	}
	call.CallSID = sid
	return call
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMediaStreamHandler_RejectsNonGET(t *testing.T) {
	h := MediaStreamHandler{Config: baseBridgeConfig(), Store: store.NewMemory(), Metrics: metrics.New("test"), Logger: testLogger()}
	req := httptest.NewRequest(http.MethodPost, "/media-stream?call_record_id=CA1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMediaStreamHandler_MissingCallRecordID(t *testing.T) {
	h := MediaStreamHandler{Config: baseBridgeConfig(), Store: store.NewMemory(), Metrics: metrics.New("test"), Logger: testLogger()}
	req := httptest.NewRequest(http.MethodGet, "/media-stream", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "missing call_record_id") {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestMediaStreamHandler_UnknownCall(t *testing.T) {
	h := MediaStreamHandler{Config: baseBridgeConfig(), Store: store.NewMemory(), Metrics: metrics.New("test"), Logger: testLogger()}
	req := httptest.NewRequest(http.MethodGet, "/media-stream?call_record_id=CAnope", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "unknown call") {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestMediaStreamHandler_RunsScriptedCall(t *testing.T) {
	st := store.NewMemory()
	call := seedCall(t, st, "CA99")
	m := metrics.New("test")
	h := MediaStreamHandler{Config: baseBridgeConfig(), Store: st, Metrics: m, Logger: testLogger()}

	server := httptest.NewServer(h)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/media-stream?call_record_id=CA99"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	var transcripts []string
	var audio []wire.AudioFrame
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
				t.Fatalf("read err = %v, want normal closure", err)
			}
			if ce.Text != "call complete" {
				t.Fatalf("close text = %q, want %q", ce.Text, "call complete")
			}
			break
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("frame %q: %v", data, err)
		}
		switch env.Event {
		case wire.EventTranscript:
			var f wire.TranscriptFrame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("transcript frame: %v", err)
			}
			if f.Sender != wire.SenderAssistant {
				t.Fatalf("sender = %q, want %q", f.Sender, wire.SenderAssistant)
			}
			transcripts = append(transcripts, f.Text)
		case wire.EventAudio:
			var f wire.AudioFrame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("audio frame: %v", err)
			}
			audio = append(audio, f)
		default:
			t.Fatalf("unexpected event %q", env.Event)
		}
	}

	if len(transcripts) != 2 || transcripts[0] != assistantGreeting || transcripts[1] != assistantGoodbye {
		t.Fatalf("transcripts = %q", transcripts)
	}
	if len(audio) != assistantAudioFrames {
		t.Fatalf("audio frames = %d, want %d", len(audio), assistantAudioFrames)
	}
	for i, f := range audio {
		if f.Seq != int64(i+1) {
			t.Fatalf("audio[%d].Seq = %d, want %d", i, f.Seq, i+1)
		}
		pcm, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			t.Fatalf("audio[%d] data: %v", i, err)
		}
		if len(pcm) != assistantFrameSamples*2 {
			t.Fatalf("audio[%d] len = %d, want %d", i, len(pcm), assistantFrameSamples*2)
		}
	}

	waitUntil(t, func() bool {
		got, err := st.GetCall(context.Background(), call.ID)
		return err == nil && got.Status == store.CallStatusCompleted
	})
	got, err := st.GetCall(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if got.EndedAt == nil || got.DurationSeconds == nil {
		t.Fatalf("call not finished: %+v", got)
	}

	tr, err := st.GetTranscriptionByCall(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("GetTranscriptionByCall() error = %v", err)
	}
	if !strings.Contains(tr.Content, "Assistant: "+assistantGreeting) || !strings.Contains(tr.Content, "Assistant: "+assistantGoodbye) {
		t.Fatalf("transcription = %q", tr.Content)
	}

	waitUntil(t, func() bool {
		return testutil.ToFloat64(m.StreamsTotal.WithLabelValues("completed")) == 1
	})
	wantOutbound := float64(assistantAudioFrames * assistantFrameSamples * 2)
	if got := testutil.ToFloat64(m.AudioBytesTotal.WithLabelValues("outbound")); got != wantOutbound {
		t.Fatalf("audio_bytes_total{outbound} = %v, want %v", got, wantOutbound)
	}
}

func TestMediaStreamHandler_MetersInboundAudio(t *testing.T) {
	st := store.NewMemory()
	call := seedCall(t, st, "CA55")
	m := metrics.New("test")
	cfg := baseBridgeConfig()
	cfg.AssistantFrameInterval = time.Minute // hold the script so the stream stays open
	h := MediaStreamHandler{Config: cfg, Store: st, Metrics: m, Logger: testLogger()}

	server := httptest.NewServer(h)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/media-stream?call_record_id=CA55"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Greeting arrives before the first pause.
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	frame, _ := json.Marshal(wire.AudioFrame{
		Event: wire.EventAudio,
		Data:  base64.StdEncoding.EncodeToString([]byte("hello!")),
	})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write audio frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"mark"}`)); err != nil {
		t.Fatalf("write mark frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write junk frame: %v", err)
	}
	err = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("write close: %v", err)
	}

	waitUntil(t, func() bool {
		got, err := st.GetCall(context.Background(), call.ID)
		return err == nil && got.Status == store.CallStatusCompleted
	})

	waitUntil(t, func() bool {
		return testutil.ToFloat64(m.StreamsTotal.WithLabelValues("completed")) == 1
	})

	// 4 raw binary bytes plus the 6 decoded PCM bytes; junk frames count nothing.
	if got := testutil.ToFloat64(m.AudioBytesTotal.WithLabelValues("inbound")); got != 10 {
		t.Fatalf("audio_bytes_total{inbound} = %v, want 10", got)
	}

	// Only the greeting was spoken before the caller hung up.
	tr, err := st.GetTranscriptionByCall(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("GetTranscriptionByCall() error = %v", err)
	}
	if tr.Content != "Assistant: "+assistantGreeting {
		t.Fatalf("transcription = %q", tr.Content)
	}
}

func TestMediaStreamHandler_AbruptDropCountsAborted(t *testing.T) {
	st := store.NewMemory()
	call := seedCall(t, st, "CA66")
	m := metrics.New("test")
	cfg := baseBridgeConfig()
	cfg.AssistantFrameInterval = time.Minute
	h := MediaStreamHandler{Config: cfg, Store: st, Metrics: m, Logger: testLogger()}

	server := httptest.NewServer(h)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/media-stream?call_record_id=CA66"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	// Drop the TCP connection without a close handshake.
	conn.Close()

	waitUntil(t, func() bool {
		return testutil.ToFloat64(m.StreamsTotal.WithLabelValues("aborted")) == 1
	})

	// The call still gets finished.
	waitUntil(t, func() bool {
		got, err := st.GetCall(context.Background(), call.ID)
		return err == nil && got.Status == store.CallStatusCompleted
	})
}
