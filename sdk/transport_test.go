package callwire

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type collectSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *collectSink) OnTranscript(sender, text string) {
	s.mu.Lock()
	s.lines = append(s.lines, sender+": "+text)
	s.mu.Unlock()
}

func (s *collectSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func newStreamTestServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media-stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn, r)
	}))

	return server.URL, server.Close
}

func drainUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestMediaStream_DispatchesFramesInOrder(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		for i := 0; i < 5; i++ {
			_ = conn.WriteJSON(map[string]any{"event": "transcript", "sender": "assistant", "text": fmt.Sprintf("line %d", i)})
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		drainUntilClosed(conn)
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	sink := &collectSink{}
	stream := client.MediaStream(NewDispatcher(nil, sink, discardLogger()))

	if err := stream.Open(context.Background(), "CA123"); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	<-stream.Done()

	if err := stream.Err(); err != nil {
		t.Fatalf("stream err: %v", err)
	}
	if state := stream.State(); state != TransportClosed {
		t.Fatalf("state=%v, want CLOSED after remote graceful close", state)
	}
	got := sink.snapshot()
	if len(got) != 5 {
		t.Fatalf("transcripts=%d, want 5: %v", len(got), got)
	}
	for i, line := range got {
		want := fmt.Sprintf("assistant: line %d", i)
		if line != want {
			t.Fatalf("transcript[%d]=%q, want %q", i, line, want)
		}
	}
}

func TestMediaStream_QueryCarriesCallRecordID(t *testing.T) {
	t.Parallel()

	gotID := make(chan string, 1)
	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		gotID <- r.URL.Query().Get("call_record_id")
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		drainUntilClosed(conn)
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	if err := stream.Open(context.Background(), "CA999"); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	<-stream.Done()

	select {
	case id := <-gotID:
		if id != "CA999" {
			t.Fatalf("call_record_id=%q, want CA999", id)
		}
	default:
		t.Fatalf("server never saw the dial")
	}
}

func TestMediaStream_OpenWhileOpen(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		drainUntilClosed(conn)
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	if err := stream.Open(context.Background(), "CA123"); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer stream.Close()

	err := stream.Open(context.Background(), "CA123")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrInvalidState {
		t.Fatalf("err=%v, want invalid_state_error", err)
	}
	if state := stream.State(); state != TransportOpen {
		t.Fatalf("state=%v, the failed open must not disturb the live stream", state)
	}
}

func TestMediaStream_SendWhenNotOpen(t *testing.T) {
	t.Parallel()

	client := NewClient("http://127.0.0.1:1", WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	err := stream.Send([]byte{1, 2, 3})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrInvalidState {
		t.Fatalf("err=%v, want invalid_state_error", err)
	}
}

func TestMediaStream_OpenWithoutCallID(t *testing.T) {
	t.Parallel()

	client := NewClient("http://127.0.0.1:1", WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	err := stream.Open(context.Background(), "  ")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrInvalidState {
		t.Fatalf("err=%v, want invalid_state_error", err)
	}
	if state := stream.State(); state != TransportClosed {
		t.Fatalf("state=%v, want CLOSED after rejected open", state)
	}
}

func TestMediaStream_SendKeepsFIFOOrder(t *testing.T) {
	t.Parallel()

	type receivedFrame struct {
		Seq  int64  `json:"seq"`
		Data string `json:"data"`
	}
	received := make(chan receivedFrame, 8)
	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		for {
			var frame receivedFrame
			if err := conn.ReadJSON(&frame); err != nil {
				close(received)
				return
			}
			received <- frame
		}
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	if err := stream.Open(context.Background(), "CA123"); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	chunks := [][]byte{{0x01}, {0x02, 0x02}, {0x03, 0x03, 0x03}}
	for _, chunk := range chunks {
		if err := stream.Send(chunk); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	var got []receivedFrame
	for frame := range received {
		got = append(got, frame)
	}
	if len(got) != len(chunks) {
		t.Fatalf("frames=%d, want %d", len(got), len(chunks))
	}
	for i, frame := range got {
		if frame.Seq != int64(i+1) {
			t.Fatalf("frame[%d].seq=%d, want %d", i, frame.Seq, i+1)
		}
		pcm, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			t.Fatalf("frame[%d] data: %v", i, err)
		}
		if string(pcm) != string(chunks[i]) {
			t.Fatalf("frame[%d] payload=%v, want %v", i, pcm, chunks[i])
		}
	}
}

func TestMediaStream_AbnormalCloseSurfacesTransportError(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteJSON(map[string]any{"event": "transcript", "sender": "assistant", "text": "hi"})
		// Drop the TCP connection without a close handshake.
		_ = conn.Close()
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	sink := &collectSink{}
	stream := client.MediaStream(NewDispatcher(nil, sink, discardLogger()))

	if err := stream.Open(context.Background(), "CA123"); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	<-stream.Done()

	err := stream.Err()
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrTransport {
		t.Fatalf("err=%v, want transport_error", err)
	}
	if state := stream.State(); state != TransportErrored {
		t.Fatalf("state=%v, want ERRORED", state)
	}

	// Close after a failure just completes the cleanup.
	if err := stream.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if state := stream.State(); state != TransportClosed {
		t.Fatalf("state=%v, want CLOSED after cleanup", state)
	}
}

func TestMediaStream_UnknownEventTolerated(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"event": "mark", "name": "checkpoint"})
		_ = conn.WriteJSON(map[string]any{"event": "transcript", "sender": "user", "text": "still here"})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		drainUntilClosed(conn)
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	sink := &collectSink{}
	dispatcher := NewDispatcher(nil, sink, discardLogger())
	stream := client.MediaStream(dispatcher)

	if err := stream.Open(context.Background(), "CA123"); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	<-stream.Done()

	if err := stream.Err(); err != nil {
		t.Fatalf("stream err: %v, unknown events must not fail the stream", err)
	}
	if n := dispatcher.UnknownCount(); n != 1 {
		t.Fatalf("unknown=%d, want 1", n)
	}
	if got := sink.snapshot(); len(got) != 1 || got[0] != "user: still here" {
		t.Fatalf("transcripts=%v", got)
	}
}

func TestMediaStream_MalformedFrameFailsStream(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		drainUntilClosed(conn)
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	if err := stream.Open(context.Background(), "CA123"); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	<-stream.Done()

	err := stream.Err()
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrTransport {
		t.Fatalf("err=%v, want transport_error for a malformed frame", err)
	}
}

func TestMediaStream_DialFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	err := stream.Open(context.Background(), "CA123")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrTransport {
		t.Fatalf("err=%v, want transport_error", err)
	}
	if state := stream.State(); state != TransportErrored {
		t.Fatalf("state=%v, want ERRORED", state)
	}
}

func TestMediaStream_CloseIdempotent(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		drainUntilClosed(conn)
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	if err := stream.Open(context.Background(), "CA123"); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if state := stream.State(); state != TransportClosed {
		t.Fatalf("state=%v, want CLOSED", state)
	}
}

func TestMediaStream_ReopenAfterClose(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newStreamTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		drainUntilClosed(conn)
	})
	defer closeServer()

	client := NewClient(serverURL, WithLogger(discardLogger()))
	stream := client.MediaStream(NewDispatcher(nil, nil, discardLogger()))

	if err := stream.Open(context.Background(), "CA123"); err != nil {
		t.Fatalf("first Open error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := stream.Open(context.Background(), "CA124"); err != nil {
		t.Fatalf("second Open error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
