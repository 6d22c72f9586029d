package callwire

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearsay-ai/callwire/pkg/wire"
)

const defaultDialTimeout = 15 * time.Second

// TransportState is the lifecycle state of a MediaStream.
type TransportState int

const (
	TransportClosed TransportState = iota
	TransportOpening
	TransportOpen
	TransportClosing
	TransportErrored
)

func (s TransportState) String() string {
	switch s {
	case TransportClosed:
		return "CLOSED"
	case TransportOpening:
		return "OPENING"
	case TransportOpen:
		return "OPEN"
	case TransportClosing:
		return "CLOSING"
	case TransportErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// MediaStream owns the single streaming connection of one call session.
// Inbound frames are dispatched in arrival order; outbound audio keeps its
// production order behind a single write mutex. The stream never reconnects
// on its own: any failure surfaces once through Err, and the owner decides
// whether a brand-new session is warranted.
type MediaStream struct {
	client     *Client
	dispatcher *Dispatcher

	mu    sync.Mutex
	state TransportState
	conn  *websocket.Conn
	url   string
	seq   int64
	done  chan struct{}

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error
}

// MediaStream creates a transport bound to this client's bridge, feeding
// inbound frames to d.
func (c *Client) MediaStream(d *Dispatcher) *MediaStream {
	return &MediaStream{
		client:     c,
		dispatcher: d,
	}
}

// State reports the current lifecycle state.
func (m *MediaStream) State() TransportState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done returns a channel closed when the current connection's read loop has
// finished. Before the first successful Open it is already closed.
func (m *MediaStream) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.done
}

// Err returns the terminal error of the current connection, if any. It does
// not block; the value is final once Done is closed. A graceful close from
// either side leaves it nil.
func (m *MediaStream) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

// Open dials the media stream for callID. Valid only from Closed; any other
// state returns an invalid state error. On success the stream is Open and
// its read loop dispatches inbound frames until the connection ends.
// Cancelling ctx aborts an in-flight dial; an already-open stream is not
// affected by it.
func (m *MediaStream) Open(ctx context.Context, callID string) error {
	m.mu.Lock()
	if m.state != TransportClosed {
		state := m.state
		m.mu.Unlock()
		return NewInvalidStateError(fmt.Sprintf("cannot open media stream while %s", state))
	}
	m.state = TransportOpening
	m.done = nil
	m.mu.Unlock()

	m.errMu.Lock()
	m.err = nil
	m.errMu.Unlock()

	if strings.TrimSpace(callID) == "" {
		m.reset()
		return NewInvalidStateError("cannot open media stream without a call id")
	}

	wsURL, err := m.client.streamEndpoint(callID)
	if err != nil {
		m.reset()
		return err
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		var terr *Error
		if resp != nil {
			terr = NewTransportError("dial", wsURL, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		} else {
			terr = NewTransportError("dial", wsURL, err)
		}
		m.fail(terr)
		return terr
	}

	m.mu.Lock()
	m.conn = conn
	m.url = wsURL
	m.seq = 0
	m.done = make(chan struct{})
	m.state = TransportOpen
	done := m.done
	m.mu.Unlock()

	go m.readLoop(conn, done)
	return nil
}

// Send transmits one chunk of microphone PCM as an audio frame. Valid only
// while Open. A write failure moves the stream to Errored.
func (m *MediaStream) Send(pcm []byte) error {
	m.mu.Lock()
	if m.state != TransportOpen {
		state := m.state
		m.mu.Unlock()
		return NewInvalidStateError(fmt.Sprintf("cannot send audio while media stream is %s", state))
	}
	conn := m.conn
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	frame := wire.AudioFrame{
		Event: wire.EventAudio,
		Seq:   seq,
		Data:  base64.StdEncoding.EncodeToString(pcm),
	}

	m.writeMu.Lock()
	err := conn.WriteJSON(frame)
	m.writeMu.Unlock()
	if err != nil {
		terr := NewTransportError("write", m.streamURL(), err)
		m.fail(terr)
		_ = conn.Close()
		return terr
	}
	return nil
}

// Close runs the graceful shutdown handshake and waits for the read loop to
// finish. Safe to call from any state except Opening, and more than once;
// closing a stream that already reached Closed or Errored just completes
// the cleanup. While a dial is in flight the open context, not Close, is
// the cancellation path.
func (m *MediaStream) Close() error {
	m.mu.Lock()
	switch m.state {
	case TransportClosed:
		done := m.done
		m.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	case TransportOpening:
		m.mu.Unlock()
		return NewInvalidStateError("cannot close media stream while OPENING; cancel the open context")
	case TransportClosing:
		done := m.done
		m.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	case TransportErrored:
		conn := m.conn
		done := m.done
		m.conn = nil
		m.state = TransportClosed
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		if done != nil {
			<-done
		}
		return nil
	}

	conn := m.conn
	done := m.done
	m.state = TransportClosing
	m.mu.Unlock()

	m.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	m.writeMu.Unlock()
	_ = conn.Close()
	if done != nil {
		<-done
	}

	m.mu.Lock()
	m.state = TransportClosed
	m.conn = nil
	m.mu.Unlock()
	return nil
}

func (m *MediaStream) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if m.closingLocally() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.finishRemoteClose(conn)
				return
			}
			m.fail(NewTransportError("read", m.streamURL(), err))
			_ = conn.Close()
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		event, decodeErr := decodeStreamEvent(data)
		if decodeErr != nil {
			m.fail(NewTransportError("decode", m.streamURL(), decodeErr))
			_ = conn.Close()
			return
		}
		m.dispatcher.Dispatch(event)
	}
}

func (m *MediaStream) closingLocally() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == TransportClosing
}

func (m *MediaStream) streamURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// finishRemoteClose handles a graceful close initiated by the remote end:
// state goes straight to Closed and Err stays nil.
func (m *MediaStream) finishRemoteClose(conn *websocket.Conn) {
	m.mu.Lock()
	if m.state == TransportOpen {
		m.state = TransportClosed
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

// fail records the first terminal error and moves the stream to Errored.
// Later failures on the same connection are dropped so the owner sees one
// cause.
func (m *MediaStream) fail(err error) {
	m.errMu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.errMu.Unlock()

	m.mu.Lock()
	m.state = TransportErrored
	m.mu.Unlock()
}

// reset returns an Opening stream that never touched the network to Closed.
func (m *MediaStream) reset() {
	m.mu.Lock()
	m.state = TransportClosed
	m.mu.Unlock()
}
