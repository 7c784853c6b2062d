package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/graphsync/internal/util"
)

const (
	sendQueueSize = 64              // outgoing frame channel capacity
	writeTimeout  = 5 * time.Second // per-frame write deadline
)

// WSLink is a Link over a websocket connection. A single writer goroutine
// serializes all writes; the reader goroutine starts once a frame handler
// is registered.
type WSLink struct {
	conn   *websocket.Conn
	outbox chan []byte
	gate   chan struct{} // closed when the handler is set
	done   chan struct{}

	handler   func([]byte)
	gateOnce  sync.Once
	closeOnce sync.Once
}

// NewWSLink wraps an established websocket connection.
func NewWSLink(conn *websocket.Conn, queue int) *WSLink {
	if queue <= 0 {
		queue = sendQueueSize
	}
	l := &WSLink{
		conn:   conn,
		outbox: make(chan []byte, queue),
		gate:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.writeLoop()
	go l.readLoop()
	return l
}

// writeLoop is the single-writer goroutine. On shutdown it drains what was
// already queued so a final Exit frame still reaches the peer.
func (l *WSLink) writeLoop() {
	defer l.conn.Close()
	for {
		select {
		case data := <-l.outbox:
			if err := l.write(data); err != nil {
				util.LogDebug("websocket write failed: %v", err)
				l.Close()
				return
			}
		case <-l.done:
			for {
				select {
				case data := <-l.outbox:
					if l.write(data) != nil {
						return
					}
				default:
					_ = l.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second))
					return
				}
			}
		}
	}
}

func (l *WSLink) write(data []byte) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (l *WSLink) readLoop() {
	select {
	case <-l.gate:
	case <-l.done:
		return
	}
	for {
		typ, data, err := l.conn.ReadMessage()
		if err != nil {
			l.Close()
			return
		}
		if typ == websocket.BinaryMessage {
			l.handler(data)
		}
	}
}

func (l *WSLink) Send(data []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.outbox <- data:
		return nil
	default:
		return ErrBusy
	}
}

func (l *WSLink) Ready() bool {
	select {
	case <-l.done:
		return false
	default:
	}
	return len(l.outbox) < cap(l.outbox)
}

func (l *WSLink) OnFrame(fn func(data []byte)) {
	l.gateOnce.Do(func() {
		l.handler = fn
		close(l.gate)
	})
}

func (l *WSLink) Done() <-chan struct{} { return l.done }

// Close stops the link. Queued frames are flushed before the socket closes.
func (l *WSLink) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

// ---------------------------------------------------------------------------
// Dialing
// ---------------------------------------------------------------------------

// DialWS connects to a master's replication endpoint.
func DialWS(ctx context.Context, wsURL string, queue int) (*WSLink, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return NewWSLink(conn, queue), nil
}

// NormalizeURL validates a raw master address and returns the websocket
// URL of the given endpoint path with the PIN as a query parameter.
func NormalizeURL(raw, path, pin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	out := url.URL{Scheme: scheme, Host: u.Host, Path: path}
	if pin != "" {
		out.RawQuery = url.Values{"pin": {pin}}.Encode()
	}
	return out.String(), nil
}
