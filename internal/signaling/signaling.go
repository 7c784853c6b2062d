package signaling

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/gorilla/websocket"

	"github.com/1ureka/graphsync/internal/util"
	"github.com/1ureka/graphsync/internal/webrtc"
)

// Accept runs the master side of the exchange on an upgraded /signal
// socket: wait for the client's hello, send the offer, apply the answer and
// candidates, and return once the DataChannel is open. A client whose hello
// does not match stream is rejected. The socket is closed on return.
func Accept(ctx context.Context, wsConn *websocket.Conn, opts webrtc.Options, stream Hello) (*webrtc.Link, error) {
	defer wsConn.Close()
	return exchange(ctx, wsConn, opts, stream, true)
}

// Dial runs the client side of the exchange against a master's /signal
// endpoint and returns the open link.
func Dial(ctx context.Context, wsURL string, opts webrtc.Options, stream Hello) (*webrtc.Link, error) {
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("signaling connected: %s", wsURL)
	return exchange(ctx, wsConn, opts, stream, false)
}

func exchange(ctx context.Context, wsConn *websocket.Conn, opts webrtc.Options, stream Hello, master bool) (*webrtc.Link, error) {
	link, err := webrtc.NewLink(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create WebRTC link: %w", err)
	}

	n := &negotiator{link: link, conn: wsConn, hello: stream, master: master}
	link.OnICECandidate(n.candidate)

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.watch()
	}()

	if !master {
		if err := n.sendHello(); err != nil {
			link.Close()
			return nil, fmt.Errorf("failed to send hello: %w", err)
		}
	}

	select {
	case <-link.Opened():
		util.LogDebug("WebRTC DataChannel established, closing signaling socket")
		return link, nil

	case err := <-errCh:
		select {
		case <-link.Opened():
			return link, nil
		default:
		}
		link.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		link.Close()
		return nil, ctx.Err()
	}
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
