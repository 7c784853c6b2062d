package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	pion "github.com/pion/webrtc/v4"

	"github.com/1ureka/graphsync/internal/webrtc"
)

var (
	ErrRejected   = errors.New("signaling: rejected by master")
	ErrUnexpected = errors.New("signaling: unexpected message")
)

// negotiator drives one side of the exchange. Writes are serialized; the
// read loop runs on its own goroutine.
type negotiator struct {
	link   *webrtc.Link
	conn   *websocket.Conn
	hello  Hello
	master bool

	mu sync.Mutex
}

func (n *negotiator) send(msg message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn.WriteJSON(msg)
}

func (n *negotiator) sendHello() error {
	return n.send(message{Type: msgHello, Hello: &n.hello})
}

func (n *negotiator) offer() error {
	offer, err := n.link.CreateOffer()
	if err != nil {
		return err
	}
	if err := n.link.SetLocalDescription(offer); err != nil {
		return err
	}
	return n.send(message{Type: msgOffer, SDP: offer.SDP})
}

func (n *negotiator) answer() error {
	answer, err := n.link.CreateAnswer()
	if err != nil {
		return err
	}
	if err := n.link.SetLocalDescription(answer); err != nil {
		return err
	}
	return n.send(message{Type: msgAnswer, SDP: answer.SDP})
}

// candidate forwards a local ICE candidate. Failures are ignored: the
// exchange times out on its own when nothing gets through.
func (n *negotiator) candidate(c *pion.ICECandidate) {
	if c == nil {
		return
	}
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		return
	}
	n.send(message{Type: msgCandidate, Candidate: string(data)})
}

// accept checks a client's hello against the master's stream and offers a
// channel, or tells the client why it cannot have one.
func (n *negotiator) accept(h *Hello) error {
	if h == nil {
		return fmt.Errorf("%w: hello without stream", ErrUnexpected)
	}
	if *h != n.hello {
		reason := fmt.Sprintf("stream version %d/%s, master runs %d/%s",
			h.Version, h.ByteOrder, n.hello.Version, n.hello.ByteOrder)
		n.send(message{Type: msgReject, Reason: reason})
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	return n.offer()
}

// watch applies inbound messages until the websocket closes or the
// exchange fails.
func (n *negotiator) watch() error {
	for {
		var msg message
		if err := n.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read signaling message: %w", err)
		}

		switch msg.Type {
		case msgHello:
			if !n.master {
				return fmt.Errorf("%w: hello from master", ErrUnexpected)
			}
			if err := n.accept(msg.Hello); err != nil {
				return err
			}

		case msgReject:
			return fmt.Errorf("%w: %s", ErrRejected, msg.Reason)

		case msgOffer:
			if n.master {
				return fmt.Errorf("%w: offer from client", ErrUnexpected)
			}
			if err := n.link.SetRemoteDescription(pion.SessionDescription{
				Type: pion.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := n.answer(); err != nil {
				return err
			}

		case msgAnswer:
			if err := n.link.SetRemoteDescription(pion.SessionDescription{
				Type: pion.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}

		case msgCandidate:
			var init pion.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if err := n.link.AddICECandidate(init); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: %q", ErrUnexpected, msg.Type)
		}
	}
}
