package webrtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/graphsync/internal/transport"
	"github.com/1ureka/graphsync/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64         // outgoing frame channel capacity
)

// Options configures a Link.
type Options struct {
	ICEServers []string
	Label      string
	Queue      int
}

// Link wraps a single PeerConnection + DataChannel pair. It exposes the
// signaling steps needed to establish the channel and implements
// transport.Link once the channel is open.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time.
type Link struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	outbox      chan []byte
	drainSignal chan struct{}
	openSignal  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	log    util.Logger

	mu      sync.Mutex
	handler func([]byte)
	pending [][]byte
	pcState webrtc.PeerConnectionState
}

var _ transport.Link = (*Link)(nil)

// NewLink creates a Link backed by a new PeerConnection and a pre-negotiated
// DataChannel. The caller performs signaling through the exposed methods.
func NewLink(ctx context.Context, opts Options) (*Link, error) {
	pc, err := newPeerConnection(opts.ICEServers)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc, opts.Label)
	if err != nil {
		pc.Close()
		return nil, err
	}

	queue := opts.Queue
	if queue <= 0 {
		queue = sendBufferSize
	}
	lCtx, lCancel := context.WithCancel(ctx)

	l := &Link{
		pc:          pc,
		dc:          dc,
		outbox:      make(chan []byte, queue),
		drainSignal: make(chan struct{}, 1),
		openSignal:  make(chan struct{}),
		ctx:         lCtx,
		cancel:      lCancel,
		log:         util.For("webrtc"),
		pcState:     webrtc.PeerConnectionStateNew,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(l.openSignal) })
	})
	dc.OnClose(func() {
		l.log.Info("DataChannel closed")
		lCancel()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.receive(msg.Data)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l.log.Debug("PeerConnection state: %s", state.String())
		l.mu.Lock()
		l.pcState = state
		l.mu.Unlock()
		if state == webrtc.PeerConnectionStateFailed {
			lCancel()
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case l.drainSignal <- struct{}{}:
		default:
		}
	})

	go l.loop()

	return l, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Opened is closed once the DataChannel is open.
func (l *Link) Opened() <-chan struct{} { return l.openSignal }

func (l *Link) Done() <-chan struct{} { return l.ctx.Done() }

// Close shuts down the DataChannel and PeerConnection.
func (l *Link) Close() error {
	l.cancel()
	return errors.Join(l.dc.Close(), l.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (l *Link) ConnectionState() webrtc.PeerConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *Link) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

func (l *Link) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback for gathered local candidates. A nil
// candidate signals the end of gathering.
func (l *Link) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

func (l *Link) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the outbox with backpressure awareness.
func (l *Link) loop() {
	select {
	case <-l.openSignal:
	case <-l.ctx.Done():
		return
	}

	for {
		select {
		case data := <-l.outbox:
			if l.dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-l.drainSignal:
				case <-l.ctx.Done():
					return
				}
			}
			if err := l.dc.Send(data); err != nil {
				l.log.Error("failed to send frame (%d bytes): %v", len(data), err)
				l.cancel()
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

// Send enqueues a frame without blocking.
func (l *Link) Send(data []byte) error {
	select {
	case <-l.ctx.Done():
		return transport.ErrClosed
	default:
	}
	select {
	case l.outbox <- data:
		return nil
	default:
		return transport.ErrBusy
	}
}

// Ready reports whether the channel is open and the outbox has room.
func (l *Link) Ready() bool {
	select {
	case <-l.ctx.Done():
		return false
	case <-l.openSignal:
	default:
		return false
	}
	return len(l.outbox) < cap(l.outbox)
}

func (l *Link) receive(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handler == nil {
		l.pending = append(l.pending, data)
		return
	}
	l.handler(data)
}

func (l *Link) OnFrame(fn func(data []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = fn
	for _, data := range l.pending {
		fn(data)
	}
	l.pending = nil
}
