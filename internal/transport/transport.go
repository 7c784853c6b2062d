// Package transport moves whole replication frames between peers. A Hub
// arbitrates any number of Links (in-memory pipes, websockets, WebRTC
// DataChannels) as one addressable set, and streams adapt byte sources
// for a single-input messenger.
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrClosed  = errors.New("transport: link closed")
	ErrBusy    = errors.New("transport: link send queue full")
	ErrHubFull = errors.New("transport: no free connection id")
)

// Stream is the input side of a messenger.
type Stream interface {
	io.Reader
	// IsEmpty reports whether no more input is available right now.
	IsEmpty() bool
}

// Arbitrator is a multi-connection transport. Reads return the bytes of
// one inbound frame at a time; Current names the connection it came from.
type Arbitrator interface {
	Stream

	// Current returns the connection id of the frame being read.
	Current() int
	// Connections lists the live connection ids in ascending order.
	Connections() []int
	// Select returns the subset of conns that can accept a send now.
	Select(conns []int) []int
	// SendTo hands one frame to a connection.
	SendTo(conn int, data []byte) bool
	// RemoveConnection drops a connection without reporting it as lost.
	RemoveConnection(conn int)
	// Wait blocks until input is available, ctx ends, timeout passes, or
	// no connection remains that could produce input.
	Wait(ctx context.Context, timeout time.Duration) bool
}

// Link is one peer connection carrying whole frames.
type Link interface {
	// Send queues one frame without blocking. It fails with ErrBusy when
	// the link is backed up and ErrClosed once it is done.
	Send(data []byte) error
	// Ready reports whether Send would currently succeed.
	Ready() bool
	// OnFrame registers the handler for inbound frames. Frames that
	// arrive before a handler is set are held until it is.
	OnFrame(fn func(data []byte))
	// Done is closed when the link is gone.
	Done() <-chan struct{}
	Close() error
}
