package transport

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"

	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/util"
)

// Frame is one inbound message tagged with the connection it came from.
type Frame struct {
	Conn int
	Data []byte
}

type member struct {
	link    Link
	session string
	removed bool
}

// Hub is the Arbitrator over a set of Links. Connection ids are small
// integers starting at 1 and are reused lowest first after a disconnect.
// Inbound frames from every link share one inbox and are read in arrival
// order; reads are owned by a single goroutine.
type Hub struct {
	order    protocol.ByteOrder
	maxLinks int
	inbox    chan Frame
	done     chan struct{}
	log      util.Logger

	mu     sync.Mutex
	links  map[int]*member
	closed bool

	cur Frame
	pos int
}

// NewHub creates a hub for up to maxLinks-1 connections (ids 1..maxLinks-1)
// with an inbox of inboxSize frames. order is used for the Exit frames the
// hub injects when a link drops.
func NewHub(order protocol.ByteOrder, maxLinks, inboxSize int) *Hub {
	if maxLinks <= 1 || maxLinks > protocol.MaxHosts {
		maxLinks = protocol.MaxHosts
	}
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	return &Hub{
		order:    order,
		maxLinks: maxLinks,
		inbox:    make(chan Frame, inboxSize),
		done:     make(chan struct{}),
		log:      util.For("hub"),
		links:    make(map[int]*member),
	}
}

// ---------------------------------------------------------------------------
// Membership
// ---------------------------------------------------------------------------

// Add registers a link and returns its connection id.
func (h *Hub) Add(l Link) (int, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrClosed
	}
	id := 0
	for i := 1; i < h.maxLinks; i++ {
		if _, used := h.links[i]; !used {
			id = i
			break
		}
	}
	if id == 0 {
		h.mu.Unlock()
		return 0, ErrHubFull
	}
	m := &member{link: l, session: uuid.NewString()}
	h.links[id] = m
	h.mu.Unlock()

	l.OnFrame(func(data []byte) { h.deliver(id, data) })
	go h.watch(id, m)

	util.Stats.AddPeer()
	h.log.With(id).Info("connected (session %s)", m.session)
	return id, nil
}

// Session returns the session id of a connection, or "".
func (h *Hub) Session(conn int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.links[conn]; ok {
		return m.session
	}
	return ""
}

// watch waits for a link to go away. A link that was not removed on
// purpose is reported in-band as Exit(conn) so the reader retracts it
// through the normal command path.
func (h *Hub) watch(id int, m *member) {
	select {
	case <-m.link.Done():
	case <-h.done:
		return
	}

	h.mu.Lock()
	lost := !m.removed
	h.mu.Unlock()

	// Queue the Exit before the link leaves the set.
	if lost {
		h.log.With(id).Warning("link lost (session %s)", m.session)
		enc := protocol.NewEncoder(h.order)
		enc.WriteCommand(protocol.Exit, int32(id))
		enc.WriteCommand(protocol.End)
		h.deliver(id, enc.Bytes())
	}

	h.mu.Lock()
	if cur, ok := h.links[id]; ok && cur == m {
		delete(h.links, id)
	}
	h.mu.Unlock()
	util.Stats.RemovePeer()
}

// RemoveConnection closes a connection without reporting it as lost.
func (h *Hub) RemoveConnection(conn int) {
	h.mu.Lock()
	m, ok := h.links[conn]
	if ok {
		m.removed = true
		delete(h.links, conn)
	}
	h.mu.Unlock()
	if ok {
		m.link.Close()
		h.log.With(conn).Info("removed")
	}
}

// Connections lists the live connection ids in ascending order.
func (h *Hub) Connections() []int {
	h.mu.Lock()
	ids := maps.Keys(h.links)
	h.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Close drops every link and stops delivery.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	links := h.links
	for _, m := range links {
		m.removed = true
	}
	h.links = make(map[int]*member)
	close(h.done)
	h.mu.Unlock()

	for _, m := range links {
		m.link.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (h *Hub) lookup(conn int) Link {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.links[conn]; ok {
		return m.link
	}
	return nil
}

// Select returns the connections in conns that can accept a frame now.
func (h *Hub) Select(conns []int) []int {
	var ready []int
	for _, c := range conns {
		if l := h.lookup(c); l != nil && l.Ready() {
			ready = append(ready, c)
		}
	}
	return ready
}

// SendTo hands one frame to a connection.
func (h *Hub) SendTo(conn int, data []byte) bool {
	l := h.lookup(conn)
	if l == nil {
		return false
	}
	if err := l.Send(data); err != nil {
		h.log.With(conn).Debug("send deferred: %v", err)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (h *Hub) deliver(conn int, data []byte) {
	select {
	case h.inbox <- Frame{Conn: conn, Data: data}:
	case <-h.done:
	}
}

func (h *Hub) take(f Frame) {
	h.cur = f
	h.pos = 0
	util.Stats.AddRecv(len(f.Data))
}

// IsEmpty reports whether no unread inbound bytes are available. It
// advances to the next queued frame once the current one is consumed.
func (h *Hub) IsEmpty() bool {
	for h.pos >= len(h.cur.Data) {
		select {
		case f := <-h.inbox:
			h.take(f)
		default:
			return true
		}
	}
	return false
}

// Read returns bytes of the current frame only; a read past its end
// reports io.EOF so a truncated frame never bleeds into the next one.
func (h *Hub) Read(p []byte) (int, error) {
	if h.pos >= len(h.cur.Data) {
		return 0, io.EOF
	}
	n := copy(p, h.cur.Data[h.pos:])
	h.pos += n
	return n, nil
}

// Discard drops the unread rest of the current frame.
func (h *Hub) Discard() { h.pos = len(h.cur.Data) }

// Current returns the connection id of the frame being read.
func (h *Hub) Current() int { return h.cur.Conn }

// Wait blocks until a frame is available. It returns false at once when
// nothing is queued and no link remains to produce input.
func (h *Hub) Wait(ctx context.Context, timeout time.Duration) bool {
	if h.pos < len(h.cur.Data) {
		return true
	}
	h.mu.Lock()
	idle := len(h.links) == 0 && len(h.inbox) == 0
	h.mu.Unlock()
	if idle {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case f := <-h.inbox:
			h.take(f)
			if len(f.Data) > 0 {
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		case <-h.done:
			return false
		}
	}
}
