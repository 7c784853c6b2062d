package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/scene"
	"github.com/1ureka/graphsync/internal/signaling"
	"github.com/1ureka/graphsync/internal/snapshot"
	"github.com/1ureka/graphsync/internal/synchronizer"
	"github.com/1ureka/graphsync/internal/transport"
	"github.com/1ureka/graphsync/internal/util"
	"github.com/1ureka/graphsync/internal/webrtc"
)

// MasterOption configures a Master.
type MasterOption func(*Master)

// WithPIN requires clients to present pin. An empty pin disables the check.
func WithPIN(pin string) MasterOption {
	return func(m *Master) { m.pin = pin }
}

// WithRestore starts the master from a snapshot instead of a new scene.
func WithRestore(data []byte) MasterOption {
	return func(m *Master) { m.restore = data }
}

// WithSnapshots saves the scene to store every interval and on shutdown.
// A zero interval saves on shutdown only.
func WithSnapshots(store snapshot.Store, every time.Duration) MasterOption {
	return func(m *Master) { m.store, m.every = store, every }
}

// WithSeed fills a new scene with n animated nodes.
func WithSeed(n int) MasterOption {
	return func(m *Master) { m.seed = n }
}

// Master owns the authoritative scene and serves it to clients.
type Master struct {
	cfg  config.Config
	hub  *transport.Hub
	sync *synchronizer.Synchronizer
	sc   *scene.Scene
	log  util.Logger

	pin     string
	restore []byte
	seed    int
	store   snapshot.Store
	every   time.Duration
	saved   time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewMaster builds the hub, the synchronizer and the scene. Nothing
// listens until Serve.
func NewMaster(cfg config.Config, opts ...MasterOption) (*Master, error) {
	m := &Master{cfg: cfg, log: util.For("master"), stopped: make(chan struct{})}
	for _, opt := range opts {
		opt(m)
	}

	p := cfg.Protocol
	m.hub = transport.NewHub(protocol.OrderFor(p.ByteOrder), p.MaxHosts, cfg.Transport.InboxSize)
	m.sync = newSync(cfg, m.hub, m.stop)
	if err := m.sync.Open("master"); err != nil {
		return nil, err
	}

	if m.restore != nil {
		if err := snapshot.Apply(m.sync.Messenger, m.restore); err != nil {
			return nil, err
		}
	}
	sc, err := scene.Open(m.sync.Messenger)
	if err != nil {
		return nil, fmt.Errorf("open scene: %w", err)
	}
	m.sc = sc
	m.sync.SetScene(sc)

	if m.restore == nil {
		for i, n := 0, m.seed; i < n; i++ {
			if err := sc.Add(sc.Models(), scene.NewNode(fmt.Sprintf("node-%d", i))); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Publish(); err != nil {
		return nil, err
	}
	m.saved = time.Now()
	return m, nil
}

func (m *Master) Hub() *transport.Hub { return m.hub }
func (m *Master) Sync() *synchronizer.Synchronizer { return m.sync }
func (m *Master) Scene() *scene.Scene { return m.sc }

// Stopped is closed when the stream asked for a shutdown.
func (m *Master) Stopped() <-chan struct{} { return m.stopped }

func (m *Master) stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

// Step runs one frame: apply client input, animate the models, send.
func (m *Master) Step(ctx context.Context, frame uint64) error {
	return step(ctx, m.sync, frame, func(ctx context.Context) error {
		if err := m.animate(frame); err != nil {
			return err
		}
		if m.store != nil && m.every > 0 && time.Since(m.saved) >= m.every {
			if _, err := m.SaveSnapshot(ctx); err != nil {
				m.log.Error("%v", err)
			}
		}
		return nil
	})
}

// animate moves every model node so the dynamic group changes each frame.
func (m *Master) animate(frame uint64) error {
	for _, c := range m.sc.Models().Children() {
		n, ok := c.(*scene.Node)
		if !ok {
			continue
		}
		if err := m.sc.SetValue(n, int32(frame)); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores the scene under a name derived from the current
// time and returns the name.
func (m *Master) SaveSnapshot(ctx context.Context) (string, error) {
	if m.store == nil {
		return "", nil
	}
	ctx, span := util.Tracer().Start(ctx, "snapshot")
	defer span.End()

	name := snapshot.Name(time.Now())
	data := snapshot.Encode(m.sync.Messenger, m.sc.World())
	if err := m.store.Put(ctx, name, data); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("save snapshot %s: %w", name, err)
	}
	m.saved = time.Now()
	m.log.Success("saved snapshot %s (%d bytes)", name, len(data))
	return name, nil
}

// Serve listens for clients and runs the frame loop until ctx is done or
// the stream asks for a shutdown. On the way out clients are told to exit
// and a last snapshot is saved.
func (m *Master) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer m.hub.Close()

	t := m.cfg.Transport
	server := transport.NewServer(m.hub, m.pin, t.InboxSize)
	server.HandleSignal(func(conn *websocket.Conn) {
		m.acceptDataChannel(ctx, conn)
	})
	addr, err := server.Start(t.Listen)
	if err != nil {
		return err
	}
	defer server.Close()

	m.banner(addr)
	util.StartStatsReporter(ctx, m.cfg.Log.StatsInterval.Duration)

	err = run(ctx, t.FrameRate, m.Step)

	if cerr := m.sync.Close(); cerr != nil {
		m.log.Warning("close: %v", cerr)
	}
	if _, serr := m.SaveSnapshot(context.Background()); serr != nil {
		m.log.Error("%v", serr)
	}
	return err
}

// acceptDataChannel upgrades a /signal socket to a DataChannel link.
func (m *Master) acceptDataChannel(ctx context.Context, conn *websocket.Conn) {
	t := m.cfg.Transport
	link, err := signaling.Accept(ctx, conn, webrtc.Options{
		ICEServers: t.ICEServers,
		Label:      "graphsync",
		Queue:      t.InboxSize,
	}, streamHello(m.cfg.Protocol))
	if err != nil {
		m.log.Warning("DataChannel setup failed: %v", err)
		return
	}
	if _, err := m.hub.Add(link); err != nil {
		m.log.Warning("DataChannel rejected: %v", err)
		link.Close()
	}
}

func (m *Master) banner(addr string) {
	pin := m.pin
	if pin == "" {
		pin = "(none)"
	}
	pterm.DefaultBox.WithTitle("graphsync master").Println(
		fmt.Sprintf("Listen : %s\nPIN    : %s\nNodes  : %d", addr, pin, m.sc.Models().Len()))
	pterm.Info.Println("Waiting for clients...")
}
