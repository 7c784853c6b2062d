package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/scene"
	"github.com/1ureka/graphsync/internal/signaling"
	"github.com/1ureka/graphsync/internal/synchronizer"
	"github.com/1ureka/graphsync/internal/transport"
	"github.com/1ureka/graphsync/internal/util"
	"github.com/1ureka/graphsync/internal/webrtc"
)

// Client mirrors a master's scene.
type Client struct {
	cfg  config.Config
	hub  *transport.Hub
	sync *synchronizer.Synchronizer
	sc   *scene.Scene
	log  util.Logger

	attached bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewClient builds the hub, the synchronizer and an empty scene that
// fills in when the master sends it.
func NewClient(cfg config.Config) *Client {
	c := &Client{cfg: cfg, log: util.For("client"), stopped: make(chan struct{})}
	p := cfg.Protocol
	c.hub = transport.NewHub(protocol.OrderFor(p.ByteOrder), p.MaxHosts, cfg.Transport.InboxSize)
	c.sync = newSync(cfg, c.hub, c.stop)
	c.sc = scene.Bind(c.sync.Messenger)
	return c
}

func (c *Client) Hub() *transport.Hub { return c.hub }
func (c *Client) Sync() *synchronizer.Synchronizer { return c.sync }
func (c *Client) Scene() *scene.Scene { return c.sc }

// Stopped is closed when the master left or dropped this client.
func (c *Client) Stopped() <-chan struct{} { return c.stopped }

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Attach adds the link to the master and asks it for the scene. The
// request goes out with the next Step.
func (c *Client) Attach(link transport.Link) error {
	if _, err := c.hub.Add(link); err != nil {
		return fmt.Errorf("add master link: %w", err)
	}
	if err := c.sync.Open("client"); err != nil {
		return err
	}
	return c.sync.RequestScene()
}

// Dial connects to the configured master, over a DataChannel when the
// configuration asks for one and over the websocket otherwise.
func (c *Client) Dial(ctx context.Context) (transport.Link, error) {
	t := c.cfg.Transport
	if t.DataChannel {
		url, err := transport.NormalizeURL(t.URL, "/signal", t.PIN)
		if err != nil {
			return nil, err
		}
		return signaling.Dial(ctx, url, webrtc.Options{
			ICEServers: t.ICEServers,
			Label:      "graphsync",
			Queue:      t.InboxSize,
		}, streamHello(c.cfg.Protocol))
	}
	url, err := transport.NormalizeURL(t.URL, "/ws", t.PIN)
	if err != nil {
		return nil, err
	}
	return transport.DialWS(ctx, url, t.InboxSize)
}

// Step runs one frame: apply what the master sent, send what was logged.
func (c *Client) Step(ctx context.Context, frame uint64) error {
	return step(ctx, c.sync, frame, func(context.Context) error {
		if !c.attached && c.sc.Attached() {
			c.attached = true
			c.log.Success("scene received as client %d (%d objects)", c.sync.ConnectID(), c.sync.Table().Len())
			for _, line := range scene.Describe(c.sc.World()) {
				util.LogDebug("%s", line)
			}
		}
		return nil
	})
}

// Run dials the master and runs the frame loop until ctx is done or the
// master goes away.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer c.hub.Close()

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to master...")
	link, err := c.Dial(ctx)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	if err := c.Attach(link); err != nil {
		spinner.Fail(err.Error())
		link.Close()
		return err
	}
	spinner.Success("Connected to ", c.cfg.Transport.URL)
	util.StartStatsReporter(ctx, c.cfg.Log.StatsInterval.Duration)

	err = run(ctx, c.cfg.Transport.FrameRate, c.Step)
	if cerr := c.sync.Close(); cerr != nil {
		c.log.Warning("close: %v", cerr)
	}
	pterm.Info.Println("Disconnected")
	return err
}
