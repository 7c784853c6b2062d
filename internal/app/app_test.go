package app

import (
	"context"
	"io"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/scene"
	"github.com/1ureka/graphsync/internal/snapshot"
	"github.com/1ureka/graphsync/internal/transport"
	"github.com/1ureka/graphsync/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Transport.InboxSize = 64
	return cfg
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// pair links a seeded master to a new client over an in-memory pipe.
func pair(t *testing.T, opts ...MasterOption) (*Master, *Client) {
	t.Helper()
	cfg := testConfig()
	m, err := NewMaster(cfg, append([]MasterOption{WithSeed(3)}, opts...)...)
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	c := NewClient(cfg)
	a, b := transport.Pipe()
	if _, err := m.Hub().Add(a); err != nil {
		t.Fatalf("master Add: %v", err)
	}
	if err := c.Attach(b); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() {
		m.Hub().Close()
		c.Hub().Close()
	})
	return m, c
}

func mustStep(t *testing.T, name string, fn func(context.Context, uint64) error, frame uint64) {
	t.Helper()
	if err := fn(testContext(t), frame); err != nil {
		t.Fatalf("%s step %d: %v", name, frame, err)
	}
}

func TestClientMirrorsMaster(t *testing.T) {
	m, c := pair(t)

	mustStep(t, "client", c.Step, 1)
	mustStep(t, "master", m.Step, 1)
	mustStep(t, "client", c.Step, 2)

	if !c.Scene().Attached() {
		t.Fatal("client has no scene after the dump")
	}
	if c.Sync().ConnectID() != 1 {
		t.Errorf("client id = %d, want 1", c.Sync().ConnectID())
	}
	want, got := scene.Describe(m.Scene().World()), scene.Describe(c.Scene().World())
	if !slices.Equal(got, want) {
		t.Fatalf("client scene differs\n got: %q\nwant: %q", got, want)
	}

	mustStep(t, "master", m.Step, 2)
	mustStep(t, "client", c.Step, 3)
	for _, child := range c.Scene().Models().Children() {
		if n := child.(*scene.Node); n.Value() != 2 {
			t.Errorf("%s value = %d, want 2", n.Name(), n.Value())
		}
	}
}

func TestClientCloseRetractsPeer(t *testing.T) {
	m, c := pair(t)
	mustStep(t, "client", c.Step, 1)
	mustStep(t, "master", m.Step, 1)
	mustStep(t, "client", c.Step, 2)

	if err := c.Sync().Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	mustStep(t, "master", m.Step, 2)

	if conns := m.Hub().Connections(); len(conns) != 0 {
		t.Errorf("master still holds %v", conns)
	}
	if got := m.Sync().Masks(); got.SendAll != 0 || got.AllClients != 0 {
		t.Errorf("master masks = %+v", got)
	}
}

func TestMasterCloseStopsClient(t *testing.T) {
	m, c := pair(t)
	mustStep(t, "client", c.Step, 1)
	mustStep(t, "master", m.Step, 1)
	mustStep(t, "client", c.Step, 2)

	if err := m.Sync().Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	mustStep(t, "client", c.Step, 3)

	select {
	case <-c.Stopped():
	default:
		t.Fatal("client did not stop when the master left")
	}
}

func TestSnapshotRestore(t *testing.T) {
	store := snapshot.NewFileStore(t.TempDir())
	m, err := NewMaster(testConfig(), WithSeed(4), WithSnapshots(store, 0))
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	t.Cleanup(func() { m.Hub().Close() })
	mustStep(t, "master", m.Step, 7)

	ctx := testContext(t)
	name, err := m.SaveSnapshot(ctx)
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	data, err := store.Get(ctx, name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	r, err := NewMaster(testConfig(), WithSeed(9), WithRestore(data))
	if err != nil {
		t.Fatalf("NewMaster(restore): %v", err)
	}
	t.Cleanup(func() { r.Hub().Close() })

	want, got := scene.Describe(m.Scene().World()), scene.Describe(r.Scene().World())
	if !slices.Equal(got, want) {
		t.Fatalf("restored scene differs\n got: %q\nwant: %q", got, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := 0
	err := run(ctx, 1000, func(context.Context, uint64) error {
		frames++
		if frames == 3 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if frames != 3 {
		t.Errorf("ran %d frames, want 3", frames)
	}
}
