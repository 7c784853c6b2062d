package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/messenger"
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/scene"
	"github.com/1ureka/graphsync/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

type commits struct{ n int }

func (c *commits) Commit(messenger.LogType, int, []byte) error {
	c.n++
	return nil
}

func build(t *testing.T, cfg config.Protocol) (*messenger.Messenger, *scene.Scene, *commits) {
	t.Helper()
	sink := &commits{}
	m := messenger.New(cfg, scene.NewRegistry(), messenger.WithSink(sink))
	sc, err := scene.New(m)
	if err != nil {
		t.Fatalf("scene.New: %v", err)
	}
	a, b := scene.NewNode("a"), scene.NewNode("b")
	sc.Add(sc.Models(), a)
	sc.Add(sc.World(), b)
	sc.SetValue(a, 5)
	sc.SetWeight(b, 2.5)
	sc.SetTarget(b, a)
	return m, sc, sink
}

func TestRoundTrip(t *testing.T) {
	for _, updates := range []bool{true, false} {
		cfg := config.DefaultProtocol()
		cfg.SendUpdates = updates
		m, sc, sink := build(t, cfg)

		data := Encode(m, sc.World())
		if sink.n != 0 {
			t.Fatalf("updates=%v: snapshot committed %d transactions", updates, sink.n)
		}

		r, err := Decode(config.DefaultProtocol(), scene.NewRegistry(), data)
		if err != nil {
			t.Fatalf("updates=%v: Decode: %v", updates, err)
		}
		world := r.Find(scene.WorldName)
		if world == nil {
			t.Fatalf("updates=%v: no world in snapshot", updates)
		}
		want, got := scene.Describe(sc.World()), scene.Describe(world)
		if !slices.Equal(got, want) {
			t.Errorf("updates=%v: decoded graph differs\n got: %q\nwant: %q", updates, got, want)
		}
		if r.Version() != cfg.Version || r.VecSize() != protocol.VecSizeFor(cfg.Version) {
			t.Errorf("updates=%v: header = %d/%d", updates, r.Version(), r.VecSize())
		}
	}
}

func TestEncodeKeepsSavedState(t *testing.T) {
	m, sc, _ := build(t, config.DefaultProtocol())
	sc.World().SetFlags(object.Saved)

	Encode(m, sc.World())

	if sc.World().Flags()&object.Saved == 0 {
		t.Error("saved flag cleared on world")
	}
	if sc.Models().Flags()&object.Saved != 0 {
		t.Error("saved flag left on models")
	}
	a := m.Find("a")
	if a == nil || a.ID() == 0 {
		t.Fatal("referenced node was not attached")
	}
	if a.Flags()&object.Saved != 0 {
		t.Error("saved flag left on a")
	}

	// A second snapshot is complete too.
	first := Encode(m, sc.World())
	second := Encode(m, sc.World())
	if !bytes.Equal(first, second) {
		t.Error("repeated snapshots differ")
	}
}

func TestApplyRestoresInput(t *testing.T) {
	m, sc, _ := build(t, config.DefaultProtocol())
	data := Encode(m, sc.World())

	r := messenger.New(config.DefaultProtocol(), scene.NewRegistry())
	if err := Apply(r, data); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if r.Input() != nil {
		t.Error("input not restored")
	}
	if r.Find("b") == nil {
		t.Error("b missing after apply")
	}
}

func TestDumpTracesStream(t *testing.T) {
	m, sc, _ := build(t, config.DefaultProtocol())
	data := Encode(m, sc.World())

	var out bytes.Buffer
	if _, err := Dump(&out, config.DefaultProtocol(), scene.NewRegistry(), data); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	text := out.String()
	for _, want := range []string{`"cmd":"Version"`, `"cmd":"VecSize"`, `"class":"group"`, `"class":"node"`, `"cmd":"End"`} {
		if !strings.Contains(text, want) {
			t.Errorf("dump has no %s", want)
		}
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir() + "/snaps")

	if names, err := s.List(ctx); err != nil || len(names) != 0 {
		t.Fatalf("List on missing dir = %v, %v", names, err)
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	later := Name(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	earlier := Name(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	for _, name := range []string{later, earlier} {
		if err := s.Put(ctx, name, []byte(name)); err != nil {
			t.Fatalf("Put(%s): %v", name, err)
		}
	}
	if err := s.Put(ctx, later, []byte("replaced")); err != nil {
		t.Fatalf("Put(replace): %v", err)
	}

	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(names, []string{earlier, later}) {
		t.Errorf("List = %q", names)
	}
	got, err := s.Get(ctx, later)
	if err != nil || string(got) != "replaced" {
		t.Errorf("Get = %q, %v", got, err)
	}
}

func TestName(t *testing.T) {
	got := Name(time.Date(2026, 1, 2, 15, 4, 5, 0, time.FixedZone("x", 3600)))
	if got != "scene-20260102-140405" {
		t.Errorf("Name = %q", got)
	}
}

func TestOpenStore(t *testing.T) {
	if _, ok := OpenStore(config.Snapshot{Dir: t.TempDir()}).(*FileStore); !ok {
		t.Error("no bucket should give a file store")
	}
	s, ok := OpenStore(config.Snapshot{Bucket: "b", Prefix: "p/", Region: "us-east-1", Endpoint: "http://127.0.0.1:9000"}).(*S3Store)
	if !ok {
		t.Fatal("bucket should give an S3 store")
	}
	if got := s.key("x"); got != "p/x"+Ext {
		t.Errorf("key = %q", got)
	}
}
