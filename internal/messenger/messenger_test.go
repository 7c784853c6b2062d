package messenger

import (
	"bytes"
	"errors"
	"io"
	"os"
	"slices"
	"testing"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/transport"
	"github.com/1ureka/graphsync/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

const (
	opSetValue = object.OpNext
	opSetRef   = object.OpNext + 1
)

// node is a replicable test object with one value and one reference.
type node struct {
	object.Base
	class uint16
	Value int32
	Ref   object.Object
}

func (n *node) ClassID() uint16 { return n.class }

func (n *node) Encode(enc object.Encoder, mode object.SaveMode) int32 {
	h := object.EncodeBase(n, enc, mode, 0)
	if h < 0 {
		return h
	}
	if n.Ref != nil {
		n.Ref.Encode(enc, mode)
	}
	if h == 0 {
		return h
	}
	if n.Value != 0 {
		enc.WriteOp(n.class, opSetValue)
		enc.WriteInt32(h)
		enc.WriteInt32(n.Value)
	}
	if n.Ref != nil {
		enc.WriteOp(n.class, opSetRef)
		enc.WriteInt32(h)
		enc.WriteRef(n.Ref)
	}
	return h
}

func (n *node) Apply(dec object.Decoder, op uint16) bool {
	switch op {
	case opSetValue:
		n.Value = dec.ReadInt32()
		return dec.Err() == nil
	case opSetRef:
		n.Ref = dec.ReadRef()
		return dec.Err() == nil
	}
	return object.ApplyBase(n, dec, op)
}

// recorder is an observer that logs the order it was called in.
type recorder struct {
	name string
	log  *[]string
}

func (r *recorder) OnEvent(ev object.Event) bool {
	*r.log = append(*r.log, r.name)
	return true
}

// capture is a sink that keeps every committed transaction.
type capture struct {
	commits []commitRecord
}

type commitRecord struct {
	log    LogType
	target int
	data   []byte
}

func (c *capture) Commit(log LogType, target int, p []byte) error {
	c.commits = append(c.commits, commitRecord{log, target, slices.Clone(p)})
	return nil
}

func newRegistry() *object.Registry {
	reg := object.NewRegistry()
	reg.RegisterClass(7, "seven", 0, func() object.Object { return &node{class: 7} })
	reg.RegisterClass(9, "nine", 0, func() object.Object { return &node{class: 9} })
	reg.RegisterClass(11, "shared", object.Shared, func() object.Object { return &node{class: 11} })
	reg.RegisterTypedEvent(5, "ping", "I")
	return reg
}

func testConfig() config.Protocol {
	cfg := config.DefaultProtocol()
	cfg.SendUpdates = true
	return cfg
}

func encoder() *protocol.Encoder { return protocol.NewEncoder(protocol.OrderFor("big")) }

// countCreates counts Create opcodes in a stream of object operations.
func countCreates(t *testing.T, data []byte) int {
	t.Helper()
	dec := protocol.NewDecoder(bytes.NewReader(data), protocol.OrderFor("big"))
	n := 0
	for {
		w := dec.ReadUint32()
		if dec.Err() != nil {
			return n
		}
		// Handles and small values decode as class 0.
		if class, op := protocol.SplitOpcode(w); class != 0 && op == object.OpCreate && !protocol.IsCommand(w) {
			n++
		}
	}
}

// TestConcreteScenario encodes A (class 7, "root") then B (class 9)
// referencing A, checks the exact opcode stream, and decodes it into an
// empty table.
func TestConcreteScenario(t *testing.T) {
	var out bytes.Buffer
	m := New(testConfig(), newRegistry(), WithOutput(&out))

	a := &node{class: 7}
	a.SetName("root")
	b := &node{class: 9, Ref: a}

	if err := m.Save(FastLog, a, object.SaveDefault); err != nil {
		t.Fatalf("Save(a): %v", err)
	}
	if err := m.Save(FastLog, b, object.SaveDefault); err != nil {
		t.Fatalf("Save(b): %v", err)
	}

	want := encoder()
	want.WriteUint32(protocol.Opcode(7, object.OpCreate))
	want.WriteInt32(1)
	want.WriteUint32(protocol.Opcode(7, object.OpSetName))
	want.WriteInt32(1)
	want.WriteString("root")
	want.WriteUint32(protocol.Opcode(9, object.OpCreate))
	want.WriteInt32(2)
	want.WriteUint32(protocol.Opcode(9, opSetRef))
	want.WriteInt32(2)
	want.WriteInt32(1)

	if !bytes.Equal(out.Bytes(), want.Bytes()) {
		t.Fatalf("stream mismatch\n got: %x\nwant: %x", out.Bytes(), want.Bytes())
	}

	r := New(testConfig(), newRegistry(), WithInput(transport.NewBufferStream(out.Bytes())))
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ra, rb := r.Get(1), r.Get(2)
	if ra == nil || ra.Name() != "root" {
		t.Fatalf("get(1) = %v, want object named root", ra)
	}
	if rb == nil || rb.(*node).Ref != ra {
		t.Fatalf("get(2).Ref = %v, want get(1)", rb)
	}
	if r.Find("root") != ra {
		t.Error("Find(root) did not return get(1)")
	}
}

// TestRoundTripGraph verifies a decoded graph matches the encoded one in
// classes, values and reference topology.
func TestRoundTripGraph(t *testing.T) {
	var out bytes.Buffer
	m := New(testConfig(), newRegistry(), WithOutput(&out))

	leaf := &node{class: 7, Value: 3}
	mid := &node{class: 9, Value: -8, Ref: leaf}
	top := &node{class: 9, Value: 42, Ref: mid}
	top.SetName("top")
	other := &node{class: 7, Ref: leaf}

	tx := m.BeginOp(FastLog)
	top.Encode(tx, object.SaveDefault)
	other.Encode(tx, object.SaveDefault)
	if err := tx.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	r := New(testConfig(), newRegistry(), WithInput(transport.NewBufferStream(out.Bytes())))
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Table().Len(); got != 4 {
		t.Fatalf("decoded %d objects, want 4", got)
	}

	rtop, ok := r.Find("top").(*node)
	if !ok {
		t.Fatal("top not found")
	}
	rmid, _ := rtop.Ref.(*node)
	if rmid == nil || rmid.class != 9 || rmid.Value != -8 {
		t.Fatalf("top.Ref = %+v", rtop.Ref)
	}
	rleaf, _ := rmid.Ref.(*node)
	if rleaf == nil || rleaf.class != 7 || rleaf.Value != 3 {
		t.Fatalf("mid.Ref = %+v", rmid.Ref)
	}
	rother, _ := r.Get(other.ID()).(*node)
	if rother == nil || rother.Ref != rleaf {
		t.Errorf("other.Ref does not share leaf")
	}
	if rtop.Value != 42 {
		t.Errorf("top.Value = %d, want 42", rtop.Value)
	}
}

// TestDistributeIsIdempotent verifies two distributions produce one Create.
func TestDistributeIsIdempotent(t *testing.T) {
	sink := &capture{}
	m := New(testConfig(), newRegistry(), WithSink(sink))
	obj := &node{class: 7, Value: 1}

	for i := 0; i < 2; i++ {
		if err := m.Distribute(obj, object.Global); err != nil {
			t.Fatalf("Distribute #%d: %v", i, err)
		}
	}

	var all []byte
	for _, c := range sink.commits {
		all = append(all, c.data...)
	}
	if n := countCreates(t, all); n != 1 {
		t.Errorf("Create opcodes = %d, want 1", n)
	}
	if obj.Flags()&(object.Global|object.Saved) != object.Global|object.Saved {
		t.Errorf("flags = %b, want GLOBAL|SAVED", obj.Flags())
	}
}

// TestUndistribute verifies un-sharing clears the flags without writing.
func TestUndistribute(t *testing.T) {
	sink := &capture{}
	m := New(testConfig(), newRegistry(), WithSink(sink))
	leaf := &node{class: 7}
	top := &node{class: 9, Ref: leaf}

	m.Distribute(top, object.Global)
	leaf.SetFlags(object.Shared)
	sink.commits = nil

	if err := m.Undistribute(top); err != nil {
		t.Fatalf("Undistribute: %v", err)
	}
	if top.Flags()&(object.Global|object.Shared) != 0 || leaf.Flags()&(object.Global|object.Shared) != 0 {
		t.Errorf("flags still shared: top=%b leaf=%b", top.Flags(), leaf.Flags())
	}
	if len(sink.commits) != 0 {
		t.Errorf("Undistribute wrote %d transactions", len(sink.commits))
	}
}

func TestCanSaveModes(t *testing.T) {
	tests := []struct {
		name        string
		class       uint16
		pre         object.Flags
		mode        object.SaveMode
		sendUpdates bool
		want        int32 // -1, 0, or 1 for "a handle"
		attached    bool
		creates     int
	}{
		{"default saves", 7, 0, object.SaveDefault, true, 1, true, 1},
		{"default skips saved", 7, object.Saved, object.SaveDefault, true, 0, false, 0},
		{"distribute unshared class", 7, 0, object.SaveDistribute, true, -1, false, 0},
		{"distribute shared class", 11, 0, object.SaveDistribute, true, 1, true, 1},
		{"distribute explicit share", 7, object.Global, object.SaveDistribute, true, 1, true, 1},
		{"attach only", 7, 0, object.SaveAttach, true, 0, true, 0},
		{"updates off", 7, 0, object.SaveDefault, false, 0, true, 0},
		{"clear global", 7, object.Global | object.Shared, object.SaveClearGlobal, true, 0, false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SendUpdates = tc.sendUpdates
			m := New(cfg, newRegistry())
			obj := &node{class: tc.class}
			obj.SetFlags(tc.pre)

			tx := m.BeginOp(FastLog)
			got := tx.CanSave(obj, tc.mode)
			data := slices.Clone(tx.enc.Bytes())
			tx.End()

			switch {
			case tc.want == 1 && got <= 0:
				t.Errorf("CanSave = %d, want a handle", got)
			case tc.want != 1 && got != tc.want:
				t.Errorf("CanSave = %d, want %d", got, tc.want)
			}
			if attached := m.Table().HandleOf(obj) > 0; attached != tc.attached {
				t.Errorf("attached = %v, want %v", attached, tc.attached)
			}
			if n := countCreates(t, data); n != tc.creates {
				t.Errorf("Create opcodes = %d, want %d", n, tc.creates)
			}
			if tc.mode == object.SaveClearGlobal && obj.Flags()&(object.Global|object.Shared) != 0 {
				t.Errorf("flags = %b, GLOBAL/SHARED not cleared", obj.Flags())
			}
		})
	}
}

// TestDetachMode verifies a Detach-mode save removes the object and its
// name and writes nothing.
func TestDetachMode(t *testing.T) {
	m := New(testConfig(), newRegistry())
	obj := &node{class: 7}
	obj.SetName("gone")
	m.Save(FastLog, obj, object.SaveDefault)
	h := obj.ID()

	tx := m.BeginOp(FastLog)
	if got := tx.CanSave(obj, object.SaveDetach); got != 0 {
		t.Errorf("CanSave(Detach) = %d, want 0", got)
	}
	if tx.Len() != 0 {
		t.Errorf("Detach wrote %d bytes", tx.Len())
	}
	tx.End()

	if m.Get(h) != nil || obj.ID() != 0 || m.Find("gone") != nil {
		t.Errorf("object still attached: get=%v id=%d", m.Get(h), obj.ID())
	}
	if obj.Flags()&object.Saved != 0 {
		t.Error("SAVED not cleared by detach")
	}
}

// TestObserverDispatchOrder verifies both matching observers run once,
// newest first, and a sender filter excludes other senders.
func TestObserverDispatchOrder(t *testing.T) {
	m := New(testConfig(), newRegistry())
	x := &node{class: 7}
	y := &node{class: 7}

	var calls []string
	anySender := &recorder{name: "any", log: &calls}
	fromX := &recorder{name: "x", log: &calls}

	if !m.Observe(anySender, 5, nil) || !m.Observe(fromX, 5, x) {
		t.Fatal("Observe rejected a new registration")
	}

	ev := object.NewTypedEvent(5, "I")
	ev.From = x
	m.Dispatch(ev)
	if !slices.Equal(calls, []string{"x", "any"}) {
		t.Errorf("calls = %v, want [x any]", calls)
	}

	calls = nil
	ev.From = y
	m.Dispatch(ev)
	if !slices.Equal(calls, []string{"any"}) {
		t.Errorf("calls = %v, want [any]", calls)
	}
}

func TestObserveAndIgnore(t *testing.T) {
	m := New(testConfig(), newRegistry())
	x := &node{class: 7}
	var calls []string
	a := &recorder{name: "a", log: &calls}
	b := &recorder{name: "b", log: &calls}

	if !m.Observe(a, 5, nil) {
		t.Fatal("first Observe failed")
	}
	if m.Observe(a, 5, nil) {
		t.Error("exact duplicate accepted")
	}
	if m.Observe(a, 5, x) {
		t.Error("registration covered by a nil-sender one accepted")
	}
	if !m.Observe(b, 5, x) || !m.Observe(b, 6, nil) {
		t.Fatal("Observe for b failed")
	}

	if !m.Ignore(b, 5, nil) {
		t.Error("Ignore(b, 5) removed nothing")
	}
	if m.Ignore(b, 5, nil) {
		t.Error("second Ignore(b, 5) removed something")
	}
	if !m.Ignore(nil, 0, nil) {
		t.Error("Ignore all removed nothing")
	}

	ev := object.NewTypedEvent(5, "I")
	m.Dispatch(ev)
	if len(calls) != 0 {
		t.Errorf("observers still called: %v", calls)
	}
}

// TestLogEventReplaysLocally verifies a logged event is written to the
// output and dispatched at the next Load.
func TestLogEventReplaysLocally(t *testing.T) {
	var out bytes.Buffer
	m := New(testConfig(), newRegistry(), WithOutput(&out))
	sender := &node{class: 7}

	var calls []string
	m.Observe(&recorder{name: "local", log: &calls}, 5, nil)

	ev := object.NewTypedEvent(5, "I")
	ev.From = sender
	ev.Args = []any{int32(77)}
	if err := m.LogEvent(ev); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if len(calls) != 0 {
		t.Fatal("event dispatched before Load")
	}
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !slices.Equal(calls, []string{"local"}) {
		t.Errorf("calls = %v, want [local]", calls)
	}

	// The same bytes decode on a peer that knows the sender.
	peer := New(testConfig(), newRegistry(), WithInput(transport.NewBufferStream(out.Bytes())))
	peerSender := &node{class: 7}
	peer.Table().Attach(peerSender, sender.ID())
	var got *object.TypedEvent
	peer.Observe(&eventCatcher{got: &got}, 5, nil)
	if err := peer.Load(); err != nil {
		t.Fatalf("peer Load: %v", err)
	}
	if got == nil || got.Int(0) != 77 || got.Sender() != peerSender {
		t.Errorf("peer event = %+v", got)
	}
}

type eventCatcher struct {
	got **object.TypedEvent
}

func (c *eventCatcher) OnEvent(ev object.Event) bool {
	*c.got, _ = ev.(*object.TypedEvent)
	return true
}

// TestLoadSkipsAnomalies verifies an unknown opcode on a live object and an
// opcode for a missing object are warnings, and decoding continues.
func TestLoadSkipsAnomalies(t *testing.T) {
	enc := encoder()
	enc.WriteUint32(protocol.Opcode(7, object.OpCreate))
	enc.WriteInt32(1)
	enc.WriteUint32(protocol.Opcode(7, 99)) // unknown op, no arguments
	enc.WriteInt32(1)
	enc.WriteUint32(protocol.Opcode(7, object.OpDelete)) // nothing at 5
	enc.WriteInt32(5)
	enc.WriteUint32(protocol.Opcode(7, object.OpSetName))
	enc.WriteInt32(1)
	enc.WriteString("alive")
	enc.WriteCommand(protocol.End)

	m := New(testConfig(), newRegistry(), WithInput(transport.NewBufferStream(enc.Bytes())))
	before := util.Stats.Warnings.Load()
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if obj := m.Get(1); obj == nil || obj.Name() != "alive" {
		t.Errorf("get(1) = %v, want object named alive", obj)
	}
	if got := util.Stats.Warnings.Load() - before; got != 2 {
		t.Errorf("warnings = %d, want 2", got)
	}
}

// TestDeleteRequiresMatchingID verifies Delete leaves an object whose id no
// longer equals the wire handle.
func TestDeleteRequiresMatchingID(t *testing.T) {
	m := New(testConfig(), newRegistry())
	obj := &node{class: 7}
	m.Table().Attach(obj, 3)
	obj.SetID(8)

	enc := encoder()
	enc.WriteUint32(protocol.Opcode(7, object.OpDelete))
	enc.WriteInt32(3)
	m.SetInput(transport.NewBufferStream(enc.Bytes()))
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get(3) != obj {
		t.Error("object detached despite id mismatch")
	}

	obj.SetID(3)
	m.SetInput(transport.NewBufferStream(enc.Bytes()))
	m.Load()
	if m.Get(3) != nil {
		t.Error("object not detached with matching id")
	}
}

// TestCreateReusesMatchingClass verifies Create keeps an existing object of
// the same class and refuses one of another class.
func TestCreateReusesMatchingClass(t *testing.T) {
	m := New(testConfig(), newRegistry())
	obj := &node{class: 7}
	m.Table().Attach(obj, 2)

	got, err := m.Create(7, 2)
	if err != nil || got != obj {
		t.Fatalf("Create(7, 2) = %v, %v; want existing object", got, err)
	}
	if _, err := m.Create(9, 2); !errors.Is(err, protocol.ErrClassMismatch) {
		t.Errorf("Create(9, 2) error = %v, want ErrClassMismatch", err)
	}
	if _, err := m.Create(123, 4); !errors.Is(err, protocol.ErrUnknownClass) {
		t.Errorf("Create(123, 4) error = %v, want ErrUnknownClass", err)
	}
}

func TestLoadTruncatedInput(t *testing.T) {
	enc := encoder()
	enc.WriteUint32(protocol.Opcode(7, object.OpCreate))
	enc.WriteInt32(1)
	enc.WriteUint32(protocol.Opcode(7, opSetValue))
	enc.WriteInt32(1)
	data := enc.Bytes()
	data = append(data, 0, 0) // half a value

	m := New(testConfig(), newRegistry(), WithInput(transport.NewBufferStream(data)))
	err := m.Load()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Load error = %v, want io.ErrUnexpectedEOF", err)
	}
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Code != protocol.CodeTruncated {
		t.Errorf("error = %#v, want CodeTruncated", err)
	}
}

// TestStreamCommands verifies the base command set.
func TestStreamCommands(t *testing.T) {
	enc := encoder()
	enc.WriteCommand(protocol.Version, 1)
	enc.WriteCommand(protocol.VecSize, 3)
	enc.WriteCommand(protocol.DoNothing)
	enc.WriteCommand(protocol.Begin, 4)
	enc.WriteCommand(protocol.Exit, 0)
	enc.WriteUint32(protocol.Opcode(7, object.OpCreate)) // after the frame
	enc.WriteInt32(1)

	stopped := false
	in := transport.NewBufferStream(enc.Bytes())
	m := New(testConfig(), newRegistry(), WithInput(in), WithStop(func() { stopped = true }))
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Version() != 1 || m.VecSize() != 3 {
		t.Errorf("version %d vecsize %d, want 1 and 3", m.Version(), m.VecSize())
	}
	if !stopped {
		t.Error("Exit(0) did not stop")
	}
	if m.Get(1) != nil {
		t.Error("Load read past Exit")
	}
	if in.IsEmpty() {
		t.Error("input drained past the end of the frame")
	}
}

func TestNullHandleEndsFrame(t *testing.T) {
	enc := encoder()
	enc.WriteUint32(protocol.Opcode(7, object.OpCreate))
	enc.WriteInt32(0)

	m := New(testConfig(), newRegistry(), WithInput(transport.NewBufferStream(enc.Bytes())))
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Table().Len() != 0 {
		t.Error("object created for a null handle")
	}
}

// TestNestedTransactionsJoin verifies an inner BeginOp writes into the open
// transaction and only the outer End commits.
func TestNestedTransactionsJoin(t *testing.T) {
	sink := &capture{}
	m := New(testConfig(), newRegistry(), WithSink(sink))

	outer := m.BeginOp(UpdateLog)
	outer.WriteCommand(protocol.DoNothing)
	inner := m.BeginOp(FastLog)
	inner.WriteCommand(protocol.DoNothing)
	inner.End()
	if len(sink.commits) != 0 {
		t.Fatal("inner End committed")
	}
	outer.End()

	if len(sink.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(sink.commits))
	}
	if c := sink.commits[0]; c.log != UpdateLog || len(c.data) != 8 {
		t.Errorf("commit = %v with %d bytes, want update log with 8", c.log, len(c.data))
	}
}

func TestDirectTransactionTarget(t *testing.T) {
	sink := &capture{}
	m := New(testConfig(), newRegistry(), WithSink(sink))

	tx := m.BeginDirect(3)
	tx.WriteCommand(protocol.SetStreamID, 3)
	tx.End()

	if len(sink.commits) != 1 || sink.commits[0].target != 3 {
		t.Fatalf("commits = %+v, want one for connection 3", sink.commits)
	}
}

func TestSharingOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Sharing = map[string][]string{"seven": {"shared", "inactive"}}
	m := New(cfg, newRegistry())

	if got := m.Sharing(7); got != object.Shared|object.Inactive {
		t.Errorf("Sharing(7) = %b, want SHARED|INACTIVE", got)
	}
	if got := m.Sharing(11); got != object.Shared {
		t.Errorf("Sharing(11) = %b, want SHARED", got)
	}
}

func TestFindAndDefine(t *testing.T) {
	m := New(testConfig(), newRegistry())
	names := []string{"scene.root", "scene.cam", "other.root", "scene"}
	objs := make(map[string]object.Object)
	for _, n := range names {
		obj := &node{class: 7}
		objs[n] = obj
		m.Define(n, obj)
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"scene.root", []string{"scene.root"}},
		{"*.root", []string{"other.root", "scene.root"}},
		{"scene*", []string{"scene", "scene.cam", "scene.root"}},
		{"*c*", []string{"scene", "scene.cam", "scene.root"}},
		{"s*.r*t", []string{"scene.root"}},
		{"missing", nil},
	}
	for _, tc := range tests {
		got := m.FindAll(tc.pattern)
		var want []object.Object
		for _, n := range tc.want {
			want = append(want, objs[n])
		}
		if !slices.Equal(got, want) {
			t.Errorf("FindAll(%q) = %d objects, want %v", tc.pattern, len(got), tc.want)
		}
	}

	// Last writer wins.
	replacement := &node{class: 9}
	m.Define("scene.cam", replacement)
	if m.Find("scene.cam") != replacement || replacement.Name() != "scene.cam" {
		t.Error("Define did not replace the binding")
	}
	if m.Find("*.cam") != replacement {
		t.Error("wildcard Find missed the replacement")
	}
	if !m.Undefine("scene.cam") || m.Find("scene.cam") != nil {
		t.Error("Undefine left the name")
	}
}

func TestDetachAll(t *testing.T) {
	m := New(testConfig(), newRegistry())
	a := &node{class: 7}
	a.SetName("tmp.a")
	b := &node{class: 7}
	b.SetName("keep.b")
	root := &node{class: 9, Ref: b}

	m.Save(FastLog, a, object.SaveDefault)
	m.Save(FastLog, root, object.SaveDefault)

	if err := m.DetachAll("tmp.*", root); err != nil {
		t.Fatalf("DetachAll: %v", err)
	}
	if m.Table().Len() != 0 {
		t.Errorf("%d objects left attached", m.Table().Len())
	}

	if err := m.AttachAll(root); err != nil {
		t.Fatalf("AttachAll: %v", err)
	}
	if m.Table().HandleOf(root) == 0 || m.Table().HandleOf(b) == 0 {
		t.Error("AttachAll did not attach the graph")
	}
}
