// Package snapshot saves a replicated graph as a self-contained stream and
// loads it back. A snapshot is Version, VecSize, the object ops in default
// save mode, then End; any messenger can replay it into an empty table.
package snapshot

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/messenger"
	"github.com/1ureka/graphsync/internal/object"
	"github.com/1ureka/graphsync/internal/protocol"
	"github.com/1ureka/graphsync/internal/transport"
)

// Ext is the file extension of stored snapshots.
const Ext = ".gsnap"

// Name returns the default snapshot name for t.
func Name(t time.Time) string {
	return "scene-" + t.UTC().Format("20060102-150405")
}

// Encode writes roots and everything they reference into a snapshot. The
// graph is saved through m so handles match the live table, but nothing is
// committed and the objects' saved state is left as it was.
func Encode(m *messenger.Messenger, roots ...object.Object) []byte {
	saved := make(map[object.Object]bool)
	m.Table().Each(func(_ int32, obj object.Object) {
		if obj.Flags()&object.Saved != 0 {
			saved[obj] = true
			obj.ClearFlags(object.Saved)
		}
	})

	version := m.Config().Version
	data := m.Capture(func(tx *messenger.Tx) {
		tx.WriteCommand(protocol.Version, version)
		tx.WriteCommand(protocol.VecSize, protocol.VecSizeFor(version))
		for _, root := range roots {
			if root != nil {
				root.Encode(tx, object.SaveDefault)
			}
		}
		tx.WriteCommand(protocol.End)
	})

	m.Table().Each(func(_ int32, obj object.Object) {
		if saved[obj] {
			obj.SetFlags(object.Saved)
		} else {
			obj.ClearFlags(object.Saved)
		}
	})
	return data
}

// Write encodes roots and writes the snapshot to w.
func Write(w io.Writer, m *messenger.Messenger, roots ...object.Object) (int, error) {
	n, err := w.Write(Encode(m, roots...))
	if err != nil {
		return n, fmt.Errorf("write snapshot: %w", err)
	}
	return n, nil
}

// Apply replays a snapshot into m. The messenger's input is swapped for
// the snapshot while it loads and restored afterwards.
func Apply(m *messenger.Messenger, data []byte) error {
	prev := m.Input()
	m.SetInput(transport.NewBufferStream(data))
	defer m.SetInput(prev)
	if err := m.Load(); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}
	return nil
}

// Decode replays a snapshot into a new messenger built from cfg and
// factory.
func Decode(cfg config.Protocol, factory object.Factory, data []byte, opts ...messenger.Option) (*messenger.Messenger, error) {
	m := messenger.New(cfg, factory, opts...)
	if err := Apply(m, data); err != nil {
		return nil, err
	}
	return m, nil
}

// Dump replays a snapshot and writes one JSON line per decoded command
// and opcode to w.
func Dump(w io.Writer, cfg config.Protocol, factory object.Factory, data []byte) (*messenger.Messenger, error) {
	trace := zerolog.New(w).With().Timestamp().Logger()
	return Decode(cfg, factory, data, messenger.WithTrace(trace))
}
