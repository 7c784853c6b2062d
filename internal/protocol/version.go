package protocol

// CurrentVersion is the stream version written at the head of saved streams.
const CurrentVersion int32 = 8

// MaxString is the largest padded string length accepted on decode.
const MaxString = 2048

// MaxHosts bounds the number of peers one synchronizer can address. It is
// the width of the sync-bit table (bit 0 is unused by connection 0).
const MaxHosts = 24

// vecSizes maps a stream version to the vector width, in 32-bit words, that
// streams of that version used for packed vertex data. Versions not listed
// use the width of the nearest older version.
var vecSizes = []struct {
	version int32
	size    int32
}{
	{1, 3},
	{4, 4},
	{CurrentVersion, 4},
}

// VecSizeFor returns the packed vector width for streams of the given version.
func VecSizeFor(version int32) int32 {
	size := vecSizes[0].size
	for _, v := range vecSizes {
		if v.version > version {
			break
		}
		size = v.size
	}
	return size
}

// ──────────────────────────────────────────────────────────────────────────────
// Sync bits
// ──────────────────────────────────────────────────────────────────────────────

// SyncTable is the per-connection sync bit lookup. Entry 0 belongs to the
// authoritative host and carries no bit; connection i owns bit i-1.
type SyncTable []uint32

// NewSyncTable builds a table for up to maxHosts connections.
func NewSyncTable(maxHosts int) SyncTable {
	if maxHosts <= 0 || maxHosts > MaxHosts {
		maxHosts = MaxHosts
	}
	t := make(SyncTable, maxHosts)
	for i := 1; i < maxHosts; i++ {
		t[i] = 1 << (i - 1)
	}
	return t
}

// Flag returns the sync bit for a connection id, or 0 when out of range.
func (t SyncTable) Flag(conn int) uint32 {
	if conn <= 0 || conn >= len(t) {
		return 0
	}
	return t[conn]
}
