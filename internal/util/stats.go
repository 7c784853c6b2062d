package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide replication counter set. Every update is
// mirrored into the prometheus collectors in metrics.go.
var Stats = &stats{}

type stats struct {
	Peers      atomic.Int64 // currently connected peers
	FramesSent atomic.Int64 // frames accepted by a link
	FramesRecv atomic.Int64 // frames taken from the arbitrator inbox
	BytesSent  atomic.Int64
	BytesRecv  atomic.Int64
	Resends    atomic.Int64 // frames that had to wait for a later SendAll pass
	Remaps     atomic.Int64 // handle remaps initiated or applied
	Warnings   atomic.Int64 // decode warnings (missing object, rejected opcode)
}

func (s *stats) AddPeer() {
	s.Peers.Add(1)
	metrics.peers.Inc()
}

func (s *stats) RemovePeer() {
	s.Peers.Add(-1)
	metrics.peers.Dec()
}

func (s *stats) AddSent(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
	metrics.frames.WithLabelValues("sent").Inc()
	metrics.bytes.WithLabelValues("sent").Add(float64(n))
}

func (s *stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
	metrics.frames.WithLabelValues("recv").Inc()
	metrics.bytes.WithLabelValues("recv").Add(float64(n))
}

func (s *stats) AddResend() {
	s.Resends.Add(1)
	metrics.resends.Inc()
}

func (s *stats) AddRemap() {
	s.Remaps.Add(1)
	metrics.remaps.Inc()
}

func (s *stats) AddWarning(kind string) {
	s.Warnings.Add(1)
	metrics.warnings.WithLabelValues(kind).Inc()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs replication statistics
// every interval. It only prints when something moved and stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevFrames, prevResends int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				frames := Stats.FramesSent.Load() + Stats.FramesRecv.Load()
				resends := Stats.Resends.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				fps := float64(frames-prevFrames) / secs

				if frames != prevFrames || resends != prevResends {
					pterm.DefaultLogger.Info(formatStats(inS, outS, fps, Stats.Peers.Load(), resends-prevResends))
				}

				prevSent = sent
				prevRecv = recv
				prevFrames = frames
				prevResends = resends

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed width (exactly 8 chars)
// string, e.g. "99.0   B", " 1.5 KiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted stats line for the logger.
func formatStats(inS, outS, fps float64, peers, resends int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Frames: %5.1f/s | Peers: %2d | Resends: %d",
		formatBytes(inS),
		formatBytes(outS),
		fps,
		peers,
		resends,
	)
}
