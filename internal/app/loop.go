// Package app contains the top-level orchestration for the master and
// client roles: transports, the synchronizer and the frame loop that
// drives them.
package app

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/messenger"
	"github.com/1ureka/graphsync/internal/scene"
	"github.com/1ureka/graphsync/internal/signaling"
	"github.com/1ureka/graphsync/internal/synchronizer"
	"github.com/1ureka/graphsync/internal/transport"
	"github.com/1ureka/graphsync/internal/util"
)

// DefaultFrameRate is used when the configuration sets none.
const DefaultFrameRate = 30

// newSync builds the synchronizer of either role over arb. stop is called
// when the stream asks for a shutdown. With log.trace set every decoded
// command and opcode is written to stderr as JSON.
func newSync(cfg config.Config, arb transport.Arbitrator, stop func()) *synchronizer.Synchronizer {
	opts := []messenger.Option{messenger.WithStop(stop)}
	if cfg.Log.Trace {
		wire := zerolog.New(os.Stderr).With().Timestamp().Str("role", string(cfg.Role)).Logger()
		opts = append(opts, messenger.WithTrace(wire))
	}
	return synchronizer.New(cfg.Protocol, scene.NewRegistry(), arb, synchronizer.WithMessengerOptions(opts...))
}

// streamHello is what a DataChannel peer must agree on before the master
// offers it a channel.
func streamHello(p config.Protocol) signaling.Hello {
	return signaling.Hello{Version: p.Version, ByteOrder: p.ByteOrder}
}

// step runs one logical frame: apply what arrived, let the role do its
// work, send what it logged.
func step(ctx context.Context, s *synchronizer.Synchronizer, frame uint64, tick func(ctx context.Context) error) error {
	tracer := util.Tracer()
	ctx, span := tracer.Start(ctx, "frame", trace.WithAttributes(attribute.Int64("frame", int64(frame))))
	defer span.End()

	lctx, load := tracer.Start(ctx, "load")
	if err := s.Load(lctx); err != nil {
		// Bad frames are dropped and logged by the synchronizer.
		load.RecordError(err)
		load.SetStatus(codes.Error, "frame dropped")
	}
	load.End()
	if err := ctx.Err(); err != nil {
		return err
	}

	if tick != nil {
		if err := tick(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tick failed")
			return err
		}
	}

	_, flush := tracer.Start(ctx, "flush")
	sent := s.Flush()
	flush.SetAttributes(attribute.Bool("sent", sent))
	flush.End()
	return nil
}

// run steps frames at rate per second until ctx is done. Cancellation is a
// clean exit.
func run(ctx context.Context, rate int, fn func(ctx context.Context, frame uint64) error) error {
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for frame := uint64(1); ; frame++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := fn(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
