package util

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/1ureka/graphsync"

// Tracer returns the process tracer. Spans are no-ops until the embedding
// program installs a TracerProvider with otel.SetTracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
