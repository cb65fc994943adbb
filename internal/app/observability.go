package app

import (
	"context"
	"log/slog"

	"github.com/shipclojure/simulflow-go/internal/observe"
	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/graph"
)

// watchGraph drains eng's error channel for the lifetime of ctx, recording
// each reported processor error against metrics and the structured logger.
// It returns once the channel closes (graph stopped) or ctx is done.
func watchGraph(ctx context.Context, sessionID string, eng *graph.Engine, m *observe.Metrics) {
	errCh := eng.ErrorChannel().Raw()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-errCh:
			if !ok {
				return
			}
			payload, ok := frame.AsError(f)
			if !ok {
				continue
			}
			m.RecordProviderError(ctx, payload.Source, "graph")
			slog.Error("graph processor error", "session_id", sessionID, "node", payload.Source, "err", payload.Err)
		}
	}
}
