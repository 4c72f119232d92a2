package main

import (
	"context"

	"pulsecore/internal/stream"
)

// publisher is the narrow slice of stream.MemorySource this binary's
// Replayer needs. A real deployment backs stream.Source with a durable
// change-stream connection that has its own republish mechanism, at which
// point this type goes away entirely.
type publisher interface {
	Publish(event stream.Event)
}

// streamReplayer implements adminhttp.Replayer by re-publishing a
// dead-lettered event onto the same stream.Source the orchestrator
// consumes, so it is picked up exactly the way a fresh delivery would be.
type streamReplayer struct {
	pub publisher
}

func (r streamReplayer) Replay(ctx context.Context, event stream.Event) error {
	r.pub.Publish(event)
	return nil
}
