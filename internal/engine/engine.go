package engine

import (
	"context"

	"kafmirror/internal/mirror"
	"kafmirror/internal/spec"
	"kafmirror/internal/transport"

	"golang.org/x/sync/errgroup"
)

type Engine struct {
	transport *transport.Server
	worker    *mirror.Worker
	static    []spec.StaticAssignment
}

// Run serves the health endpoint and drives the worker until the context is
// cancelled or the worker fails. Static assignments (no membership service)
// are applied once the worker is up.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.transport.Serve()
	})
	g.Go(func() error {
		defer e.transport.Stop()
		go e.applyStatic()
		return e.worker.Run(ctx)
	})
	return g.Wait()
}

func (e *Engine) applyStatic() {
	for _, sa := range e.static {
		for _, p := range sa.Partitions {
			e.worker.PartitionOnline(sa.Topic, p)
		}
	}
}

// Worker is exposed for the signal path and tests.
func (e *Engine) Worker() *mirror.Worker { return e.worker }
