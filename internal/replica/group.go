// Package replica models the workload's logical compute devices: each
// replica holds its own copy of the model parameters, and a batch is evaluated
// by mapping a shard to every replica in parallel and summing the results.
package replica

import (
	"sync"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"fastmri-bench/internal/metrics"
)

// Group is a fixed set of replicas sharing one execution backend.
type Group struct {
	backend  backends.Backend
	replicas []*context.Context
}

// NewGroup replicates the primary parameter context count times.
func NewGroup(backend backends.Backend, primary *context.Context, count int) (*Group, error) {
	if count <= 0 {
		count = 1
	}
	g := &Group{backend: backend, replicas: make([]*context.Context, count)}
	for i := range g.replicas {
		ctx, err := primary.Clone()
		if err != nil {
			return nil, errors.WithMessagef(err, "replicating parameters to device %d", i)
		}
		g.replicas[i] = ctx
	}
	return g, nil
}

// Size returns the number of replicas.
func (g *Group) Size() int { return len(g.replicas) }

// Backend returns the shared execution backend.
func (g *Group) Backend() backends.Backend { return g.backend }

// Device returns the parameter context of one replica.
func (g *Group) Device(i int) *context.Context { return g.replicas[i] }

// Sync copies the current variable values from the primary context onto every
// replica. The training submission mutates the primary between evaluations,
// so the replicas refresh before each evaluation pass.
func (g *Group) Sync(primary *context.Context) error {
	for i, dst := range g.replicas {
		var syncErr error
		primary.EnumerateVariables(func(v *context.Variable) {
			if syncErr != nil {
				return
			}
			target := dst.InspectVariable(v.Scope(), v.Name())
			if target == nil {
				syncErr = errors.Errorf("device %d is missing variable %q", i, v.ScopeAndName())
				return
			}
			value, err := v.Value()
			if err != nil {
				syncErr = err
				return
			}
			if err := target.SetValue(value); err != nil {
				syncErr = err
			}
		})
		if syncErr != nil {
			return syncErr
		}
	}
	return nil
}

// Map runs fn once per replica in parallel and sums the returned metric sums
// across replicas. The first error wins and is returned as-is.
func (g *Group) Map(fn func(device int, ctx *context.Context) (metrics.Sums, error)) (metrics.Sums, error) {
	parts := make([]metrics.Sums, len(g.replicas))
	errs := make([]error, len(g.replicas))

	var wg sync.WaitGroup
	for i, ctx := range g.replicas {
		wg.Add(1)
		go func(i int, ctx *context.Context) {
			defer wg.Done()
			parts[i], errs[i] = fn(i, ctx)
		}(i, ctx)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return metrics.Sums{}, err
		}
	}
	return metrics.Reduce(parts), nil
}
