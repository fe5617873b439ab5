package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool runs several workers over the same queue. Worker ids get a
// numeric suffix so every lease names its holder.
type Pool struct {
	workers []*Worker
}

// NewPool builds count workers sharing cfg and deps.
func NewPool(count int, cfg Config, deps Deps) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("worker count must be positive")
	}
	base := cfg.ID
	if base == "" {
		base = "worker"
	}
	workers := make([]*Worker, 0, count)
	for i := 0; i < count; i++ {
		wcfg := cfg
		wcfg.ID = fmt.Sprintf("%s-%d", base, i+1)
		w, err := New(wcfg, deps)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return &Pool{workers: workers}, nil
}

// Run blocks until every worker returns. The first non-cancellation
// error cancels the rest.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
