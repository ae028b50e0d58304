package eval

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome pairs a batch request's result with its error.
type Outcome struct {
	Result Result
	Err    error
}

// EvaluateAll evaluates reqs with at most limit in flight (limit <= 0 means
// one at a time). Outcomes are returned in request order. A failed position
// never stops the others; canceling ctx fails the ones not yet finished.
func EvaluateAll(ctx context.Context, a Analyzer, reqs []Request, limit int) []Outcome {
	if limit <= 0 {
		limit = 1
	}
	out := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := a.Evaluate(ctx, req)
			out[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// EvaluateAll is the package-level EvaluateAll bound to s. The default
// limit is the pool size, or 1 when processes are not pooled.
func (s *Service) EvaluateAll(ctx context.Context, reqs []Request, limit int) []Outcome {
	if limit <= 0 {
		limit = max(s.cfg.PoolSize, 1)
	}
	return EvaluateAll(ctx, s, reqs, limit)
}
