package verify

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docverify/internal/acquire"
)

// DefaultConcurrency bounds parallel verifications when none is configured.
const DefaultConcurrency = 4

// BatchResult pairs a request with its result. Err holds cancellation or
// supersede errors; document failures live in Result.Failure.
type BatchResult struct {
	Request Request
	Result  Result
	Err     error
}

// Batch verifies every request with at most concurrency in flight. Results
// are returned in request order. It stops early only when ctx ends.
func (s *Service) Batch(ctx context.Context, reqs []Request, concurrency int) ([]BatchResult, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	out := make([]BatchResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		out[i].Request = req
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			res, err := s.Verify(gctx, req)
			out[i].Result = res
			out[i].Err = err
			if err != nil && !errors.Is(err, acquire.ErrSuperseded) {
				s.logger.Warn("row verification interrupted",
					zap.String("sheet", req.Sheet),
					zap.Int("row", req.Row),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}

// Summary counts batch outcomes.
type Summary struct {
	Total       int            `json:"total"`
	Acquired    int            `json:"acquired"`
	Failed      int            `json:"failed"`
	Interrupted int            `json:"interrupted"`
	Decisions   map[string]int `json:"decisions"`
	Categories  map[string]int `json:"categories"`
}

// Summarize tallies results.
func Summarize(results []BatchResult) Summary {
	sum := Summary{
		Total:      len(results),
		Decisions:  map[string]int{},
		Categories: map[string]int{},
	}
	for _, r := range results {
		switch {
		case r.Err != nil:
			sum.Interrupted++
			continue
		case r.Result.Failure != nil:
			sum.Failed++
			sum.Categories[string(r.Result.Failure.Category)]++
		default:
			sum.Acquired++
		}
		if r.Result.Verdict != nil {
			sum.Decisions[string(r.Result.Verdict.Decision)]++
		}
	}
	return sum
}
