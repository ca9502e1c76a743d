package driver

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"evmstack/internal/cfg"
	"evmstack/internal/layout"
	"evmstack/internal/observ"
)

// ParallelRun returns a layout.RunFunc that lays out the entry points of a
// graph concurrently, at most jobs at a time (GOMAXPROCS when jobs <= 0).
// Entry points share no blocks, so the merged result equals layout.Run.
// When timer is not nil, every entry point is recorded as a nested phase.
func ParallelRun(jobs int, timer *observ.Timer) layout.RunFunc {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	return func(ctx context.Context, g *cfg.Graph, opts layout.Options) (*layout.Layout, error) {
		eps := g.EntryPoints()
		parts := make([]*layout.Layout, len(eps))

		eg, gctx := errgroup.WithContext(ctx)
		eg.SetLimit(min(jobs, len(eps)))
		for i, ep := range eps {
			eg.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				start := time.Now()
				part, err := layout.RunEntry(gctx, g, ep, opts)
				if err != nil {
					return err
				}
				if timer != nil {
					timer.Record("layout:"+g.EntryName(ep), time.Since(start),
						"blocks="+strconv.Itoa(len(part.Blocks)))
				}
				parts[i] = part
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}

		out := parts[0]
		for _, part := range parts[1:] {
			out.Merge(part)
		}
		return out, nil
	}
}

// LayoutFiles processes every graph file concurrently, at most opts.Jobs
// files at a time. Results are in the order of paths; a file that could
// not be read has Err set.
func LayoutFiles(ctx context.Context, paths []string, opts *Options) ([]*Result, error) {
	results := make([]*Result, len(paths))
	for _, path := range paths {
		emit(opts.Progress, Event{File: path, Stage: StageLoad, Status: StatusQueued})
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, min(jobs, len(paths))))
	for i, path := range paths {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := LayoutFile(gctx, path, opts)
			if err != nil {
				res = &Result{Path: path, Err: err}
				emit(opts.Progress, Event{File: path, Stage: StageLoad, Status: StatusError, Err: err})
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
