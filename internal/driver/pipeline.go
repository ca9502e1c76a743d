package driver

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"evmstack/internal/cfg"
	"evmstack/internal/cfgfile"
	"evmstack/internal/config"
	"evmstack/internal/diag"
	"evmstack/internal/layout"
	"evmstack/internal/observ"
	"evmstack/internal/source"
	"evmstack/internal/trace"
)

// Options control how graph files are processed.
type Options struct {
	Layout layout.Options
	// Spill resolves stack too deep errors by moving variables to memory.
	Spill        bool
	SpillOptions layout.SpillOptions
	// Jobs bounds the files and the entry points processed concurrently.
	Jobs           int
	MaxDiagnostics int
	// Cache is optional.
	Cache         *DiskCache
	Progress      ProgressSink
	EnableTimings bool
}

// OptionsFromConfig takes the settings of an evmstack.toml. The cache is not
// opened here.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Layout:         c.LayoutOptions(),
		Spill:          c.Spill.Enabled,
		SpillOptions:   c.SpillOptions(),
		Jobs:           c.Jobs(),
		MaxDiagnostics: 100,
	}
}

// SpilledVar is a variable moved to memory.
type SpilledVar struct {
	Var  cfg.VarID
	Name string
	Addr uint64
}

// Result is the outcome of processing one graph file.
type Result struct {
	Path    string
	FileSet *source.FileSet
	FileID  source.FileID
	// Original is the graph as loaded, nil if loading failed. Graph is the
	// graph Layout belongs to; it differs from Original when variables were
	// spilled.
	Original *cfg.Graph
	Graph    *cfg.Graph
	Layout   *layout.Layout
	Spilled  []SpilledVar
	// Findings are the stack too deep errors left in Layout.
	Findings []layout.StackTooDeep
	Rounds   int
	CacheHit bool
	Bag      *diag.Bag
	Timing   *observ.Report
	// Err is set by LayoutFiles when the file could not be processed at all.
	Err error
}

// Failed reports whether the file could not be laid out without errors.
func (r *Result) Failed() bool {
	return r.Err != nil || r.Bag == nil || r.Bag.HasErrors()
}

// LayoutFile loads the graph description at path, lays it out and reports
// problems to the result's bag. The error is only set when the file cannot
// be read or ctx is done.
func LayoutFile(ctx context.Context, path string, opts *Options) (*Result, error) {
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeDriver, "file", trace.CurrentSpan(ctx)).WithExtra("path", path)
	ctx = trace.WithSpan(ctx, span)

	var timer *observ.Timer
	if opts.EnableTimings {
		timer = observ.NewTimer()
	}
	begin := func(name string) int {
		if timer == nil {
			return -1
		}
		return timer.Begin(name)
	}
	end := func(idx int, note string) {
		if timer == nil || idx < 0 {
			return
		}
		timer.End(idx, note)
	}
	started := time.Now()
	finish := func(res *Result, status Status) {
		if timer != nil {
			report := timer.Report()
			res.Timing = &report
			appendTimingDiagnostic(res.Bag, timingPayload{Path: path, TotalMS: report.TotalMS, Phases: report.Phases})
		}
		emit(opts.Progress, Event{File: path, Stage: StageReport, Status: status, Elapsed: time.Since(started)})
		span.WithExtra("status", string(status)).End("")
	}

	res := &Result{
		Path:    path,
		FileSet: source.NewFileSet(),
		Bag:     diag.NewBag(opts.MaxDiagnostics),
	}
	reporter := diag.BagReporter{Bag: res.Bag}

	emit(opts.Progress, Event{File: path, Stage: StageLoad, Status: StatusWorking})
	loadIdx := begin("load")
	fileID, err := res.FileSet.Load(path)
	if err != nil {
		end(loadIdx, "")
		span.WithErr(err).End("load failed")
		return nil, err
	}
	res.FileID = fileID
	res.Original = cfgfile.Load(res.FileSet, fileID, reporter)
	loadNote := ""
	if timer != nil && res.Original != nil {
		loadNote = fmt.Sprintf("blocks=%d ops=%d", len(res.Original.Blocks), len(res.Original.Ops))
	}
	end(loadIdx, loadNote)
	if res.Original == nil {
		finish(res, StatusError)
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var key Digest
	if opts.Cache != nil {
		key = cacheKey(res.FileSet.Get(fileID).Hash, opts)
		cacheIdx := begin("cache")
		hit, err := res.restore(opts, key)
		end(cacheIdx, fmt.Sprintf("hit=%t", hit))
		if err != nil {
			diag.ReportWarning(reporter, diag.IOCacheError, source.Span{File: fileID},
				fmt.Sprintf("ignoring cached layout: %v", err)).Emit()
		}
		res.CacheHit = hit
	}

	if !res.CacheHit {
		emit(opts.Progress, Event{File: path, Stage: StageLayout, Status: StatusWorking})
		layoutIdx := begin("layout")
		err := res.compute(ctx, opts, timer)
		end(layoutIdx, fmt.Sprintf("rounds=%d", res.Rounds))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			diag.ReportError(reporter, diag.LayoutInternal, source.Span{File: fileID}, err.Error()).Emit()
			finish(res, StatusError)
			return res, nil
		}
		if opts.Cache != nil {
			spilled := make(map[cfg.VarID]uint64, len(res.Spilled))
			for _, s := range res.Spilled {
				spilled[s.Var] = s.Addr
			}
			if err := opts.Cache.Put(key, layoutToDiskPayload(path, res.Layout, spilled, res.Rounds)); err != nil {
				diag.ReportWarning(reporter, diag.IOCacheError, source.Span{File: fileID},
					fmt.Sprintf("layout not cached: %v", err)).Emit()
			}
		}
	} else {
		emit(opts.Progress, Event{File: path, Stage: StageLayout, Status: StatusCached})
	}

	reportIdx := begin("report")
	res.report(opts)
	end(reportIdx, fmt.Sprintf("diags=%d", res.Bag.Len()))

	status := StatusDone
	if res.Bag.HasErrors() {
		status = StatusError
	}
	finish(res, status)
	return res, nil
}

func (res *Result) compute(ctx context.Context, opts *Options, timer *observ.Timer) error {
	run := ParallelRun(opts.Jobs, timer)
	if !opts.Spill {
		lay, err := run(ctx, res.Original, opts.Layout)
		if err != nil {
			return err
		}
		found, err := layout.ReportStackTooDeep(res.Original, lay, opts.Layout.Policy)
		if err != nil {
			return err
		}
		res.Graph, res.Layout, res.Findings = res.Original, lay, found
		return nil
	}

	emit(opts.Progress, Event{File: res.Path, Stage: StageSpill, Status: StatusWorking})
	fix, err := layout.FixStackTooDeep(ctx, res.Original, opts.Layout, opts.SpillOptions, run)
	if err != nil {
		return err
	}
	res.Graph, res.Layout, res.Findings, res.Rounds = fix.Graph, fix.Layout, fix.Remaining, fix.Rounds
	res.Spilled = spilledVars(res.Original, fix.Spilled)
	return nil
}

// restore fills the result from the cache. The layout is stored without
// the graph, so spilling is replayed from the recorded addresses and the
// findings are recomputed.
func (res *Result) restore(opts *Options, key Digest) (bool, error) {
	var payload DiskPayload
	ok, err := opts.Cache.Get(key, &payload)
	if err != nil || !ok {
		return false, err
	}
	spilled := spilledFromPayload(&payload)
	g := res.Original
	if len(spilled) > 0 {
		if g, err = cfg.SpillVariables(res.Original, spilled); err != nil {
			return false, err
		}
	}
	lay, err := diskPayloadToLayout(&payload, g)
	if err != nil {
		return false, err
	}
	found, err := layout.ReportStackTooDeep(g, lay, opts.Layout.Policy)
	if err != nil {
		return false, err
	}
	res.Graph, res.Layout, res.Findings, res.Rounds = g, lay, found, payload.Rounds
	res.Spilled = spilledVars(res.Original, spilled)
	return true, nil
}

func spilledVars(g *cfg.Graph, spilled map[cfg.VarID]uint64) []SpilledVar {
	out := make([]SpilledVar, 0, len(spilled))
	for v, addr := range spilled {
		out = append(out, SpilledVar{Var: v, Name: g.Var(v).Name, Addr: addr})
	}
	slices.SortFunc(out, func(a, b SpilledVar) int { return cmp.Compare(a.Addr, b.Addr) })
	return out
}

// findingSpan points at the operation a shuffle prepares, or at the block
// whose exit or entry it belongs to.
func findingSpan(g *cfg.Graph, f *layout.StackTooDeep) source.Span {
	if f.Op != cfg.NoOpID {
		return g.OpSpan(f.Op, f.Block)
	}
	if f.Block != cfg.NoBlockID {
		return g.Block(f.Block).Span
	}
	return source.Span{}
}

func (res *Result) report(opts *Options) {
	r := diag.BagReporter{Bag: res.Bag}
	for _, s := range res.Spilled {
		diag.ReportInfo(r, diag.LayoutVariableSpilled, res.Original.Var(s.Var).Span,
			fmt.Sprintf("variable %s moved to memory at %#x", s.Name, s.Addr)).Emit()
	}
	for i := range res.Findings {
		f := &res.Findings[i]
		b := diag.ReportError(r, diag.LayoutStackTooDeep, findingSpan(res.Graph, f), f.Describe(res.Graph))
		if len(f.Variables) > 0 {
			names := make([]string, len(f.Variables))
			for i, v := range f.Variables {
				names[i] = res.Graph.Var(v).Name
			}
			b = b.WithNote(res.Graph.Var(f.Variables[0]).Span,
				"variables out of reach, deepest first: "+strings.Join(names, ", "))
		}
		b.Emit()
	}
	if opts.Spill && len(res.Findings) > 0 {
		diag.ReportError(r, diag.LayoutSpillExhausted, source.Span{File: res.FileID},
			fmt.Sprintf("%d stack too deep error(s) left after moving %d variable(s) to memory in %d round(s)",
				len(res.Findings), len(res.Spilled), res.Rounds)).Emit()
	}
}
