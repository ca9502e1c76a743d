package driver_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evmstack/internal/diag"
	"evmstack/internal/driver"
	"evmstack/internal/layout"
)

const callGraph = `
entry = "start"

[[function]]
name = "double"
params = ["n"]
returns = ["r"]
entry = "double.body"

[[function]]
name = "square"
params = ["n"]
returns = ["r"]
entry = "square.body"

[[block]]
name = "start"
exit = "main"
  [[block.op]]
  id = "a"
  call = "double"
  args = ["21"]
  [[block.op]]
  id = "b"
  call = "square"
  args = ["%a"]
  [[block.op]]
  builtin = "sstore"
  in = ["%b", "0"]

[[block]]
name = "double.body"
return = "double"
  [[block.op]]
  id = "sum"
  builtin = "add"
  in = ["n", "n"]
  out = 1
  [[block.op]]
  assign = ["r"]
  in = ["%sum"]

[[block]]
name = "square.body"
return = "square"
  [[block.op]]
  id = "prod"
  builtin = "mul"
  in = ["n", "n"]
  out = 1
  [[block.op]]
  assign = ["r"]
  in = ["%prod"]
`

// deepGraph defines n variables and consumes them in reverse order.
func deepGraph(n int) string {
	var sb strings.Builder
	sb.WriteString("[[block]]\nname = \"start\"\nexit = \"main\"\n")
	names := make([]string, n)
	for i := range n {
		fmt.Fprintf(&sb, "  [[block.op]]\n  id = \"l%d\"\n  builtin = \"calldataload\"\n  in = [\"%d\"]\n  out = 1\n", i, 32*i)
		fmt.Fprintf(&sb, "  [[block.op]]\n  assign = [\"v%d\"]\n  in = [\"%%l%d\"]\n", i, i)
		names[n-1-i] = fmt.Sprintf("%q", fmt.Sprintf("v%d", i))
	}
	fmt.Fprintf(&sb, "  [[block.op]]\n  builtin = \"sink\"\n  in = [%s]\n", strings.Join(names, ", "))
	return sb.String()
}

func writeGraph(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func defaultOptions() *driver.Options {
	return &driver.Options{
		Layout:       layout.DefaultOptions(),
		Spill:        true,
		SpillOptions: layout.DefaultSpillOptions(),
		Jobs:         4,
	}
}

func countCode(bag *diag.Bag, code diag.Code) int {
	n := 0
	for _, d := range bag.Items() {
		if d.Code == code {
			n++
		}
	}
	return n
}

func dump(t *testing.T, res *driver.Result) string {
	t.Helper()
	var buf bytes.Buffer
	if err := layout.Dump(&buf, res.Graph, res.Layout); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestLayoutFileCalls(t *testing.T) {
	res, err := driver.LayoutFile(context.Background(), writeGraph(t, "call.toml", callGraph), defaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed() {
		t.Fatalf("diagnostics: %v", res.Bag.Items())
	}
	if len(res.Layout.Blocks) != 3 {
		t.Errorf("laid out %d blocks, want 3", len(res.Layout.Blocks))
	}
	if res.Graph != res.Original || len(res.Spilled) != 0 {
		t.Error("nothing should be spilled")
	}
}

func TestLayoutFileSpills(t *testing.T) {
	res, err := driver.LayoutFile(context.Background(), writeGraph(t, "deep.toml", deepGraph(18)), defaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed() {
		t.Fatalf("diagnostics: %v", res.Bag.Items())
	}
	if len(res.Spilled) == 0 || len(res.Findings) != 0 {
		t.Fatalf("spilled %d, findings %d", len(res.Spilled), len(res.Findings))
	}
	if got := countCode(res.Bag, diag.LayoutVariableSpilled); got != len(res.Spilled) {
		t.Errorf("%d spill infos for %d variables", got, len(res.Spilled))
	}
	for i, s := range res.Spilled {
		if want := uint64(0x80 + 32*i); s.Addr != want {
			t.Errorf("spilled[%d] = %s at %#x, want %#x", i, s.Name, s.Addr, want)
		}
	}
}

func TestLayoutFileWithoutSpilling(t *testing.T) {
	opts := defaultOptions()
	opts.Spill = false
	res, err := driver.LayoutFile(context.Background(), writeGraph(t, "deep.toml", deepGraph(18)), opts)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Failed() || len(res.Findings) == 0 {
		t.Fatal("expected stack too deep errors")
	}
	if got := countCode(res.Bag, diag.LayoutStackTooDeep); got != len(res.Findings) {
		t.Errorf("%d diagnostics for %d findings", got, len(res.Findings))
	}
	if countCode(res.Bag, diag.LayoutSpillExhausted) != 0 {
		t.Error("spill summary reported with spilling disabled")
	}
}

func TestLayoutFileInvalidGraph(t *testing.T) {
	res, err := driver.LayoutFile(context.Background(), writeGraph(t, "bad.toml", "[[block]]\nname = \"a\"\njump = \"b\"\n"), defaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Failed() || res.Original != nil || res.Layout != nil {
		t.Fatal("invalid graph was laid out")
	}
	if countCode(res.Bag, diag.CFGUnknownBlock) != 1 {
		t.Errorf("diagnostics: %v", res.Bag.Items())
	}
}

func TestLayoutFileCache(t *testing.T) {
	cache, err := driver.OpenDiskCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts := defaultOptions()
	opts.Cache = cache
	path := writeGraph(t, "deep.toml", deepGraph(18))

	first, err := driver.LayoutFile(context.Background(), path, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := driver.LayoutFile(context.Background(), path, opts)
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheHit || !second.CacheHit {
		t.Fatalf("cache hits: first %t, second %t", first.CacheHit, second.CacheHit)
	}
	if dump(t, first) != dump(t, second) {
		t.Errorf("cached layout differs:\n%s\nvs\n%s", dump(t, first), dump(t, second))
	}
	if fmt.Sprint(first.Spilled) != fmt.Sprint(second.Spilled) || len(second.Findings) != 0 {
		t.Errorf("spilled %v vs %v", first.Spilled, second.Spilled)
	}

	opts.Layout.CompressThreshold++
	third, err := driver.LayoutFile(context.Background(), path, opts)
	if err != nil {
		t.Fatal(err)
	}
	if third.CacheHit {
		t.Error("changed options hit the cache")
	}

	if err := cache.DropAll(); err != nil {
		t.Fatal(err)
	}
	opts.Layout.CompressThreshold--
	fourth, err := driver.LayoutFile(context.Background(), path, opts)
	if err != nil {
		t.Fatal(err)
	}
	if fourth.CacheHit {
		t.Error("hit after DropAll")
	}
}

func TestParallelRunMatchesRun(t *testing.T) {
	res, err := driver.LayoutFile(context.Background(), writeGraph(t, "call.toml", callGraph), defaultOptions())
	if err != nil || res.Original == nil {
		t.Fatalf("load: %v", err)
	}
	g := res.Original
	opts := layout.DefaultOptions()
	seq, err := layout.Run(context.Background(), g, opts)
	if err != nil {
		t.Fatal(err)
	}
	par, err := driver.ParallelRun(3, nil)(context.Background(), g, opts)
	if err != nil {
		t.Fatal(err)
	}
	var a, b bytes.Buffer
	if err := layout.Dump(&a, g, seq); err != nil {
		t.Fatal(err)
	}
	if err := layout.Dump(&b, g, par); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Errorf("parallel layout differs:\n%s\nvs\n%s", a.String(), b.String())
	}
}

func TestLayoutFilesEvents(t *testing.T) {
	good := writeGraph(t, "call.toml", callGraph)
	missing := filepath.Join(t.TempDir(), "missing.toml")
	events := make(chan driver.Event, 64)
	opts := defaultOptions()
	opts.Progress = driver.ChannelSink{Ch: events}
	opts.EnableTimings = true

	results, err := driver.LayoutFiles(context.Background(), []string{good, missing}, opts)
	close(events)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Failed() || results[0].Timing == nil {
		t.Errorf("good file: failed %t, timing %v", results[0].Failed(), results[0].Timing)
	}
	if countCode(results[0].Bag, diag.ObsTimings) != 1 {
		t.Error("no timing diagnostic")
	}
	if results[1].Err == nil {
		t.Error("missing file has no error")
	}

	last := map[string]driver.Status{}
	for ev := range events {
		last[ev.File] = ev.Status
	}
	if last[good] != driver.StatusDone || last[missing] != driver.StatusError {
		t.Errorf("final statuses = %v", last)
	}
}

func TestLayoutFileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := driver.LayoutFile(ctx, writeGraph(t, "call.toml", callGraph), defaultOptions()); err == nil {
		t.Error("canceled context did not stop the run")
	}
}
