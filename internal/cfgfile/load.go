package cfgfile

import (
	"errors"
	"fmt"
	"strings"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"

	"evmstack/internal/cfg"
	"evmstack/internal/diag"
	"evmstack/internal/source"
)

type loader struct {
	file  *source.File
	r     diag.Reporter
	b     *cfg.Builder
	decl  fileDecl
	lines headerLines

	funcIdx  map[string]int
	funcOf   []cfg.FuncID
	blockIdx map[string]int
	blockOf  []cfg.BlockID
	// blockSpans is indexed by BlockID.
	blockSpans []source.Span
	scopes     map[cfg.FuncID]*scope

	failed bool
}

// Load decodes the graph description in file and builds a validated graph.
// Problems are reported to r; the result is nil when any error was reported.
func Load(fs *source.FileSet, file source.FileID, r diag.Reporter) *cfg.Graph {
	l := &loader{
		file:     fs.Get(file),
		r:        r,
		b:        cfg.NewBuilder(),
		funcIdx:  make(map[string]int),
		blockIdx: make(map[string]int),
		scopes:   make(map[cfg.FuncID]*scope),
	}
	if !l.decode() {
		return nil
	}
	l.declare()
	owners := l.owners()
	l.signatures()
	for i := range l.decl.Blocks {
		l.fillBlock(i, owners[i])
	}
	if l.failed {
		return nil
	}
	g, err := l.b.Finish()
	if err != nil {
		l.reportGraphErrors(err)
		return nil
	}
	l.warnUnreachable(g)
	return g
}

func (l *loader) errorf(code diag.Code, span source.Span, format string, args ...any) {
	l.failed = true
	diag.ReportError(l.r, code, span, fmt.Sprintf(format, args...)).Emit()
}

func (l *loader) fileStart() source.Span {
	return source.Span{File: l.file.ID}
}

// span prefers an explicit line over the scanned header line.
func (l *loader) span(explicit, header uint32) source.Span {
	line := explicit
	if line == 0 {
		line = header
	}
	if line == 0 {
		return l.fileStart()
	}
	return l.file.LineSpan(line)
}

func (l *loader) decode() bool {
	l.lines = scanHeaders(l.file.Content)
	meta, err := toml.Decode(string(l.file.Content), &l.decl)
	if err != nil {
		span := l.fileStart()
		var perr toml.ParseError
		if errors.As(err, &perr) {
			span = l.offsetSpan(perr.Position.Start, perr.Position.Len)
		}
		l.errorf(diag.CFGSyntax, span, "%v", err)
		return false
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		for _, key := range undecoded {
			l.errorf(diag.CFGSyntax, l.span(0, l.lines.key(key)), "unknown key %q", key.String())
		}
		return false
	}
	return true
}

// offsetSpan clamps a byte range reported by the decoder to the file. The
// decoder's line number counts a newline it has already consumed, so the
// range is the reliable part.
func (l *loader) offsetSpan(start, n int) source.Span {
	size := len(l.file.Content)
	start = min(max(start, 0), size)
	end := min(start+max(n, 0), size)
	s, err := safecast.Conv[uint32](start)
	if err != nil {
		return l.fileStart()
	}
	e, err := safecast.Conv[uint32](end)
	if err != nil {
		return l.fileStart()
	}
	return source.Span{File: l.file.ID, Start: s, End: e}
}

// declare creates every function and block so that references may point
// forward.
func (l *loader) declare() {
	l.funcOf = make([]cfg.FuncID, len(l.decl.Functions))
	for i := range l.decl.Functions {
		fd := &l.decl.Functions[i]
		l.funcOf[i] = cfg.NoFuncID
		fd.Name = normName(fd.Name)
		span := l.span(fd.Line, l.lines.function(i))
		if !isIdent(fd.Name) {
			l.errorf(diag.CFGSyntax, span, "function name %q is not an identifier", fd.Name)
			continue
		}
		if _, dup := l.funcIdx[fd.Name]; dup {
			l.errorf(diag.CFGDuplicateName, span, "function %s is declared twice", fd.Name)
			continue
		}
		canContinue := fd.CanContinue == nil || *fd.CanContinue
		id := l.b.Func(fd.Name, canContinue)
		l.b.SetFuncSpan(id, span)
		l.funcIdx[fd.Name] = i
		l.funcOf[i] = id
	}

	l.blockOf = make([]cfg.BlockID, len(l.decl.Blocks))
	for i := range l.decl.Blocks {
		bd := &l.decl.Blocks[i]
		l.blockOf[i] = cfg.NoBlockID
		bd.Name = normName(bd.Name)
		span := l.span(bd.Line, l.lines.block(i))
		if bd.Name == "" {
			l.errorf(diag.CFGSyntax, span, "block needs a name")
			continue
		}
		if _, dup := l.blockIdx[bd.Name]; dup {
			l.errorf(diag.CFGDuplicateName, span, "block %s is declared twice", bd.Name)
			continue
		}
		id := l.b.Block(bd.Name)
		l.b.SetBlockSpan(id, span)
		l.blockIdx[bd.Name] = i
		l.blockOf[i] = id
		l.blockSpans = append(l.blockSpans, span)
	}
	if len(l.decl.Blocks) == 0 {
		l.errorf(diag.CFGInvalid, l.fileStart(), "graph has no blocks")
		return
	}

	if l.decl.Entry != "" {
		if id, ok := l.block(l.decl.Entry); ok {
			l.b.SetEntry(id)
		} else {
			l.errorf(diag.CFGUnknownBlock, l.fileStart(), "entry block %s is not declared", l.decl.Entry)
		}
	}
	for i := range l.decl.Functions {
		fd := &l.decl.Functions[i]
		if l.funcOf[i] == cfg.NoFuncID {
			continue
		}
		span := l.span(fd.Line, l.lines.function(i))
		if fd.Entry == "" {
			l.errorf(diag.CFGUnknownBlock, span, "function %s has no entry block", fd.Name)
			continue
		}
		if id, ok := l.block(fd.Entry); ok {
			l.b.SetFuncEntry(l.funcOf[i], id)
		} else {
			l.errorf(diag.CFGUnknownBlock, span, "entry block %s of function %s is not declared", fd.Entry, fd.Name)
		}
	}
}

func (l *loader) block(name string) (cfg.BlockID, bool) {
	i, ok := l.blockIdx[normName(name)]
	if !ok {
		return cfg.NoBlockID, false
	}
	return l.blockOf[i], true
}

func (l *loader) function(name string) (cfg.FuncID, *funcDecl, bool) {
	i, ok := l.funcIdx[normName(name)]
	if !ok {
		return cfg.NoFuncID, nil, false
	}
	return l.funcOf[i], &l.decl.Functions[i], true
}

// owners assigns every block declaration to the entry point that reaches it
// first, main before functions. Variables are scoped by owner.
func (l *loader) owners() []cfg.FuncID {
	owner := make([]cfg.FuncID, len(l.decl.Blocks))
	seen := make([]bool, len(l.decl.Blocks))
	walk := func(start string, fn cfg.FuncID) {
		i, ok := l.blockIdx[normName(start)]
		if !ok || seen[i] {
			return
		}
		seen[i] = true
		owner[i] = fn
		queue := []int{i}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, name := range l.decl.Blocks[cur].successors() {
				next, ok := l.blockIdx[normName(name)]
				if !ok || seen[next] {
					continue
				}
				seen[next] = true
				owner[next] = fn
				queue = append(queue, next)
			}
		}
	}
	switch {
	case l.decl.Entry != "":
		walk(l.decl.Entry, cfg.NoFuncID)
	case len(l.decl.Blocks) > 0:
		walk(l.decl.Blocks[0].Name, cfg.NoFuncID)
	}
	for i := range l.decl.Functions {
		if fn := l.funcOf[i]; fn != cfg.NoFuncID {
			walk(l.decl.Functions[i].Entry, fn)
		}
	}
	for i := range owner {
		if !seen[i] {
			owner[i] = cfg.NoFuncID
		}
	}
	return owner
}

func (l *loader) scope(fn cfg.FuncID) *scope {
	sc, ok := l.scopes[fn]
	if !ok {
		sc = newScope(fn)
		l.scopes[fn] = sc
	}
	return sc
}

func (l *loader) signatures() {
	for i := range l.decl.Functions {
		fn := l.funcOf[i]
		if fn == cfg.NoFuncID {
			continue
		}
		fd := &l.decl.Functions[i]
		span := l.span(fd.Line, l.lines.function(i))
		sc := l.scope(fn)
		declare := func(names []string) []cfg.VarID {
			vars := make([]cfg.VarID, 0, len(names))
			for _, raw := range names {
				name := normName(raw)
				if !isIdent(name) {
					l.errorf(diag.CFGBadSlot, span, "%q is not a variable name", raw)
					continue
				}
				if _, dup := sc.vars[name]; dup {
					l.errorf(diag.CFGDuplicateName, span, "variable %s is declared twice in function %s", name, fd.Name)
					continue
				}
				v := l.b.Var(name, fn)
				l.b.SetVarSpan(v, span)
				sc.vars[name] = v
				vars = append(vars, v)
			}
			return vars
		}
		params := declare(fd.Params)
		returns := declare(fd.Returns)
		l.b.SetSignature(fn, params, returns)
	}
}

func (l *loader) variable(sc *scope, name string, span source.Span) cfg.VarID {
	if v, ok := sc.vars[name]; ok {
		return v
	}
	v := l.b.Var(name, sc.fn)
	l.b.SetVarSpan(v, span)
	sc.vars[name] = v
	return v
}

func (l *loader) slot(sc *scope, text string, span source.Span) (cfg.Slot, bool) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		l.errorf(diag.CFGBadSlot, span, "empty stack slot")
	case text[0] >= '0' && text[0] <= '9':
		s, err := parseLiteral(text)
		if err != nil {
			l.errorf(diag.CFGBadSlot, span, "%v", err)
			return cfg.Slot{}, false
		}
		return s, true
	case text[0] == '%':
		label, index, err := parseTemp(text)
		if err != nil {
			l.errorf(diag.CFGBadSlot, span, "%v", err)
			return cfg.Slot{}, false
		}
		def, ok := sc.temps[normName(label)]
		if !ok {
			l.errorf(diag.CFGBadSlot, span, "temporary %s is used before its operation", text)
			return cfg.Slot{}, false
		}
		if index >= def.outputs {
			l.errorf(diag.CFGBadSlot, span, "operation %s has %d result(s), %s is out of range", label, def.outputs, text)
			return cfg.Slot{}, false
		}
		return cfg.Temporary(def.op, index), true
	default:
		name := normName(text)
		if !isIdent(name) {
			l.errorf(diag.CFGBadSlot, span, "unrecognised stack slot %q", text)
			return cfg.Slot{}, false
		}
		return cfg.Variable(l.variable(sc, name, span)), true
	}
	return cfg.Slot{}, false
}

func (l *loader) slots(sc *scope, texts []string, span source.Span) ([]cfg.Slot, bool) {
	out := make([]cfg.Slot, 0, len(texts))
	ok := true
	for _, t := range texts {
		s, good := l.slot(sc, t, span)
		ok = ok && good
		out = append(out, s)
	}
	return out, ok
}

func (l *loader) fillBlock(i int, owner cfg.FuncID) {
	blk := l.blockOf[i]
	if blk == cfg.NoBlockID {
		return
	}
	bd := &l.decl.Blocks[i]
	sc := l.scope(owner)
	for j := range bd.Ops {
		l.addOp(blk, sc, &bd.Ops[j], l.span(bd.Ops[j].Line, l.lines.op(i, j)))
	}
	l.setExit(blk, sc, bd, l.span(bd.Line, l.lines.block(i)))
}

func (l *loader) addOp(blk cfg.BlockID, sc *scope, od *opDecl, span source.Span) {
	kinds := 0
	for _, set := range []bool{od.Builtin != "", od.Call != "", od.Assign != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		l.errorf(diag.CFGSyntax, span, "operation needs exactly one of builtin, call or assign")
		return
	}
	label := normName(od.ID)
	if label != "" {
		if !isIdent(label) {
			l.errorf(diag.CFGSyntax, span, "operation id %q is not an identifier", od.ID)
			return
		}
		if _, dup := sc.temps[label]; dup {
			l.errorf(diag.CFGDuplicateName, span, "operation id %s is used twice", label)
			return
		}
	}

	var (
		op      cfg.OpID
		outputs int
	)
	switch {
	case od.Builtin != "":
		if len(od.Args) > 0 {
			l.errorf(diag.CFGSyntax, span, "builtin %s takes in, not args", od.Builtin)
			return
		}
		if od.Out < 0 {
			l.errorf(diag.CFGSyntax, span, "builtin %s has a negative result count", od.Builtin)
			return
		}
		in, ok := l.slots(sc, od.In, span)
		if !ok {
			return
		}
		op = l.b.Builtin(blk, strings.TrimSpace(od.Builtin), in, od.Out, span)
		outputs = od.Out
	case od.Call != "":
		fn, fd, ok := l.function(od.Call)
		if !ok || fn == cfg.NoFuncID {
			l.errorf(diag.CFGUnknownFunction, span, "call of undeclared function %s", od.Call)
			return
		}
		if len(od.In) > 0 {
			l.errorf(diag.CFGSyntax, span, "call of %s takes args, not in", fd.Name)
			return
		}
		if fd.CanContinue == nil || *fd.CanContinue {
			outputs = len(fd.Returns)
		}
		if od.Out != 0 && od.Out != outputs {
			l.errorf(diag.CFGInvalid, span, "call of %s yields %d value(s), not %d", fd.Name, outputs, od.Out)
			return
		}
		args, ok := l.slots(sc, od.Args, span)
		if !ok {
			return
		}
		op = l.b.Call(blk, fn, args, span)
	default:
		if len(od.Assign) != len(od.In) {
			l.errorf(diag.CFGInvalid, span, "assignment of %d variable(s) from %d value(s)", len(od.Assign), len(od.In))
			return
		}
		values, ok := l.slots(sc, od.In, span)
		if !ok {
			return
		}
		vars := make([]cfg.VarID, 0, len(od.Assign))
		for _, raw := range od.Assign {
			name := normName(raw)
			if !isIdent(name) {
				l.errorf(diag.CFGBadSlot, span, "%q is not a variable name", raw)
				return
			}
			vars = append(vars, l.variable(sc, name, span))
		}
		op = l.b.Assign(blk, vars, values, span)
	}
	if label != "" {
		l.b.SetOpLabel(op, label)
		sc.temps[label] = tempDef{op: op, outputs: outputs}
	}
}

func (l *loader) setExit(blk cfg.BlockID, sc *scope, bd *blockDecl, span source.Span) {
	exits := 0
	for _, set := range []bool{bd.Exit != "", bd.Jump != "", bd.Return != "", bd.Branch != nil} {
		if set {
			exits++
		}
	}
	if exits > 1 {
		l.errorf(diag.CFGSyntax, span, "block %s has more than one exit", bd.Name)
		return
	}
	switch {
	case bd.Exit != "":
		switch strings.TrimSpace(bd.Exit) {
		case "main":
			l.b.MainExit(blk)
		case "terminated":
			l.b.Terminate(blk)
		default:
			l.errorf(diag.CFGSyntax, span, "exit must be \"main\" or \"terminated\", not %q", bd.Exit)
		}
	case bd.Jump != "":
		if target, ok := l.block(bd.Jump); ok {
			l.b.Jump(blk, target)
		} else {
			l.errorf(diag.CFGUnknownBlock, span, "jump to undeclared block %s", bd.Jump)
		}
	case bd.Return != "":
		if fn, _, ok := l.function(bd.Return); ok && fn != cfg.NoFuncID {
			l.b.Return(blk, fn)
		} else {
			l.errorf(diag.CFGUnknownFunction, span, "return from undeclared function %s", bd.Return)
		}
	case bd.Branch != nil:
		cond, ok := l.slot(sc, bd.Branch.Cond, span)
		nonZero, nzOK := l.block(bd.Branch.NonZero)
		if !nzOK {
			l.errorf(diag.CFGUnknownBlock, span, "branch to undeclared block %s", bd.Branch.NonZero)
		}
		zero, zOK := l.block(bd.Branch.Zero)
		if !zOK {
			l.errorf(diag.CFGUnknownBlock, span, "branch to undeclared block %s", bd.Branch.Zero)
		}
		if ok && nzOK && zOK {
			l.b.CondJump(blk, cond, nonZero, zero)
		}
	}
}

func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

func (l *loader) reportGraphErrors(err error) {
	for _, e := range flatten(err) {
		var be *cfg.BlockError
		if !errors.As(e, &be) {
			l.errorf(diag.CFGInvalid, l.fileStart(), "%v", e)
			continue
		}
		code := diag.CFGInvalid
		switch be.Kind {
		case cfg.BlockErrMissingExit:
			code = diag.CFGMissingExit
		case cfg.BlockErrConditionalLoop:
			code = diag.CFGConditionalLoop
		}
		span := l.fileStart()
		if int(be.Block) < len(l.blockSpans) {
			span = l.blockSpans[be.Block]
		}
		l.errorf(code, span, "%v", be)
	}
}

func (l *loader) warnUnreachable(g *cfg.Graph) {
	owners, _ := cfg.Owners(g)
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		if _, ok := owners[blk.ID]; ok {
			continue
		}
		diag.ReportWarning(l.r, diag.CFGUnreachableBlock, blk.Span,
			fmt.Sprintf("block %s is never reached", blk.Name)).Emit()
	}
}
