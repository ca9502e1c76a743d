package cfgfile

// fileDecl mirrors the TOML graph description.
type fileDecl struct {
	Entry     string      `toml:"entry"`
	Functions []funcDecl  `toml:"function"`
	Blocks    []blockDecl `toml:"block"`
}

type funcDecl struct {
	Name        string   `toml:"name"`
	Params      []string `toml:"params"`
	Returns     []string `toml:"returns"`
	Entry       string   `toml:"entry"`
	CanContinue *bool    `toml:"can_continue"`
	Line        uint32   `toml:"line"`
}

type blockDecl struct {
	Name string `toml:"name"`

	// Exactly one of Exit, Jump, Return and Branch is set.
	Exit   string      `toml:"exit"`
	Jump   string      `toml:"jump"`
	Return string      `toml:"return"`
	Branch *branchDecl `toml:"branch"`

	Ops  []opDecl `toml:"op"`
	Line uint32   `toml:"line"`
}

type branchDecl struct {
	Cond    string `toml:"cond"`
	NonZero string `toml:"nonzero"`
	Zero    string `toml:"zero"`
}

type opDecl struct {
	ID string `toml:"id"`

	Builtin string   `toml:"builtin"`
	Call    string   `toml:"call"`
	Assign  []string `toml:"assign"`

	// In is bottom first for builtins and the assigned values for assign.
	In []string `toml:"in"`
	// Args are call arguments in call order.
	Args []string `toml:"args"`
	Out  int      `toml:"out"`
	Line uint32   `toml:"line"`
}

// successors returns the names of the blocks the exit may jump to.
func (b *blockDecl) successors() []string {
	switch {
	case b.Jump != "":
		return []string{b.Jump}
	case b.Branch != nil:
		return []string{b.Branch.NonZero, b.Branch.Zero}
	}
	return nil
}
