package cfgfile

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"

	"evmstack/internal/cfg"
)

// normName returns the NFC form of a declared name.
func normName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && (r == '.' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)):
		default:
			return false
		}
	}
	return true
}

func parseLiteral(s string) (cfg.Slot, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return cfg.Slot{}, fmt.Errorf("malformed literal %q", s)
	}
	if n.Sign() < 0 {
		return cfg.Slot{}, fmt.Errorf("negative literal %q", s)
	}
	v, overflow := uint256.FromBig(n)
	if overflow {
		return cfg.Slot{}, fmt.Errorf("literal %q does not fit in 256 bits", s)
	}
	return cfg.Literal(v), nil
}

// scope resolves names inside the blocks of one entry point.
type scope struct {
	fn    cfg.FuncID
	vars  map[string]cfg.VarID
	temps map[string]tempDef
}

// tempDef is a labelled operation whose results can be referenced.
type tempDef struct {
	op      cfg.OpID
	outputs int
}

func newScope(fn cfg.FuncID) *scope {
	return &scope{
		fn:    fn,
		vars:  make(map[string]cfg.VarID),
		temps: make(map[string]tempDef),
	}
}

// parseTemp splits "%label" or "%label.N".
func parseTemp(s string) (label string, index int, err error) {
	label = s[1:]
	if dot := strings.LastIndexByte(label, '.'); dot >= 0 {
		if n, convErr := strconv.Atoi(label[dot+1:]); convErr == nil {
			label, index = label[:dot], n
		}
	}
	if label == "" {
		return "", 0, fmt.Errorf("temporary %q has no label", s)
	}
	if index < 0 {
		return "", 0, fmt.Errorf("temporary %q has a negative index", s)
	}
	return label, index, nil
}
