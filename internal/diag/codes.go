package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// input files
	IOInfo          Code = 1000
	IOLoadFileError Code = 1001
	IOConfigError   Code = 1002
	IOCacheError    Code = 1003

	// control flow graph description
	CFGInfo             Code = 2000
	CFGSyntax           Code = 2001
	CFGUnknownBlock     Code = 2002
	CFGUnknownFunction  Code = 2003
	CFGBadSlot          Code = 2004
	CFGDuplicateName    Code = 2005
	CFGInvalid          Code = 2006
	CFGMissingExit      Code = 2007
	CFGConditionalLoop  Code = 2008
	CFGUnreachableBlock Code = 2009

	// stack layout
	LayoutInfo            Code = 3000
	LayoutStackTooDeep    Code = 3001
	LayoutVariableSpilled Code = 3002
	LayoutSpillExhausted  Code = 3003
	LayoutInternal        Code = 3004

	ObsInfo    Code = 6000
	ObsTimings Code = 6001
)

var (
	codeDescription = map[Code]string{
		UnknownCode:           "Unknown error",
		IOInfo:                "I/O information",
		IOLoadFileError:       "I/O load file error",
		IOConfigError:         "invalid configuration",
		IOCacheError:          "result cache unavailable",
		CFGInfo:               "Control flow graph information",
		CFGSyntax:             "malformed graph description",
		CFGUnknownBlock:       "reference to an undeclared block",
		CFGUnknownFunction:    "reference to an undeclared function",
		CFGBadSlot:            "unrecognised stack slot",
		CFGDuplicateName:      "duplicate name",
		CFGInvalid:            "invalid control flow graph",
		CFGMissingExit:        "block has no exit",
		CFGConditionalLoop:    "conditional jump closes a loop",
		CFGUnreachableBlock:   "block is unreachable",
		LayoutInfo:            "Stack layout information",
		LayoutStackTooDeep:    "stack too deep",
		LayoutVariableSpilled: "variable moved to memory",
		LayoutSpillExhausted:  "no variable left to move to memory",
		LayoutInternal:        "internal layout error",
		ObsInfo:               "Observability information",
		ObsTimings:            "Pipeline timings",
	}
)

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("CFG%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("LAY%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
