package abi

import "strings"

// ResultCode is the two-bit dispatch result handed back to the host:
// bit 1 is preventDefault, bit 0 is stopPropagation.
type ResultCode uint32

const (
	StopPropagation ResultCode = 1 << 0
	PreventDefault  ResultCode = 1 << 1
)

// NewResultCode packs the two flags.
func NewResultCode(preventDefault, stopPropagation bool) ResultCode {
	var c ResultCode
	if preventDefault {
		c |= PreventDefault
	}
	if stopPropagation {
		c |= StopPropagation
	}
	return c
}

// PreventDefault reports whether the host should suppress the default action.
func (c ResultCode) PreventDefault() bool {
	return c&PreventDefault != 0
}

// StopPropagation reports whether the host should stop event propagation.
func (c ResultCode) StopPropagation() bool {
	return c&StopPropagation != 0
}

func (c ResultCode) String() string {
	var parts []string
	if c.PreventDefault() {
		parts = append(parts, "preventDefault")
	}
	if c.StopPropagation() {
		parts = append(parts, "stopPropagation")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
