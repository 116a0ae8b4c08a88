package protocol

// Line protocol spoken by the bridge host: one JSON object per line, events
// in and results out. Payloads are passed to the core as raw bytes.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Result code bits, matching the core's output record.
const (
	CodeStopPropagation uint8 = 1 << 0
	CodePreventDefault  uint8 = 1 << 1
)

// Event asks the host to dispatch Payload to Handler, or to re-run init
// with Payload when Init is set.
type Event struct {
	Handler uint32          `json:"handler"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Init    bool            `json:"init,omitempty"`
}

// Result reports the outcome of one event.
type Result struct {
	Code            uint8  `json:"code"`
	PreventDefault  bool   `json:"preventDefault"`
	StopPropagation bool   `json:"stopPropagation"`
	State           uint32 `json:"state"`
	Error           string `json:"error,omitempty"`
}

// NewResult unpacks a result code.
func NewResult(code uint8, state uint32) Result {
	return Result{
		Code:            code,
		PreventDefault:  code&CodePreventDefault != 0,
		StopPropagation: code&CodeStopPropagation != 0,
		State:           state,
	}
}

// ErrorResult reports a failed event.
func ErrorResult(err error) Result {
	return Result{Error: err.Error()}
}

var errEmptyLine = errors.New("empty event line")

// ParseEvent decodes one event line. Unknown fields are rejected.
func ParseEvent(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, errEmptyLine
	}

	var ev Event
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}
	if dec.More() {
		return Event{}, errors.New("invalid event: trailing data")
	}
	return ev, nil
}

// IsEmpty reports whether err came from a blank line.
func IsEmpty(err error) bool {
	return errors.Is(err, errEmptyLine)
}
