package diagnostics

import (
	"regexp"
	"strconv"
	"strings"
)

// StackFrame is one parsed frame of a V8-style stack trace.
type StackFrame struct {
	Function string
	File     string
	Line     int
	Column   int
}

// frameRe matches "at fn (file:line:col)" and the bare "at file:line:col"
// form used for anonymous top-level code.
var frameRe = regexp.MustCompile(`^\s*at\s+(?:(.+?)\s+\()?(.+?):(\d+):(\d+)\)?\s*$`)

// ParseFrames extracts the frames from a raw stack trace. Lines that do
// not look like frames, including the leading message line, are
// skipped.
func ParseFrames(stack string) []StackFrame {
	var frames []StackFrame
	for _, line := range strings.Split(stack, "\n") {
		m := frameRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		col, err := strconv.Atoi(m[4])
		if err != nil {
			continue
		}
		frames = append(frames, StackFrame{
			Function: m[1],
			File:     m[2],
			Line:     lineNo,
			Column:   col,
		})
	}
	return frames
}

// TopFrame returns the first parseable frame, or false when the stack
// carries none.
func TopFrame(stack string) (StackFrame, bool) {
	frames := ParseFrames(stack)
	if len(frames) == 0 {
		return StackFrame{}, false
	}
	return frames[0], true
}
