// Package signature turns stack traces into stable incident fingerprints.
package signature

import (
	"regexp"
	"strconv"
	"strings"
)

// UnknownLine marks a frame whose line number could not be read.
const UnknownLine = -1

// UnknownException is reported when a trace has no header line.
const UnknownException = "UnknownException"

const (
	unknownMethod = "unknown"
	threadPrefix  = "Exception in thread"
)

var (
	lineSplit = regexp.MustCompile(`\r?\n`)
	framePat  = regexp.MustCompile(`^\s*at\s+(.+)\((.+)\)$`)
)

// StackFrame is one call-site in a trace.
type StackFrame struct {
	ClassName  string `json:"class_name"`
	MethodName string `json:"method_name"`
	FileName   string `json:"file_name,omitempty"`
	LineNumber int    `json:"line_number"`
}

// ParseStacktrace reads a textual trace in the conventional
// "Header\n\tat pkg.Class.method(File:line)" layout.
// Lines that do not look like frames are skipped.
func ParseStacktrace(text string) (className string, frames []StackFrame) {
	lines := nonBlankLines(text)
	if len(lines) == 0 {
		return UnknownException, nil
	}

	className = headerClass(strings.TrimSpace(lines[0]))
	for _, line := range lines[1:] {
		m := framePat.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		frames = append(frames, parseFrame(strings.TrimSpace(m[1]), strings.TrimSpace(m[2])))
	}
	return className, frames
}

func nonBlankLines(text string) []string {
	raw := lineSplit.Split(text, -1)
	out := raw[:0]
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func headerClass(header string) string {
	if strings.Contains(header, threadPrefix) {
		// the last token wins, so a trailing message is taken as the class
		if sp := strings.LastIndex(header, " "); sp > 0 && sp < len(header)-1 {
			return strings.TrimSpace(header[sp+1:])
		}
	}
	if idx := strings.Index(header, ":"); idx >= 0 {
		return strings.TrimSpace(header[:idx])
	}
	return header
}

func parseFrame(methodRef, location string) StackFrame {
	f := StackFrame{LineNumber: UnknownLine}

	if dot := strings.LastIndex(methodRef, "."); dot > 0 {
		f.ClassName = methodRef[:dot]
		f.MethodName = methodRef[dot+1:]
	} else {
		f.ClassName = methodRef
		f.MethodName = unknownMethod
	}

	if colon := strings.LastIndex(location, ":"); colon > 0 {
		f.FileName = location[:colon]
		if n, err := strconv.Atoi(location[colon+1:]); err == nil {
			f.LineNumber = n
		}
	} else {
		f.FileName = location
	}
	return f
}
