package signature

import (
	"errors"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
)

const (
	maxUnwrapDepth = 64
	maxStackDepth  = 32
)

// RootCause follows the wrap chain of err to its innermost error.
// For joined errors the first branch is followed. Cycles stop the walk.
func RootCause(err error) error {
	c := chain(err)
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

// chain lists err and everything it wraps, outermost first.
func chain(err error) []error {
	var out []error
	seen := make(map[error]struct{})
	for current := err; current != nil && len(out) < maxUnwrapDepth; current = unwrapOne(current) {
		if reflect.TypeOf(current).Kind() == reflect.Pointer {
			if _, ok := seen[current]; ok {
				break
			}
			seen[current] = struct{}{}
		}
		out = append(out, current)
	}
	return out
}

func unwrapOne(err error) error {
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return u.Unwrap()
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if e != nil {
				return e
			}
		}
	}
	return nil
}

// ExtractError returns the type name of err's root cause and the frames of the
// innermost error in the chain that carries a stack.
func ExtractError(err error) (className string, frames []StackFrame) {
	c := chain(err)
	if len(c) == 0 {
		return UnknownException, nil
	}
	className = TypeName(c[len(c)-1])
	for i := len(c) - 1; i >= 0; i-- {
		if fs, ok := stackOf(c[i]); ok {
			return className, fs
		}
	}
	return className, nil
}

func stackOf(err error) ([]StackFrame, bool) {
	switch s := err.(type) {
	case interface{ StackFrames() []StackFrame }:
		return s.StackFrames(), true
	case interface{ Callers() []uintptr }:
		return FramesFromCallers(s.Callers()), true
	}
	return nil, false
}

// TypeName renders the dynamic type of err as "import/path.Type".
func TypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// FramesFromCallers converts program counters into frames. Function names are
// split so that "pkg.(*T).Method" becomes class "pkg.(*T)" and method "Method".
func FramesFromCallers(pcs []uintptr) []StackFrame {
	if len(pcs) == 0 {
		return nil
	}
	frames := make([]StackFrame, 0, len(pcs))
	callers := runtime.CallersFrames(pcs)
	for {
		fr, more := callers.Next()
		if fr.Function != "" {
			frames = append(frames, goFrame(fr))
		}
		if !more {
			break
		}
	}
	return frames
}

func goFrame(fr runtime.Frame) StackFrame {
	fn := fr.Function
	pkgEnd := strings.LastIndex(fn, "/") + 1
	f := StackFrame{ClassName: fn, MethodName: unknownMethod, LineNumber: UnknownLine}
	if dot := strings.LastIndex(fn[pkgEnd:], "."); dot > 0 {
		f.ClassName = fn[:pkgEnd+dot]
		f.MethodName = fn[pkgEnd+dot+1:]
	}
	if fr.File != "" {
		f.FileName = filepath.Base(fr.File)
	}
	if fr.Line > 0 {
		f.LineNumber = fr.Line
	}
	return f
}

type stackError struct {
	err error
	pcs []uintptr
}

func (e *stackError) Error() string      { return e.err.Error() }
func (e *stackError) Unwrap() error      { return e.err }
func (e *stackError) Callers() []uintptr { return e.pcs }

// WithStack records the caller's stack on err. Returns nil for nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var existing *stackError
	if errors.As(err, &existing) {
		return err
	}
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2, pcs)
	return &stackError{err: err, pcs: pcs[:n]}
}
