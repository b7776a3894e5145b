package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/akave-ai/incidentd/internal/model"
)

const unknownSource = "Unknown Source"

// Config controls which frames make it into a signature and how they are rendered.
type Config struct {
	TopFrames             int
	IncludeLineNumber     bool
	FilterStdlibFrames    bool
	FilterFrameworkFrames bool

	// ExtraFilters are always applied.
	ExtraFilters []Filter
}

// DefaultConfig keeps five frames, drops line numbers and filters runtime frames.
func DefaultConfig() Config {
	return Config{
		TopFrames:          5,
		IncludeLineNumber:  false,
		FilterStdlibFrames: true,
	}
}

// Signature is the fingerprint of one failure shape. Immutable.
type Signature struct {
	className string
	frames    []string
	canonical string
	hash      string
}

// ExceptionClassName is the class the signature was built for.
func (s Signature) ExceptionClassName() string { return s.className }

// Frames returns a copy of the formatted frames.
func (s Signature) Frames() []string {
	out := make([]string, len(s.frames))
	copy(out, s.frames)
	return out
}

// Canonical is the class name and frames joined by newlines.
func (s Signature) Canonical() string { return s.canonical }

// Hash is the lowercase hex SHA-256 of Canonical.
func (s Signature) Hash() string { return s.hash }

// Builder computes signatures for a fixed Config. Safe for concurrent use.
type Builder struct {
	cfg     Config
	filters []Filter
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.TopFrames <= 0 {
		return nil, fmt.Errorf("top frames must be positive, got %d: %w", cfg.TopFrames, model.ErrInvalidArgument)
	}
	var filters []Filter
	if cfg.FilterStdlibFrames {
		filters = append(filters, StdlibFilter)
	}
	if cfg.FilterFrameworkFrames {
		filters = append(filters, FrameworkFilter)
	}
	filters = append(filters, cfg.ExtraFilters...)
	return &Builder{cfg: cfg, filters: filters}, nil
}

// Config returns the builder's configuration.
func (b *Builder) Config() Config { return b.cfg }

// FromStacktrace parses text and fingerprints it.
func (b *Builder) FromStacktrace(text string) Signature {
	className, frames := ParseStacktrace(text)
	return b.FromFrames(className, frames)
}

// FromError fingerprints the root cause of err.
func (b *Builder) FromError(err error) Signature {
	className, frames := ExtractError(err)
	return b.FromFrames(className, frames)
}

// FromFrames filters, truncates and hashes already-extracted frames.
func (b *Builder) FromFrames(className string, frames []StackFrame) Signature {
	formatted := make([]string, 0, b.cfg.TopFrames)
	for _, f := range frames {
		if b.filtered(f.ClassName) {
			continue
		}
		formatted = append(formatted, b.format(f))
		if len(formatted) >= b.cfg.TopFrames {
			break
		}
	}

	canonical := className + "\n" + strings.Join(formatted, "\n")
	sum := sha256.Sum256([]byte(canonical))
	return Signature{
		className: className,
		frames:    formatted,
		canonical: canonical,
		hash:      hex.EncodeToString(sum[:]),
	}
}

func (b *Builder) filtered(className string) bool {
	for _, f := range b.filters {
		if f.Match(className) {
			return true
		}
	}
	return false
}

func (b *Builder) format(f StackFrame) string {
	file := f.FileName
	if file == "" {
		file = unknownSource
	}
	var sb strings.Builder
	sb.WriteString(f.ClassName)
	sb.WriteByte('#')
	sb.WriteString(f.MethodName)
	sb.WriteByte('(')
	sb.WriteString(file)
	if b.cfg.IncludeLineNumber {
		sb.WriteByte(':')
		if f.LineNumber >= 0 {
			sb.WriteString(strconv.Itoa(f.LineNumber))
		} else {
			sb.WriteByte('?')
		}
	}
	sb.WriteByte(')')
	return sb.String()
}
