package signature

import "strings"

// Filter drops frames whose class name starts with any of its prefixes.
type Filter struct {
	Name     string
	Prefixes []string
}

// Match reports whether className belongs to the filtered set. A bare package
// such as "runtime" matches the prefix "runtime.".
func (f Filter) Match(className string) bool {
	qualified := className + "."
	for _, p := range f.Prefixes {
		if strings.HasPrefix(qualified, p) {
			return true
		}
	}
	return false
}

var (
	// StdlibFilter covers language runtime frames (JVM and Go).
	StdlibFilter = Filter{
		Name:     "stdlib",
		Prefixes: []string{"java.", "jdk.", "sun.", "runtime.", "reflect.", "testing."},
	}
	// FrameworkFilter covers web framework plumbing.
	FrameworkFilter = Filter{
		Name:     "framework",
		Prefixes: []string{"org.springframework.", "github.com/labstack/echo/"},
	}
)
