package inputs

import "strings"

// Config is a key-value map for input-type-specific configuration.
// Values arrive from JSON or the environment, so lists may be a JSON array
// or a comma-separated string.
type Config map[string]any

// String returns the string value at key, or "" when missing or not a string.
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return strings.TrimSpace(s)
}

// Strings returns key as a list.
func (c Config) Strings(key string) []string {
	var raw []string
	switch v := c[key].(type) {
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(v, ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
