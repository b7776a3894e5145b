package inputs

import "strings"

// InputSpec describes an input instance to be created at startup.
type InputSpec struct {
	Type        string
	Description string
	Config      Config
}

// ConfigWithDescription returns a copy of Config with description set.
func (s InputSpec) ConfigWithDescription() Config {
	cfg := make(Config, len(s.Config)+1)
	for k, v := range s.Config {
		cfg[k] = v
	}
	if s.Description != "" {
		cfg["description"] = s.Description
	}
	return cfg
}

// HTTPSpecs turns endpoint names like "app" or "payments" into http input
// specs mounted under basePath.
func HTTPSpecs(basePath string, names []string) []InputSpec {
	specs := make([]InputSpec, 0, len(names))
	for _, name := range names {
		name = strings.Trim(strings.TrimSpace(name), "/")
		if name == "" {
			continue
		}
		specs = append(specs, InputSpec{
			Type:        "http",
			Description: name,
			Config:      Config{"base_path": basePath},
		})
	}
	return specs
}
