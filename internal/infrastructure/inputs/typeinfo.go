package inputs

// ConfigField describes one configuration field for an input type.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "bool", "list"
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
}

// InputTypeInfo describes an input type and the configuration it expects.
// Returned by Factory.ConfigSpec() and exposed via GET /api/v1/inputs/types.
type InputTypeInfo struct {
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Fields      []ConfigField `json:"fields"`
}

// Missing returns the names of required fields that cfg leaves empty.
func (info InputTypeInfo) Missing(cfg Config) []string {
	var missing []string
	for _, f := range info.Fields {
		if !f.Required {
			continue
		}
		if f.Type == "list" {
			if len(cfg.Strings(f.Name)) == 0 {
				missing = append(missing, f.Name)
			}
			continue
		}
		if cfg.String(f.Name) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
