package httpinput

import (
	"github.com/rs/zerolog"

	"github.com/akave-ai/incidentd/internal/infrastructure/inputs"
)

const defaultBasePath = "/ingest"

func init() {
	inputs.GlobalRegistry.Register(&Factory{})
}

// Factory creates HTTP ingest inputs. Registers as "http".
type Factory struct{}

func (f *Factory) Name() string {
	return "http"
}

func (f *Factory) ConfigSpec() inputs.InputTypeInfo {
	return inputs.InputTypeInfo{
		Type:        "http",
		Description: "HTTP ingest endpoint. Accepts a JSON error event or an array of them and queues them for deduplication. Mounted on the main server unless it binds its own port.",
		Fields: []inputs.ConfigField{
			{Name: "description", Type: "string", Required: true, Description: "Path segment for the endpoint (e.g. 'app' → /ingest/app)", Example: "app"},
			{Name: "base_path", Type: "string", Required: false, Description: "Base path prefix", Example: "/ingest"},
			{Name: "listen", Type: "string", Required: false, Description: "Optional host:port to bind instead of mounting on the main server", Example: ":9001"},
		},
	}
}

func (f *Factory) Create(cfg inputs.Config, buffer inputs.InputBuffer, logger zerolog.Logger) (inputs.MessageInput, error) {
	basePath := cfg.String("base_path")
	if basePath == "" {
		basePath = defaultBasePath
	}
	return NewInput(basePath, cfg.String("description"), buffer, cfg.String("listen"), logger), nil
}
