package kafkainput

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/akave-ai/incidentd/internal/infrastructure/inputs"
)

const defaultGroup = "incidentd"

func init() {
	inputs.GlobalRegistry.Register(&Factory{})
}

// Factory creates Kafka consumer inputs. Registers as "kafka".
type Factory struct{}

func (f *Factory) Name() string {
	return "kafka"
}

func (f *Factory) ConfigSpec() inputs.InputTypeInfo {
	return inputs.InputTypeInfo{
		Type:        "kafka",
		Description: "Kafka/Redpanda consumer group. Each record value is a JSON error event or an array of them.",
		Fields: []inputs.ConfigField{
			{Name: "brokers", Type: "list", Required: true, Description: "Seed broker addresses", Example: "localhost:19092"},
			{Name: "topic", Type: "string", Required: true, Description: "Topic to consume", Example: "error-events"},
			{Name: "group", Type: "string", Required: false, Description: "Consumer group id", Example: defaultGroup},
			{Name: "start", Type: "string", Required: false, Description: "Where a new group starts: earliest or latest", Example: "earliest"},
		},
	}
}

// ValidateConfig rejects an unknown start position.
func (f *Factory) ValidateConfig(cfg inputs.Config) error {
	switch cfg.String("start") {
	case "", "earliest", "latest":
		return nil
	default:
		return fmt.Errorf("kafka input: start must be earliest or latest, got %q", cfg.String("start"))
	}
}

// Create builds an Input from a validated config.
func (f *Factory) Create(cfg inputs.Config, buffer inputs.InputBuffer, logger zerolog.Logger) (inputs.MessageInput, error) {
	group := cfg.String("group")
	if group == "" {
		group = defaultGroup
	}
	return NewInput(Options{
		Brokers:    cfg.Strings("brokers"),
		Topic:      cfg.String("topic"),
		Group:      group,
		FromLatest: cfg.String("start") == "latest",
	}, buffer, logger), nil
}
