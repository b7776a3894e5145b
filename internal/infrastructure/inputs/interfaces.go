package inputs

import (
	"context"
	"net/http"
)

// MessageInput is the minimal interface implemented by all input types.
// Start must not block; Stop releases whatever Start acquired.
type MessageInput interface {
	Start(ctx context.Context) error
	Stop() error
}

// HTTPEndpointInput is implemented by inputs that expose an HTTP endpoint.
// They provide a path and handler that can be mounted on any HTTP router.
type HTTPEndpointInput interface {
	MessageInput
	Path() string
	Handler() http.Handler
}
