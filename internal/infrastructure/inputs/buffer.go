package inputs

import (
	"context"
	"errors"
)

// ErrBufferFull is returned by Insert when the buffer cannot take more work
// right now. Inputs should report it as back-pressure, not as a bad payload.
var ErrBufferFull = errors.New("input buffer full")

// InputBuffer receives raw event payloads from inputs. A payload is one JSON
// error event or a JSON array of them; decoding happens behind the buffer.
type InputBuffer interface {
	Insert(ctx context.Context, payload []byte) error
}
