package headless

import "context"

// Noop implements Renderer when PNG export is disabled.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Capture always returns ErrDisabled.
func (Noop) Capture(_ context.Context, _ []byte) ([]byte, error) {
	return nil, ErrDisabled
}
