package pipeline

import "context"

// Processing handles one payload. Live update handlers implement it so they
// can be composed with the decorators in this package.
type Processing[Payload any] interface {
	Process(context.Context, Payload) error
}

// ProcessingFunc adapts a function to the Processing interface.
type ProcessingFunc[Payload any] func(context.Context, Payload) error

func (f ProcessingFunc[Payload]) Process(ctx context.Context, payload Payload) error {
	return f(ctx, payload)
}
