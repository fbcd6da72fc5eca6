package runner

import "context"

// Canceller is polled by the drain loop; returning true stops the child.
type Canceller interface {
	ShouldCancel() bool
}

// CancelFunc adapts a plain function to Canceller.
type CancelFunc func() bool

func (f CancelFunc) ShouldCancel() bool { return f() }

// ContextCanceller cancels once Ctx is done.
type ContextCanceller struct {
	Ctx context.Context
}

func (c ContextCanceller) ShouldCancel() bool {
	return c.Ctx.Err() != nil
}
