package imagery

import "context"

// Pool bounds the number of concurrent transcode operations across all
// requests. A request blocks until a slot frees or its context is done;
// once a transcode has started it runs to completion (no mid-operation
// cancellation).
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool with n slots (minimum 1).
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: make(chan struct{}, n)}
}

// Do runs fn in a pool slot, waiting for one if the pool is saturated.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}
