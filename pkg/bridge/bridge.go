package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Error is the single failure shape surfaced by bridged operations.
type Error struct {
	Op     string
	Reader string
	Err    error
}

func (e *Error) Error() string {
	if e.Reader != "" {
		return fmt.Sprintf("%s (%s): %s", e.Op, e.Reader, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Normalize wraps err in an *Error unless it already is one.
func Normalize(op string, reader string, err error) error {
	if err == nil {
		return nil
	}

	var be *Error
	if errors.As(err, &be) {
		return err
	}

	return &Error{Op: op, Reader: reader, Err: err}
}

// Future holds the outcome of one backend operation. It completes exactly
// once.
type Future[T any] struct {
	op     string
	reader string
	done   chan struct{}
	val    T
	err    error
}

// Go runs fn on its own goroutine and returns a future for its result. A
// panic inside fn completes the future with an *Error.
func Go[T any](
	ctx context.Context,
	op string,
	reader string,
	fn func(context.Context) (T, error),
) *Future[T] {
	f := &Future[T]{
		op:     op,
		reader: reader,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.val = zero
				f.err = &Error{Op: op, Reader: reader, Err: fmt.Errorf("panic: %v", r)}
			}
		}()

		v, err := fn(ctx)
		f.val = v
		f.err = Normalize(op, reader, err)
	}()

	return f
}

// Done is closed when the operation has completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the operation completes or ctx is cancelled. A
// cancelled wait does not stop the underlying operation; its result is
// discarded.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, Normalize(f.op, f.reader, ctx.Err())
	}
}

// Call is Go followed by Await on the same context.
func Call[T any](
	ctx context.Context,
	op string,
	reader string,
	fn func(context.Context) (T, error),
) (T, error) {
	return Go(ctx, op, reader, fn).Await(ctx)
}
