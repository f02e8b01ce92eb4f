// Package stream implements the lazy, single-consumer message stream
// described in spec §4.A: a possibly-infinite sequence of typed values
// where pulling the next value may block, and where a consumed value can
// never be re-read.
//
// Go has no persistent cons-cell idiom worth fighting for here; this
// teacher's own codebase exposes exactly this kind of lazy, single-reader
// sequence as a receive-only channel (Circuit.Reads <-chan *Fragment in
// fragment.go) rather than a head/tail pair, so Stream follows suit: one
// pull method, Next, that blocks until a value is ready, an error occurs,
// or the stream is exhausted.
package stream

import "context"

// Stream is a lazy, non-restartable sequence of T. Forking two readers on
// one Stream is undefined, per spec §3 — Stream does not guard against it.
type Stream[T any] interface {
	// Next blocks until a value is available, ctx is done, or the stream
	// ends. The first call that returns ok=false ends the stream; every
	// subsequent Next call also returns ok=false.
	Next(ctx context.Context) (val T, ok bool)

	// Err returns the error that ended the stream, if any. It is only
	// meaningful after Next has returned ok=false.
	Err() error
}

// chanStream adapts a channel (plus a separately-closed error slot) into
// a Stream. Node.Subscribe uses it to expose a Subscription's bounded
// input buffer; a producer that owns the channel sets the *error right
// before it stops sending.
type chanStream[T any] struct {
	ch   <-chan T
	err  *error
	done bool
}

// FromChannel wraps ch as a Stream. errSlot, if non-nil, is read once the
// channel is drained and closed, and becomes Err()'s return value — the
// producer must write to *errSlot strictly before closing ch.
func FromChannel[T any](ch <-chan T, errSlot *error) Stream[T] {
	return &chanStream[T]{ch: ch, err: errSlot}
}

func (s *chanStream[T]) Next(ctx context.Context) (T, bool) {
	if s.done {
		var zero T
		return zero, false
	}
	select {
	case v, ok := <-s.ch:
		if !ok {
			s.done = true
			var zero T
			return zero, false
		}
		return v, true
	case <-ctx.Done():
		s.done = true
		var zero T
		return zero, false
	}
}

func (s *chanStream[T]) Err() error {
	if s.err == nil {
		return nil
	}
	return *s.err
}

// genFunc is a direct-producer Stream: each Next call invokes next ()
// synchronously rather than handing off across a channel. Useful for
// advertising a pure in-process generator (e.g. a counter) without
// spinning up a goroutine just to feed a channel.
type genFunc[T any] struct {
	next func(ctx context.Context) (T, bool, error)
	err  error
	done bool
}

// FromFunc builds a Stream whose values are produced by calling next
// directly on each pull. next returns ok=false to end the stream, with
// err set if the stream ended abnormally.
func FromFunc[T any](next func(ctx context.Context) (T, bool, error)) Stream[T] {
	return &genFunc[T]{next: next}
}

func (s *genFunc[T]) Next(ctx context.Context) (T, bool) {
	if s.done {
		var zero T
		return zero, false
	}
	v, ok, err := s.next(ctx)
	if !ok {
		s.done = true
		s.err = err
	}
	return v, ok
}

func (s *genFunc[T]) Err() error {
	return s.err
}

// Deferred is a value that must be produced by invoking a side effect —
// the stream<deferred<T>> of spec §4.A.
type Deferred[T any] func() (T, error)

// Lift forces each deferred value in in on demand, turning a
// Stream[Deferred[T]] into a Stream[T]. A deferred call's error ends the
// lifted stream, mirroring "decode errors are fatal to that reader" for
// producer-side deferred evaluation.
func Lift[T any](in Stream[Deferred[T]]) Stream[T] {
	return FromFunc(func(ctx context.Context) (T, bool, error) {
		d, ok := in.Next(ctx)
		if !ok {
			var zero T
			return zero, false, in.Err()
		}
		v, err := d()
		if err != nil {
			var zero T
			return zero, false, err
		}
		return v, true, nil
	})
}

// Map applies f to every value pulled from in, ending when in ends.
func Map[A, B any](in Stream[A], f func(A) B) Stream[B] {
	return FromFunc(func(ctx context.Context) (B, bool, error) {
		v, ok := in.Next(ctx)
		if !ok {
			var zero B
			return zero, false, in.Err()
		}
		return f(v), true, nil
	})
}
