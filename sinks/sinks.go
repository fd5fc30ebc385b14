package sinks

import (
	"context"
	"errors"

	"github.com/zefrenchwan/registries.git/model"
)

// Sink receives the events of a run, in emission order
type Sink interface {
	Write(ctx context.Context, events []model.Event) error
	Close() error
}

// multi writes to each sink in turn
type multi []Sink

// Multi returns a sink writing to all sinks, nil ones skipped.
// Writing stops at the first failing sink.
func Multi(sinks ...Sink) Sink {
	var result multi
	for _, sink := range sinks {
		if sink != nil {
			result = append(result, sink)
		}
	}

	return result
}

func (m multi) Write(ctx context.Context, events []model.Event) error {
	for _, sink := range m {
		if err := sink.Write(ctx, events); err != nil {
			return err
		}
	}

	return nil
}

func (m multi) Close() error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.Close())
	}

	return errors.Join(errs...)
}

// Discard accepts and drops events
type Discard struct{}

func (Discard) Write(context.Context, []model.Event) error { return nil }

func (Discard) Close() error { return nil }

// shared is a long lived sink used by many runs
type shared struct {
	Sink
}

// Shared wraps sink so that closing a run does not close it
func Shared(sink Sink) Sink {
	return shared{Sink: sink}
}

func (shared) Close() error { return nil }
