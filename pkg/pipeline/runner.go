package pipeline

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

// Runner executes an ordered list of stages strictly in sequence. The result
// of a stage is the sole input of the next one. On the first failing stage the
// runner stops: later stages never run, the error callback fires exactly once
// and the completion callback never fires. Side effects of earlier stages are
// not rolled back.
type Runner struct {
	stages []stage

	logger *logr.Logger

	stopped bool
}

type stage struct {
	name string
	run  func(ctx context.Context, in any) (any, error)
}

// StageFunc is a single unit of work. The first stage of a runner receives the
// zero value of its input type.
type StageFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// Callbacks configures the observers of one execution. All fields are
// optional.
type Callbacks struct {
	// Next is invoked after each successful stage with its result and index.
	Next func(result any, index int)
	// Error is invoked once, with a human readable message and a title
	// derived from the failing stage name.
	Error func(message string, title string)
	// Complete is invoked once, after the last stage succeeded.
	Complete func()
}

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) WithLogger(logger logr.Logger) *Runner {
	r.logger = &logger

	return r
}

// AddStage appends a typed stage. In must match the output type of the
// previous stage; a mismatch surfaces as a stage failure at execution time.
func AddStage[In, Out any](r *Runner, name string, fn StageFunc[In, Out]) {
	r.stages = append(r.stages, stage{
		name: name,
		run: func(ctx context.Context, in any) (any, error) {
			var typed In

			if in != nil {
				ok := false

				typed, ok = in.(In)
				if !ok {
					return nil, fmt.Errorf("unexpected input type %T", in)
				}
			}

			return fn(ctx, typed)
		},
	})
}

// Execute runs the stages. It returns the error of the failing stage, if any,
// after the error callback has been invoked. A runner is single use: once
// stopped, by failure or completion, it stays inert.
func (r *Runner) Execute(ctx context.Context, cb Callbacks) error {
	var result any

	for index, s := range r.stages {
		if r.stopped {
			break
		}

		err := ctx.Err()
		if err != nil {
			r.fail(cb, err, s.name)

			return err
		}

		result, err = s.run(ctx, result)
		if err != nil {
			r.logError(err, "Stage failed", "stage", s.name, "index", index)
			r.fail(cb, err, s.name)

			return err
		}

		r.logInfo(2, "Stage done", "stage", s.name, "index", index)
		r.next(cb, result, index)
	}

	r.complete(cb)

	return nil
}

func (r *Runner) next(cb Callbacks, result any, index int) {
	if r.stopped || cb.Next == nil {
		return
	}

	cb.Next(result, index)
}

func (r *Runner) fail(cb Callbacks, err error, stageName string) {
	if r.stopped {
		return
	}

	r.stopped = true

	if cb.Error == nil {
		return
	}

	title := ""
	if stageName != "" {
		title = fmt.Sprintf("%s failed", stageName)
	}

	cb.Error(err.Error(), title)
}

func (r *Runner) complete(cb Callbacks) {
	if r.stopped {
		return
	}

	r.stopped = true

	if cb.Complete != nil {
		cb.Complete()
	}
}

func (r *Runner) logInfo(level int, msg string, keysAndValues ...any) {
	if r.logger == nil {
		return
	}

	r.logger.V(level).Info(msg, keysAndValues...)
}

func (r *Runner) logError(err error, msg string, keysAndValues ...any) {
	if r.logger == nil {
		return
	}

	r.logger.Error(err, msg, keysAndValues...)
}
