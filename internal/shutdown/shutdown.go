// Package shutdown implements the graceful shutdown sequencer spec §5
// and §12 describe: stop intake, drain in-flight route tasks under a
// deadline, stop the scheduler, flush the memory engine's staging
// journals, unload plugins, then close adapters — in that fixed order,
// so nothing downstream of a stage is touched before that stage has
// finished.
//
// Grounded in the teacher's pattern of pairing every long-running
// component with its own bounded Stop/Shutdown call (Runtime.Shutdown,
// Scheduler.Stop, cron.Cron.Stop) — generalized here into one ordered
// sequence rather than each caller remembering the order by hand.
package shutdown

import (
	"context"
	"time"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// Stage is one named step of the shutdown chain. Run receives a context
// already scoped to that stage's deadline.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sequencer runs a fixed, ordered list of shutdown stages, logging and
// continuing past a stage's failure rather than aborting the remaining
// chain (a failed journal flush must not prevent adapters from closing).
type Sequencer struct {
	stages []Stage
}

// New creates a Sequencer with no stages; call Add to build the chain in
// order.
func New() *Sequencer { return &Sequencer{} }

// Add appends a named stage to the end of the chain.
func (s *Sequencer) Add(name string, deadline time.Duration, run func(ctx context.Context) error) *Sequencer {
	s.stages = append(s.stages, Stage{Name: name, Run: func(ctx context.Context) error {
		stageCtx := ctx
		var cancel context.CancelFunc
		if deadline > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, deadline)
			defer cancel()
		}
		return run(stageCtx)
	}})
	return s
}

// Run executes every stage in registration order, returning the first
// error encountered (after logging and still running every remaining
// stage) — callers that need a hard abort should not use this chain for
// data-loss-critical stages.
func (s *Sequencer) Run(ctx context.Context) error {
	var firstErr error
	for _, stage := range s.stages {
		logger.Component("shutdown").Info().Str("stage", stage.Name).Msg("running shutdown stage")
		if err := stage.Run(ctx); err != nil {
			logger.Component("shutdown").Error().Err(err).Str("stage", stage.Name).Msg("shutdown stage failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
