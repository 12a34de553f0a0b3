package scenario

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/cluster"
	"hazeltopo/grid"
	"hazeltopo/logging"
	"hazeltopo/report"
	"hazeltopo/status"
	"strings"
	"time"
)

type (
	Phase string
	// Controller is the part of the cluster controller scenarios rely on.
	Controller interface {
		StartMember(ctx context.Context, mc cluster.MemberConfig) (cluster.MemberHandle, error)
		ShutdownGracefully(ctx context.Context, h cluster.MemberHandle) error
		TerminateAbruptly(ctx context.Context, h cluster.MemberHandle) error
		WaitForStabilization(ctx context.Context, timeout time.Duration) bool
		Members(ctx context.Context) []cluster.MemberHandle
		ReleaseAdHoc(ctx context.Context) error
		Timeouts() cluster.Timeouts
	}
	Env struct {
		Backend    grid.Backend
		Controller Controller
		Settings   Settings
	}
	Runner struct {
		env      *Env
		recorder report.Recorder
		gatherer *status.Gatherer
		recorded map[string]int
	}
)

const (
	PhaseIdle           Phase = "idle"
	PhaseLoading        Phase = "loading"
	PhaseSnapshotBefore Phase = "snapshotBefore"
	PhaseMutating       Phase = "mutating"
	PhaseStabilizing    Phase = "stabilizing"
	PhaseSnapshotAfter  Phase = "snapshotAfter"
	PhaseVerifying      Phase = "verifying"
	PhaseRecording      Phase = "recording"
)

var phaseOrder = map[Phase]int{
	PhaseIdle:           0,
	PhaseLoading:        1,
	PhaseSnapshotBefore: 2,
	PhaseMutating:       3,
	PhaseStabilizing:    4,
	PhaseSnapshotAfter:  5,
	PhaseVerifying:      6,
	PhaseRecording:      7,
}

var (
	ErrUnexpected          = errors.New("unexpected failure inside scenario")
	ErrNoOutcome           = errors.New("scenario finished without concluding an outcome")
	ErrPhaseOrder          = errors.New("scenario phases must only move forward")
	ErrUnresolvedOwnership = errors.New("snapshot resolved no partition owner")
)

var lp *logging.LogProvider

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

// NewRunner creates a runner recording to the given recorder. The gatherer is optional; when given, it must be
// listening for the whole time Run executes.
func NewRunner(env *Env, recorder report.Recorder, gatherer *status.Gatherer) *Runner {
	return &Runner{env: env, recorder: recorder, gatherer: gatherer, recorded: map[string]int{}}
}

// Run executes the scenarios one after another. Every scenario records exactly one primary outcome, whatever
// happens inside it, and releases its dataset and ad-hoc members before the next one starts.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) []report.Outcome {

	r.publish(status.KeyNumScenarios, len(scenarios))

	var outcomes []report.Outcome
	failed := 0
	for i, s := range scenarios {
		if err := ctx.Err(); err != nil {
			lp.LogScenarioEvent(s.Name, fmt.Sprintf("not started: %v", err), log.WarnLevel)
			o := report.Outcome{Name: s.Name, Success: false, Message: fmt.Sprintf("scenario not started: %v", err), RecordedAt: time.Now()}
			r.record(o)
			outcomes = append(outcomes, o)
			failed++
		} else {
			o := r.execute(ctx, s)
			outcomes = append(outcomes, o)
			if !o.Success {
				failed++
			}
		}
		r.publish(status.KeyNumFinished, i+1)
		r.publish(status.KeyNumFailed, failed)
	}

	return outcomes

}

func (r *Runner) execute(ctx context.Context, s Scenario) report.Outcome {

	lp.LogScenarioEvent(s.Name, "starting scenario", log.InfoLevel)
	r.publish(status.KeyCurrentScenario, s.Name)
	start := time.Now()

	x := newExecution(r.env, s.Name, func(p Phase) {
		r.publish(status.KeyCurrentPhase, string(p))
	})

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %v", ErrUnexpected, p)
			}
		}()
		return s.run(ctx, x)
	}()

	last := x.phase
	x.forceEnter(PhaseRecording)
	o := x.finalize(last, err)
	for _, obs := range x.observations {
		r.record(obs)
	}
	r.record(o)

	r.release(context.WithoutCancel(ctx), x)
	x.forceEnter(PhaseIdle)

	lp.LogTimingEvent("scenario", s.Name, int(time.Since(start).Milliseconds()), log.InfoLevel)

	return o

}

// release destroys every collection the scenario acquired and shuts down members it started. Failures are logged
// only since the outcome has been recorded already.
func (r *Runner) release(ctx context.Context, x *Execution) {

	for _, c := range x.cleanups {
		if err := c(ctx); err != nil {
			lp.LogScenarioEvent(x.name, fmt.Sprintf("unable to release scenario resource: %v", err), log.WarnLevel)
		}
	}

	if err := r.env.Controller.ReleaseAdHoc(ctx); err != nil {
		lp.LogScenarioEvent(x.name, fmt.Sprintf("unable to release ad-hoc members: %v", err), log.WarnLevel)
	}

}

// record hands the outcome to the recorder. Names already recorded in this run get a numeric suffix so no earlier
// result is overwritten.
func (r *Runner) record(o report.Outcome) {

	r.recorded[o.Name]++
	if n := r.recorded[o.Name]; n > 1 {
		lp.LogScenarioEvent(o.Name, fmt.Sprintf("outcome name already recorded in this run, recording as run %d", n), log.WarnLevel)
		o.Name = fmt.Sprintf("%s-run-%d", o.Name, n)
	}

	r.recorder.RecordResult(o.Name, o.Success, o.Message)

}

func (r *Runner) publish(key string, value any) {

	if r.gatherer != nil {
		r.gatherer.Publish(status.Update{Key: key, Value: value})
	}

}

// Execution tracks one run of a scenario: its phase, outcomes, soft failures, and resources to release.
type Execution struct {
	env          *Env
	name         string
	phase        Phase
	trail        []Phase
	onPhase      func(Phase)
	notes        []string
	attachments  []string
	observations []report.Outcome
	outcome      *report.Outcome
	cleanups     []func(ctx context.Context) error
}

func newExecution(env *Env, name string, onPhase func(Phase)) *Execution {
	return &Execution{env: env, name: name, phase: PhaseIdle, trail: []Phase{PhaseIdle}, onPhase: onPhase}
}

func (x *Execution) Phase() Phase {
	return x.phase
}

// enter moves the execution forward. Phases may be skipped, never revisited.
func (x *Execution) enter(p Phase) error {

	if phaseOrder[p] <= phaseOrder[x.phase] {
		return fmt.Errorf("%w: cannot enter '%s' from '%s'", ErrPhaseOrder, p, x.phase)
	}
	x.forceEnter(p)

	return nil

}

func (x *Execution) forceEnter(p Phase) {

	x.phase = p
	x.trail = append(x.trail, p)
	lp.LogScenarioEvent(x.name, fmt.Sprintf("entering phase '%s'", p), log.DebugLevel)
	if x.onPhase != nil {
		x.onPhase(p)
	}

}

// observe records a secondary outcome alongside the scenario's primary one.
func (x *Execution) observe(name string, success bool, message string) {
	x.observations = append(x.observations, report.Outcome{Name: name, Success: success, Message: message})
}

// note attaches a soft failure to the primary outcome's message without failing it.
func (x *Execution) note(format string, args ...any) {

	n := fmt.Sprintf(format, args...)
	lp.LogScenarioEvent(x.name, n, log.WarnLevel)
	x.notes = append(x.notes, n)

}

// attach adds a labelled report to the primary outcome's message, whatever the outcome turns out to be.
func (x *Execution) attach(label, report string) {
	x.attachments = append(x.attachments, fmt.Sprintf("%s: [%s]", label, report))
}

func (x *Execution) conclude(success bool, message string) {
	x.outcome = &report.Outcome{Name: x.name, Success: success, Message: message}
}

func (x *Execution) onRelease(f func(ctx context.Context) error) {
	x.cleanups = append(x.cleanups, f)
}

func (x *Execution) finalize(last Phase, err error) report.Outcome {

	var o report.Outcome
	switch {
	case err != nil:
		o = report.Outcome{Name: x.name, Success: false, Message: fmt.Sprintf("scenario aborted during phase '%s': %v", last, err)}
	case x.outcome == nil:
		o = report.Outcome{Name: x.name, Success: false, Message: ErrNoOutcome.Error()}
	default:
		o = *x.outcome
	}

	if len(x.attachments) > 0 {
		o.Message = fmt.Sprintf("%s (%s)", o.Message, strings.Join(x.attachments, "; "))
	}
	if len(x.notes) > 0 {
		o.Message = fmt.Sprintf("%s [%s]", o.Message, strings.Join(x.notes, "; "))
	}
	o.RecordedAt = time.Now()

	return o

}
