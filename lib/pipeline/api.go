// Package pipeline runs an ordered list of actions to completion, one at
// a time, with suspend/resume/terminate control and a strict
// started/completed notification order (spec.md sec.4.4/sec.5).
//
// Grounded on canonical-pebble's internals/overlord/cmdstate.doExec,
// whose handlers receive a *tomb.Tomb and cooperate with cancellation via
// Dying()/Kill(err) rather than a bespoke context type; the update
// engine's action pipeline adopts the same tomb-per-step lifecycle.
package pipeline

import (
	"fmt"

	"gopkg.in/tomb.v2"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// Action is one step of the pipeline (download, verify, apply,
// postinstall, ...).
type Action interface {
	// Name identifies the action in notifications and logs.
	Name() string

	// Perform runs the action to completion or until t.Dying() fires. It
	// returns the terminal ErrorCode for this action (update.Success on
	// success) and any lower-level error for logging.
	Perform(t *tomb.Tomb) (update.ErrorCode, error)
}

// Suspendable is implemented by actions that can pause in place (e.g. a
// download) rather than only being killed outright.
type Suspendable interface {
	Action
	Suspend() error
	Resume() error
}

// Delegate receives pipeline notifications, delivered strictly in order:
// OnActionStarted(i) always precedes OnActionCompleted(i), and
// OnActionCompleted(i) always precedes OnActionStarted(i+1) (spec.md
// sec.5).
type Delegate interface {
	OnActionStarted(index int, action Action)
	OnActionCompleted(index int, action Action, code update.ErrorCode, err error)
	OnPipelineCompleted(code update.ErrorCode, err error)
}

// NopDelegate implements Delegate with no-ops, for callers that only
// care about the final Run result.
type NopDelegate struct{}

func (NopDelegate) OnActionStarted(int, Action)                                {}
func (NopDelegate) OnActionCompleted(int, Action, update.ErrorCode, error)      {}
func (NopDelegate) OnPipelineCompleted(update.ErrorCode, error)                 {}

// Pipeline runs Actions in order, one at a time.
type Pipeline struct {
	actions  []Action
	delegate Delegate

	current int
	tomb    *tomb.Tomb
}

// New returns a Pipeline over actions, starting at startIndex (0 for a
// fresh attempt, or a resumed index after a crash).
func New(actions []Action, startIndex int, delegate Delegate) *Pipeline {
	if delegate == nil {
		delegate = NopDelegate{}
	}
	return &Pipeline{actions: actions, delegate: delegate, current: startIndex}
}

// Run executes every remaining action in order, stopping at the first
// non-Success terminal code; an error returned alongside update.Success
// does not stop it. It returns the terminal
// code and error of whichever action stopped the pipeline, or
// update.Success once every action has completed.
func (p *Pipeline) Run() (update.ErrorCode, error) {
	for p.current < len(p.actions) {
		action := p.actions[p.current]
		p.tomb = new(tomb.Tomb)
		p.delegate.OnActionStarted(p.current, action)

		var code update.ErrorCode
		var err error
		p.tomb.Go(func() error {
			code, err = action.Perform(p.tomb)
			return err
		})
		waitErr := p.tomb.Wait()
		if err == nil {
			err = waitErr
		}

		p.delegate.OnActionCompleted(p.current, action, code, err)
		if code != update.Success {
			p.delegate.OnPipelineCompleted(code, err)
			return code, err
		}
		p.current++
	}
	p.delegate.OnPipelineCompleted(update.Success, nil)
	return update.Success, nil
}

// Suspend pauses the in-flight action if it implements Suspendable,
// otherwise it terminates the pipeline outright (spec.md sec.4.4: not
// every action is resumable mid-step).
func (p *Pipeline) Suspend() error {
	if p.tomb == nil {
		return nil
	}
	if action, ok := p.actions[p.current].(Suspendable); ok {
		return action.Suspend()
	}
	return p.Terminate()
}

// Resume continues a suspended in-flight action.
func (p *Pipeline) Resume() error {
	if p.tomb == nil {
		return nil
	}
	if action, ok := p.actions[p.current].(Suspendable); ok {
		return action.Resume()
	}
	return fmt.Errorf("pipeline: action %q is not resumable", p.actions[p.current].Name())
}

// Terminate kills the in-flight action and unblocks Run.
func (p *Pipeline) Terminate() error {
	if p.tomb == nil {
		return nil
	}
	p.tomb.Kill(fmt.Errorf("pipeline: terminated"))
	return nil
}

// CurrentIndex returns the index of the action currently running or
// about to run next.
func (p *Pipeline) CurrentIndex() int {
	return p.current
}
