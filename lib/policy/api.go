// Package policy implements the composable rule engine named by spec.md
// sec.4.5: small, independently testable Policy values evaluated against
// a shared Context, composed into the three canonical policies
// (update_check_allowed, update_can_be_applied, update_can_start), with
// read-tracking so the evaluator can be re-invoked only when a variable
// it actually consulted has changed.
//
// Grounded on lib/triggers/api.go's closed, ordered slice of small
// value-like rule records, and lib/filter.Filter's match-and-record-what-
// was-consulted shape (a Filter tracks which of its matchers fired, the
// same way EvalContext tracks which variables a Policy read).
package policy

import (
	"time"

	"github.com/Cloud-Foundations/abupdate/proto/update"
)

// Decision is the result of evaluating one Policy.
type Decision struct {
	Status       Status
	AskAgainAt   time.Time     // valid when Status == AskMeAgainLater
	FailureCode  update.ErrorCode // valid when Status == Failed
	Reason       string
}

// Status is the closed set of policy outcomes (spec.md sec.4.5).
type Status int

const (
	Continue Status = iota
	Succeeded
	AskMeAgainLater
	Failed
)

func continueDecision() Decision { return Decision{Status: Continue} }

func succeeded(reason string) Decision {
	return Decision{Status: Succeeded, Reason: reason}
}

func askAgainAt(t time.Time, reason string) Decision {
	return Decision{Status: AskMeAgainLater, AskAgainAt: t, Reason: reason}
}

func failed(code update.ErrorCode, reason string) Decision {
	return Decision{Status: Failed, FailureCode: code, Reason: reason}
}

// Policy is one independently testable rule.
type Policy interface {
	Name() string
	Evaluate(ctx *Context) Decision
}

// Composite evaluates a fixed ordered list of Policies and stops at the
// first one that returns anything other than Continue (spec.md sec.4.5's
// "first non-Continue wins" composition rule).
type Composite struct {
	name     string
	policies []Policy
}

// NewComposite returns a Composite named name over policies, evaluated in
// order.
func NewComposite(name string, policies ...Policy) *Composite {
	return &Composite{name: name, policies: policies}
}

func (c *Composite) Name() string { return c.name }

func (c *Composite) Evaluate(ctx *Context) Decision {
	for _, p := range c.policies {
		d := p.Evaluate(ctx)
		if d.Status != Continue {
			return d
		}
	}
	return continueDecision()
}
