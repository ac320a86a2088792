package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/failure"
	"github.com/chesapeake-lu/landuse/internal/ledger"
)

// Status is the outcome of one rule.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// RuleResult records what one rule did.
type RuleResult struct {
	Name     string
	Step     int
	Kind     Kind
	Status   Status
	Selected int
	Assigned int
	Duration time.Duration
	Err      error
}

// Report summarises a cascade run.
type Report struct {
	Results []RuleResult
	Rows    int
	// UnclassifiedBeforeCatchAll is the number of rows the catch-all had
	// to label.
	UnclassifiedBeforeCatchAll int
}

// Failed lists the names of rules that failed or timed out.
func (r *Report) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.Status == StatusTimeout {
			out = append(out, res.Name)
		}
	}
	return out
}

// UnclassifiedFraction is UnclassifiedBeforeCatchAll over all rows.
func (r *Report) UnclassifiedFraction() float64 {
	if r.Rows == 0 {
		return 0
	}
	return float64(r.UnclassifiedBeforeCatchAll) / float64(r.Rows)
}

// Observer receives each rule result as it completes.
type Observer interface {
	ObserveRule(county string, res RuleResult)
}

// Options tunes an Engine.
type Options struct {
	// RuleTimeout bounds each rule; zero disables the bound. Direct and
	// catch-all rules check it before and after their single predicate
	// scan, the majority vote every few thousand rows, and spatial rules
	// between batches. A scan already under way is not interrupted.
	RuleTimeout time.Duration
	Observer    Observer
}

// Engine applies an ordered rule list to a ledger.
type Engine struct {
	rules []Rule
	opts  Options
}

// NewEngine returns an engine over rules, which run in slice order.
func NewEngine(rules []Rule, opts Options) *Engine {
	return &Engine{rules: rules, opts: opts}
}

// Rules returns the ordered rule list.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Run executes every rule in order against l. Failed, timed-out and
// inapplicable rules are recorded and skipped. The run fails only when
// ctx is cancelled or rows remain unclassified after the last rule.
func (e *Engine) Run(ctx context.Context, county string, l *ledger.Ledger, env Env) (*Report, error) {
	log := zap.L().With(zap.String("component", "cascade.engine"), zap.String("county", county))
	rep := &Report{Rows: l.Len()}
	catchAllSeen := false

	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return rep, eris.Wrap(err, "cascade: run cancelled")
		}
		if rule.Kind() == CatchAll && !catchAllSeen {
			catchAllSeen = true
			rep.UnclassifiedBeforeCatchAll = l.Unclassified()
		}

		env.Snap = l.Snapshot()
		res := e.runRule(ctx, rule, &env, l)
		rep.Results = append(rep.Results, res)
		if e.opts.Observer != nil {
			e.opts.Observer.ObserveRule(county, res)
		}

		fields := []zap.Field{
			zap.Int("step", res.Step),
			zap.String("rule", res.Name),
			zap.Stringer("kind", res.Kind),
			zap.Int("assigned", res.Assigned),
			zap.Duration("elapsed", res.Duration),
		}
		switch res.Status {
		case StatusOK:
			log.Debug("rule applied", fields...)
		case StatusSkipped:
			if errors.Is(res.Err, ErrNotApplicable) {
				log.Info("rule not applicable", fields...)
			} else {
				log.Warn("rule skipped", append(fields, zap.Error(res.Err))...)
			}
		case StatusTimeout:
			log.Error("rule timed out", fields...)
		case StatusFailed:
			log.Error("rule failed", append(fields, zap.String("error", eris.ToString(res.Err, true)))...)
		}

		// A cancelled run must not be reported as a string of timeouts.
		if err := ctx.Err(); err != nil {
			return rep, eris.Wrap(err, "cascade: run cancelled")
		}
	}
	if !catchAllSeen {
		rep.UnclassifiedBeforeCatchAll = l.Unclassified()
	}

	if n := l.Unclassified(); n > 0 {
		return rep, &failure.UnresolvedClassification{Count: n, Sample: l.UnclassifiedIDs(10)}
	}
	log.Info("cascade complete",
		zap.Int("rows", rep.Rows),
		zap.Int("rules", len(rep.Results)),
		zap.Int("failed", len(rep.Failed())),
		zap.Int("unclassified_before_catch_all", rep.UnclassifiedBeforeCatchAll),
	)
	return rep, nil
}

func (e *Engine) runRule(ctx context.Context, rule Rule, env *Env, l *ledger.Ledger) (res RuleResult) {
	res = RuleResult{Name: rule.Name(), Step: rule.Step(), Kind: rule.Kind()}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	rctx := ctx
	if e.opts.RuleTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.opts.RuleTimeout)
		defer cancel()
	}

	assignments, err := evaluate(rctx, rule, env)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotApplicable), failure.IsAncillaryMissing(err):
		res.Status, res.Err = StatusSkipped, err
		return res
	case rctx.Err() != nil && ctx.Err() == nil:
		res.Status, res.Err = StatusTimeout, failure.NewRuleExecutionError(rule.Name(), err)
		return res
	default:
		res.Status, res.Err = StatusFailed, failure.NewRuleExecutionError(rule.Name(), err)
		return res
	}

	for _, a := range assignments {
		res.Selected += len(a.PSIDs)
		res.Assigned += l.Apply(a)
	}
	res.Status = StatusOK
	return res
}

// evaluate runs one rule, converting a panic into an error.
func evaluate(ctx context.Context, rule Rule, env *Env) (as []ledger.Assignment, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.New(fmt.Sprintf("panic: %v", p))
			as = nil
		}
	}()
	return rule.Evaluate(ctx, env)
}
