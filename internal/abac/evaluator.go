package abac

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrInvalidPolicy indicates a registration without an id or rule.
var ErrInvalidPolicy = errors.New("abac: invalid policy")

// Rule is a pure function from an evaluation context to a decision.
type Rule func(ec EvaluationContext) (Decision, error)

// Policy is a registered rule with its description.
type Policy struct {
	Description string
	Rule        Rule
}

// Evaluator owns the policy registry. It is safe for concurrent use; registration
// is expected to be rare compared to evaluation.
type Evaluator struct {
	mu       sync.RWMutex
	policies map[string]Policy
	clock    func() time.Time
	logger   *slog.Logger
}

// NewEvaluator constructs an empty evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		policies: make(map[string]Policy),
		clock:    time.Now,
		logger:   logger,
	}
}

// NewDefaultEvaluator constructs an evaluator holding the built-in policies.
func NewDefaultEvaluator(logger *slog.Logger, hours BusinessHours) *Evaluator {
	e := NewEvaluator(logger)
	for id, p := range BuiltinPolicies(hours) {
		e.policies[id] = p
	}
	return e
}

// WithClock overrides the clock used when a context carries no instant.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	if clock != nil {
		e.clock = clock
	}
	return e
}

// AddPolicy registers or replaces a policy.
func (e *Evaluator) AddPolicy(id string, p Policy) error {
	if id == "" || p.Rule == nil {
		return ErrInvalidPolicy
	}
	e.mu.Lock()
	e.policies[id] = p
	e.mu.Unlock()
	return nil
}

// RemovePolicy unregisters id. Unknown ids are ignored.
func (e *Evaluator) RemovePolicy(id string) {
	e.mu.Lock()
	delete(e.policies, id)
	e.mu.Unlock()
}

// PolicyExists reports whether id is registered.
func (e *Evaluator) PolicyExists(id string) bool {
	_, ok := e.lookup(id)
	return ok
}

// PolicyDescription returns the description of id, or empty when unknown.
func (e *Evaluator) PolicyDescription(id string) string {
	p, _ := e.lookup(id)
	return p.Description
}

// PolicyIDs lists the registered ids in lexical order.
func (e *Evaluator) PolicyIDs() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.policies))
	for id := range e.policies {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Evaluate runs one policy. Unknown ids yield NotApplicable; a rule that fails or
// panics yields Indeterminate.
func (e *Evaluator) Evaluate(id string, ec EvaluationContext) Decision {
	p, ok := e.lookup(id)
	if !ok {
		return NotApplicableDecision("Policy not found: " + id)
	}
	if ec.Now.IsZero() {
		ec.Now = e.clock()
	}
	decision, err := runRule(p.Rule, ec)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("abac policy evaluation failed", slog.String("policy", id), slog.Any("error", err))
		}
		return IndeterminateDecision(fmt.Sprintf("Policy evaluation error: %v", err))
	}
	return decision
}

// Now returns the evaluator's current instant.
func (e *Evaluator) Now() time.Time {
	return e.clock()
}

// EvaluateMultiple evaluates every id independently and combines the results.
func (e *Evaluator) EvaluateMultiple(ids []string, ec EvaluationContext, alg Algorithm) Decision {
	if ec.Now.IsZero() {
		ec.Now = e.clock()
	}
	decisions := make([]Decision, 0, len(ids))
	for _, id := range ids {
		decisions = append(decisions, e.Evaluate(id, ec))
	}
	return Combine(alg, decisions)
}

func (e *Evaluator) lookup(id string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[id]
	return p, ok
}

func runRule(rule Rule, ec EvaluationContext) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return rule(ec)
}
