// Package abac evaluates attribute-based access policies and combines their decisions.
package abac

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is the outcome of one policy evaluation.
type Result int

const (
	// NotApplicable means the policy has nothing to say about the request.
	NotApplicable Result = iota
	// Permit means the policy allows the request.
	Permit
	// Deny means the policy refuses the request.
	Deny
	// Indeterminate means the policy could not be evaluated.
	Indeterminate
)

// String returns the wire name of the result.
func (r Result) String() string {
	switch r {
	case Permit:
		return "PERMIT"
	case Deny:
		return "DENY"
	case NotApplicable:
		return "NOT_APPLICABLE"
	case Indeterminate:
		return "INDETERMINATE"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON encodes the result by name.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a result name.
func (r *Result) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch strings.ToUpper(name) {
	case "PERMIT":
		*r = Permit
	case "DENY":
		*r = Deny
	case "NOT_APPLICABLE":
		*r = NotApplicable
	case "INDETERMINATE":
		*r = Indeterminate
	default:
		return fmt.Errorf("abac: unknown result %q", name)
	}
	return nil
}

// Decision is a result with its explanation. Obligations and advice are
// instructions for the caller; the evaluator never enforces them.
type Decision struct {
	Result      Result   `json:"result"`
	Reason      string   `json:"reason"`
	Obligations []string `json:"obligations,omitempty"`
	Advice      []string `json:"advice,omitempty"`
}

// PermitDecision builds a Permit decision.
func PermitDecision(reason string) Decision {
	return Decision{Result: Permit, Reason: reason}
}

// DenyDecision builds a Deny decision.
func DenyDecision(reason string) Decision {
	return Decision{Result: Deny, Reason: reason}
}

// NotApplicableDecision builds a NotApplicable decision.
func NotApplicableDecision(reason string) Decision {
	return Decision{Result: NotApplicable, Reason: reason}
}

// IndeterminateDecision builds an Indeterminate decision.
func IndeterminateDecision(reason string) Decision {
	return Decision{Result: Indeterminate, Reason: reason}
}

// IsPermit reports a Permit result.
func (d Decision) IsPermit() bool { return d.Result == Permit }

// IsDeny reports a Deny result.
func (d Decision) IsDeny() bool { return d.Result == Deny }

// IsApplicable reports any result other than NotApplicable.
func (d Decision) IsApplicable() bool { return d.Result != NotApplicable }
