package abac

import (
	"fmt"
	"strings"
)

// Algorithm selects how several decisions are merged into one.
type Algorithm string

const (
	PermitOverrides Algorithm = "PERMIT_OVERRIDES"
	DenyOverrides   Algorithm = "DENY_OVERRIDES"
	FirstApplicable Algorithm = "FIRST_APPLICABLE"
	Unanimous       Algorithm = "UNANIMOUS"
)

// ParseAlgorithm resolves a name case-insensitively; hyphens are accepted for underscores.
func ParseAlgorithm(name string) (Algorithm, error) {
	normalized := Algorithm(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_")))
	switch normalized {
	case PermitOverrides, DenyOverrides, FirstApplicable, Unanimous:
		return normalized, nil
	}
	return "", fmt.Errorf("abac: unknown combining algorithm %q", name)
}

// Combine merges decisions in input order.
//
// The override algorithms skip Indeterminate: with no Permit or Deny present the
// result is NotApplicable. Unanimous counts Indeterminate as a non-Permit.
func Combine(alg Algorithm, decisions []Decision) Decision {
	switch alg {
	case PermitOverrides:
		return override(decisions, Permit, Deny)
	case DenyOverrides:
		return override(decisions, Deny, Permit)
	case FirstApplicable:
		for _, d := range decisions {
			if d.Result != NotApplicable {
				return d
			}
		}
		return NotApplicableDecision("No applicable policies")
	case Unanimous:
		applicable := 0
		for _, d := range decisions {
			if d.Result == NotApplicable {
				continue
			}
			applicable++
			if d.Result != Permit {
				return DenyDecision("Not unanimous")
			}
		}
		if applicable == 0 {
			return NotApplicableDecision("No applicable policies")
		}
		return PermitDecision("Unanimous permit")
	default:
		return IndeterminateDecision(fmt.Sprintf("Unknown combining algorithm: %s", alg))
	}
}

func override(decisions []Decision, winner, fallback Result) Decision {
	for _, d := range decisions {
		if d.Result == winner {
			return d
		}
	}
	for _, d := range decisions {
		if d.Result == fallback {
			return d
		}
	}
	return NotApplicableDecision("No applicable policies")
}
