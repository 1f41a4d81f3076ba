package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Result is the outcome of one policy evaluation.
type Result struct {
	Effect   models.Effect
	PolicyID string
	Reason   string
	StepUp   models.StepUpFactor

	// FailedConditions lists the conditions of the closest-matching
	// policy that did not hold, for audit detail. Empty on a match.
	FailedConditions []string
}

// Engine is a stateless evaluator over an immutable, atomically
// swapped policy snapshot. Evaluation is a pure function of
// (attributes, snapshot); it mutates no device or session state.
type Engine struct {
	snapshot atomic.Pointer[models.PolicySnapshot]
	logger   *slog.Logger
}

// NewEngine creates an engine with no snapshot loaded. Evaluate fails
// until a valid snapshot is loaded: the engine never falls back to
// allow-all.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Load validates and installs a snapshot as one all-or-nothing
// replace. On validation failure the previous snapshot, if any, stays
// in effect.
func (e *Engine) Load(snapshot *models.PolicySnapshot) error {
	if err := Validate(snapshot); err != nil {
		return err
	}
	installed := *snapshot
	installed.LoadedAt = time.Now().UTC()
	e.snapshot.Store(&installed)
	e.logger.Info("policy snapshot loaded",
		"version", snapshot.Version, "policies", len(snapshot.Policies))
	return nil
}

// Snapshot returns the currently installed snapshot, or nil.
func (e *Engine) Snapshot() *models.PolicySnapshot {
	return e.snapshot.Load()
}

// Evaluate matches the request against the current snapshot.
// Among policies whose resource/action pattern matches and whose
// conditions all hold, the highest priority wins; at equal priority
// the most restrictive effect wins (Deny > Challenge > Allow). If no
// policy matches, the default is Deny.
func (e *Engine) Evaluate(resource, action string, attrs map[string]any) (*Result, error) {
	snapshot := e.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("policy: %w", errors.ErrSnapshotNotLoaded)
	}

	var (
		winner         *models.Policy
		closestMiss    *models.Policy
		closestMissFor []string
	)

	for i := range snapshot.Policies {
		p := &snapshot.Policies[i]
		if !matchPattern(p.Resource, resource) || !matchPattern(p.Action, action) {
			continue
		}
		failed := failedConditions(p, attrs)
		if len(failed) > 0 {
			if closestMiss == nil {
				closestMiss = p
				closestMissFor = failed
			}
			continue
		}
		if winner == nil || morePrecedent(p, winner) {
			winner = p
		}
	}

	if winner == nil {
		result := &Result{
			Effect: models.EffectDeny,
			Reason: "no_matching_policy",
		}
		if closestMiss != nil {
			result.PolicyID = closestMiss.ID
			result.Reason = "conditions_not_met"
			result.FailedConditions = closestMissFor
		}
		return result, nil
	}

	return &Result{
		Effect:   winner.Effect,
		PolicyID: winner.ID,
		Reason:   winner.ID,
		StepUp:   winner.StepUp,
	}, nil
}

// morePrecedent reports whether a should win over b: higher priority
// first, then most restrictive effect.
func morePrecedent(a, b *models.Policy) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Effect.Restrictiveness() > b.Effect.Restrictiveness()
}

func failedConditions(p *models.Policy, attrs map[string]any) []string {
	var failed []string
	for _, c := range p.Conditions {
		eval := conditionEval[c.Kind]
		if eval == nil || !eval(c, attrs) {
			failed = append(failed, fmt.Sprintf("%s(%s)", c.Kind, c.Attribute))
		}
	}
	return failed
}

// matchPattern matches a resource or action against a pattern: "*"
// matches anything, otherwise segments split on "/" must match
// exactly or be the "*" wildcard segment.
func matchPattern(pattern, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	ps := strings.Split(pattern, "/")
	vs := strings.Split(value, "/")
	if len(ps) != len(vs) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != vs[i] {
			return false
		}
	}
	return true
}

// Validate checks a snapshot for structural validity. Any failure is
// a PolicyLoadError: a malformed snapshot must never be partially
// applied.
func Validate(snapshot *models.PolicySnapshot) error {
	if snapshot == nil {
		return errors.NewPolicyLoadError("", "snapshot is nil", nil)
	}
	if snapshot.Version == "" {
		return errors.NewPolicyLoadError("", "snapshot version is required", nil)
	}
	seen := make(map[string]bool, len(snapshot.Policies))
	for i := range snapshot.Policies {
		p := &snapshot.Policies[i]
		if p.ID == "" {
			return errors.NewPolicyLoadError(snapshot.Version,
				fmt.Sprintf("policy at index %d has no id", i), nil)
		}
		if seen[p.ID] {
			return errors.NewPolicyLoadError(snapshot.Version,
				fmt.Sprintf("duplicate policy id %q", p.ID), nil)
		}
		seen[p.ID] = true
		if p.Resource == "" || p.Action == "" {
			return errors.NewPolicyLoadError(snapshot.Version,
				fmt.Sprintf("policy %q: resource and action are required", p.ID), nil)
		}
		switch p.Effect {
		case models.EffectAllow, models.EffectDeny, models.EffectChallenge:
		default:
			return errors.NewPolicyLoadError(snapshot.Version,
				fmt.Sprintf("policy %q: unknown effect %q", p.ID, p.Effect), nil)
		}
		if p.Effect == models.EffectChallenge && p.StepUp == "" {
			return errors.NewPolicyLoadError(snapshot.Version,
				fmt.Sprintf("policy %q: challenge requires a step_up factor", p.ID), nil)
		}
		for j, c := range p.Conditions {
			if _, ok := conditionEval[c.Kind]; !ok {
				return errors.NewPolicyLoadError(snapshot.Version,
					fmt.Sprintf("policy %q: condition %d has unknown kind %q", p.ID, j, c.Kind), nil)
			}
			if c.Attribute == "" {
				return errors.NewPolicyLoadError(snapshot.Version,
					fmt.Sprintf("policy %q: condition %d has no attribute", p.ID, j), nil)
			}
			if c.Kind == models.ConditionThreshold {
				switch c.Op {
				case models.OpLessThan, models.OpLessOrEqual, models.OpGreaterThan, models.OpGreaterOrEqual:
				default:
					return errors.NewPolicyLoadError(snapshot.Version,
						fmt.Sprintf("policy %q: condition %d has unknown op %q", p.ID, j, c.Op), nil)
				}
			}
			if c.Kind == models.ConditionMembership && len(c.Values) == 0 {
				return errors.NewPolicyLoadError(snapshot.Version,
					fmt.Sprintf("policy %q: condition %d has no values", p.ID, j), nil)
			}
		}
	}
	return nil
}
