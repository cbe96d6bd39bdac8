package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
)

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParentDeniedReason is returned when a parent reaches outside their own
// children.
const ParentDeniedReason = "parents can only access their own children's data"

// DataScope is the set of records a subject is attached to.
type DataScope struct {
	KindergartenID string   `json:"kindergartenId,omitempty"`
	ClassIDs       []string `json:"classIds,omitempty"`
	StudentIDs     []string `json:"studentIds,omitempty"`
}

// Subject is the authenticated caller.
type Subject struct {
	UserID string
	Role   Role
	Scope  DataScope
}

// Target addresses the records a request touches. Empty fields are not
// checked.
type Target struct {
	Category       Category `json:"category,omitempty"`
	KindergartenID string   `json:"kindergartenId,omitempty"`
	ClassID        string   `json:"classId,omitempty"`
	StudentID      string   `json:"studentId,omitempty"`
}

// Request describes the intent to authorize. Type is preferred; Text is only
// classified when Type is empty.
type Request struct {
	Type       RequestType
	Method     string
	Path       string
	Text       string
	Categories []Category
	Target     Target
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed           bool        `json:"allowed"`
	Reason            string      `json:"reason,omitempty"`
	Role              Role        `json:"role"`
	Level             Level       `json:"level"`
	AllowedOperations []string    `json:"allowedOperations,omitempty"`
	RequestType       RequestType `json:"requestType"`
	Severity          Severity    `json:"severity,omitempty"`
}

// Permits reports whether op is one of the decision's allowed operations.
func (d Decision) Permits(op string) bool {
	return d.Allowed && slices.Contains(d.AllowedOperations, op)
}

// Config configures an Engine.
type Config struct {
	// Policies replaces the built-in role table when non-nil.
	Policies map[Role]Policy
	Logger   *slog.Logger
}

// Stats counts decisions.
type Stats struct {
	Allowed uint64 `json:"allowed"`
	Denied  uint64 `json:"denied"`
}

// Engine evaluates requests against a static role table. The table is read
// only after construction, so an Engine is safe for concurrent use.
type Engine struct {
	policies map[Role]Policy
	logger   *slog.Logger
	allowed  atomic.Uint64
	denied   atomic.Uint64
}

// NewEngine builds an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	policies := cfg.Policies
	if policies == nil {
		policies = DefaultPolicies()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{policies: policies, logger: logger}
}

// Policy returns the table entry for role.
func (e *Engine) Policy(role Role) (Policy, bool) {
	p, ok := e.policies[normalizeRole(role)]
	return p, ok
}

// Evaluate runs the decision procedure. The first failing check denies.
// Every denial is also logged as a security event.
func (e *Engine) Evaluate(ctx context.Context, sub Subject, req Request) Decision {
	d := e.evaluate(sub, req)
	if d.Allowed {
		e.allowed.Add(1)
		return d
	}
	e.denied.Add(1)
	e.logger.LogAttrs(ctx, slog.LevelWarn, "schoolauth: access denied",
		slog.String("event", "security"),
		slog.String("severity", string(d.Severity)),
		slog.String("user_id", sub.UserID),
		slog.String("role", string(sub.Role)),
		slog.String("request_type", string(d.RequestType)),
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("reason", d.Reason),
	)
	return d
}

func (e *Engine) evaluate(sub Subject, req Request) Decision {
	reqType := req.Type
	if reqType == "" {
		reqType = Classify(req.Method, req.Text)
	}

	policy, ok := e.Policy(sub.Role)
	if !ok {
		return Decision{
			Role:        sub.Role,
			Level:       LevelDenied,
			RequestType: reqType,
			Reason:      fmt.Sprintf("unknown role %q", sub.Role),
			Severity:    SeverityMedium,
		}
	}
	deny := func(reason string, sev Severity) Decision {
		return Decision{
			Role:        sub.Role,
			Level:       policy.Level,
			RequestType: reqType,
			Reason:      reason,
			Severity:    sev,
		}
	}

	if policy.Role != RoleAdmin {
		if policy.denies(reqType) {
			sev := SeverityMedium
			if reqType == TypeSystemManagement {
				sev = SeverityHigh
			}
			return deny(fmt.Sprintf("role %s may not perform %s requests", sub.Role, reqType), sev)
		}

		if phrase, found := SensitivePhrase(req.Text); found {
			return deny(fmt.Sprintf("sensitive operation %q requires administrator", phrase), SeverityHigh)
		}

		for _, c := range requestCategories(req) {
			if policy.ScopeFor(c) == ScopeNone {
				sev := SeverityMedium
				if c == CategorySystem {
					sev = SeverityHigh
				}
				return deny(fmt.Sprintf("role %s has no access to %s data", sub.Role, c), sev)
			}
		}

		if reason, denied := checkTarget(policy, sub, req.Target); denied {
			return deny(reason, SeverityMedium)
		}
	}

	return Decision{
		Allowed:           true,
		Role:              sub.Role,
		Level:             policy.Level,
		AllowedOperations: slices.Clone(policy.AllowedOperations),
		RequestType:       reqType,
	}
}

func requestCategories(req Request) []Category {
	cats := slices.Clone(req.Categories)
	if req.Target.Category != "" {
		cats = append(cats, req.Target.Category)
	}
	cats = append(cats, MentionedCategories(req.Text)...)
	slices.Sort(cats)
	return slices.Compact(cats)
}

// checkTarget applies the role's scope for the target's category to the
// addressed records.
func checkTarget(p Policy, sub Subject, t Target) (string, bool) {
	if t.KindergartenID == "" && t.ClassID == "" && t.StudentID == "" {
		return "", false
	}
	cat := t.Category
	if cat == "" {
		cat = CategoryStudents
	}
	scope := p.ScopeFor(cat)

	if t.KindergartenID != "" && scope != ScopeAll && t.KindergartenID != sub.Scope.KindergartenID {
		if p.Role == RoleParent {
			return ParentDeniedReason, true
		}
		return "access is limited to your own kindergarten", true
	}

	switch scope {
	case ScopeAll, ScopeSchoolOnly:
		return "", false
	case ScopeOwnClassesOnly:
		if t.ClassID != "" && !slices.Contains(sub.Scope.ClassIDs, t.ClassID) {
			return "teachers can only access their own classes' data", true
		}
		if t.StudentID != "" && !slices.Contains(sub.Scope.StudentIDs, t.StudentID) {
			return "teachers can only access their own classes' data", true
		}
		return "", false
	case ScopeOwnChildrenOnly:
		if t.StudentID == "" || !slices.Contains(sub.Scope.StudentIDs, t.StudentID) {
			return ParentDeniedReason, true
		}
		return "", false
	default:
		return fmt.Sprintf("role %s has no access to %s data", p.Role, cat), true
	}
}

// Stats reports decision counters.
func (e *Engine) Stats() Stats {
	return Stats{Allowed: e.allowed.Load(), Denied: e.denied.Load()}
}
