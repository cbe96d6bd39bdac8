package schoolauth

import (
	"context"
	"fmt"

	"github.com/yyupcompany/kyyupgame-sub117/permission"
	"github.com/yyupcompany/kyyupgame-sub117/rbac"
)

// Permissions returns the cached role and permission set of userID,
// resolving it on a miss.
func (e *Engine) Permissions(ctx context.Context, userID string) (*PermissionEntry, error) {
	entry, err := e.cache.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionUnavailable, err)
	}
	return entry, nil
}

// HasPermission reports whether userID holds code. Admin roles hold every
// permission. Resolution failures deny with ErrPermissionUnavailable.
func (e *Engine) HasPermission(ctx context.Context, userID, code string) (bool, error) {
	ok, err := e.cache.HasPermission(ctx, userID, code)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPermissionUnavailable, err)
	}
	return ok, nil
}

// HasPermissions checks several codes against one cache read.
func (e *Engine) HasPermissions(ctx context.Context, userID string, codes []string) (map[string]bool, error) {
	out, err := e.cache.HasPermissions(ctx, userID, codes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionUnavailable, err)
	}
	return out, nil
}

// HasPath reports whether one of userID's permissions guards path.
func (e *Engine) HasPath(ctx context.Context, userID, path string) (bool, error) {
	ok, err := e.cache.HasPath(ctx, userID, path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPermissionUnavailable, err)
	}
	return ok, nil
}

// PermissionCacheStats reports cache activity.
func (e *Engine) PermissionCacheStats(ctx context.Context) permission.Stats {
	return e.cache.Stats(ctx)
}

// Invalidate queues an invalidation event. Call it only after the identity
// mutation has committed; AfterCommit does that for you.
func (e *Engine) Invalidate(ev InvalidationEvent) error {
	return e.coordinator.Publish(ev)
}

// AfterCommit runs tx and queues ev only when tx succeeds.
func (e *Engine) AfterCommit(ctx context.Context, tx func(context.Context) error, ev InvalidationEvent) error {
	return e.coordinator.AfterCommit(ctx, tx, ev)
}

// FlushInvalidations waits until every event queued so far is applied.
func (e *Engine) FlushInvalidations(ctx context.Context) error {
	return e.coordinator.Flush(ctx)
}

// InvalidationStats reports coordinator activity.
func (e *Engine) InvalidationStats() permission.CoordinatorStats {
	return e.coordinator.Stats()
}

// Policy returns the role table entry for role.
func (e *Engine) Policy(role Role) (rbac.Policy, bool) {
	return e.policy.Policy(role)
}

// Subject resolves the data scope of id for policy evaluation.
func (e *Engine) Subject(ctx context.Context, id *Identity) (rbac.Subject, error) {
	if id == nil {
		return rbac.Subject{}, ErrUnauthenticated
	}
	sub := rbac.Subject{UserID: id.UserID, Role: Role(id.Role)}
	if id.IsAdmin {
		return sub, nil
	}
	scope, err := e.identity.DataScopeOf(ctx, id.UserID)
	if err != nil {
		e.logger.Error("schoolauth: data scope lookup failed", "user_id", id.UserID, "error", err)
		return rbac.Subject{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	if scope.KindergartenID == "" {
		scope.KindergartenID = id.KindergartenID
	}
	sub.Scope = scope
	return sub, nil
}

// Authorize evaluates req for id against the role table. A denial returns
// the decision together with a *DeniedError.
func (e *Engine) Authorize(ctx context.Context, id *Identity, req AccessRequest) (Decision, error) {
	sub, err := e.Subject(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	d := e.policy.Evaluate(ctx, sub, req)
	if !d.Allowed {
		return d, &DeniedError{Decision: d}
	}
	return d, nil
}
