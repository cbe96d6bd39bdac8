package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind names an identity mutation that affects cached permissions.
type Kind string

const (
	KindUser           Kind = "USER"
	KindRole           Kind = "ROLE"
	KindPermission     Kind = "PERMISSION"
	KindUserRole       Kind = "USER_ROLE"
	KindRolePermission Kind = "ROLE_PERMISSION"
	KindAll            Kind = "ALL"
)

var (
	// ErrUnknownKind is returned for an event whose Kind is not recognised.
	ErrUnknownKind = errors.New("unknown invalidation kind")
	// ErrCoordinatorClosed is returned by Flush after Close.
	ErrCoordinatorClosed = errors.New("invalidation coordinator closed")
)

// ParseKind maps a wire value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindUser, KindRole, KindPermission, KindUserRole, KindRolePermission, KindAll:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Event describes one committed mutation. IDs are user ids for USER and
// USER_ROLE, role codes for ROLE and ROLE_PERMISSION, and ignored otherwise.
type Event struct {
	Kind Kind     `json:"kind"`
	IDs  []string `json:"ids,omitempty"`
}

// RoleIndex lists the users currently holding any of the given roles.
type RoleIndex interface {
	UsersWithRoles(ctx context.Context, roleCodes []string) ([]string, error)
}

// CoordinatorConfig tunes the invalidation worker.
type CoordinatorConfig struct {
	BufferSize int
	// Timeout bounds one invalidation against the cache store.
	Timeout time.Duration
	// RoleIndex enables targeted ROLE_PERMISSION invalidation. Without it
	// every role-scoped event clears the whole cache.
	RoleIndex RoleIndex
	Logger    *slog.Logger
}

// CoordinatorStats counts coordinator activity.
type CoordinatorStats struct {
	Published uint64 `json:"published"`
	Applied   uint64 `json:"applied"`
	Failed    uint64 `json:"failed"`
	Fallbacks uint64 `json:"fallbacks"`
}

type job struct {
	event Event
	ack   chan struct{}
}

// Coordinator applies invalidation events to a Cache off the request path.
// Events are applied in publish order by a single worker goroutine.
type Coordinator struct {
	cache   *Cache
	cfg     CoordinatorConfig
	logger  *slog.Logger
	ch      chan job
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	closeMu sync.Once

	published atomic.Uint64
	applied   atomic.Uint64
	failed    atomic.Uint64
	fallbacks atomic.Uint64
}

// NewCoordinator starts the worker. Call Close to stop it.
func NewCoordinator(cache *Cache, cfg CoordinatorConfig) *Coordinator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Coordinator{
		cache:  cache,
		cfg:    cfg,
		logger: cfg.Logger,
		ch:     make(chan job, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	for {
		select {
		case j := <-c.ch:
			c.handle(j)
		case <-c.done:
			for {
				select {
				case j := <-c.ch:
					c.handle(j)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) handle(j job) {
	if j.ack != nil {
		close(j.ack)
		return
	}
	c.applyLogged(j.event)
}

func (c *Coordinator) applyLogged(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	if err := c.Apply(ctx, ev); err != nil {
		c.failed.Add(1)
		c.logger.Error("schoolauth: cache invalidation failed",
			"kind", string(ev.Kind), "ids", len(ev.IDs), "error", err)
		return
	}
	c.applied.Add(1)
}

// Publish enqueues ev. It never blocks: when the queue is full the whole
// cache is cleared synchronously instead. After Close, events are applied
// inline.
func (c *Coordinator) Publish(ev Event) error {
	if _, err := ParseKind(string(ev.Kind)); err != nil {
		return err
	}
	c.published.Add(1)

	if c.closed.Load() {
		c.applyLogged(ev)
		return nil
	}
	select {
	case c.ch <- job{event: ev}:
	case <-c.done:
		c.applyLogged(ev)
	default:
		c.fallbacks.Add(1)
		c.logger.Warn("schoolauth: invalidation queue full, clearing permission cache",
			"kind", string(ev.Kind))
		c.applyLogged(Event{Kind: KindAll})
	}
	return nil
}

// AfterCommit runs tx and publishes ev only when tx succeeds. The error from
// tx is returned unchanged.
func (c *Coordinator) AfterCommit(ctx context.Context, tx func(context.Context) error, ev Event) error {
	if err := tx(ctx); err != nil {
		return err
	}
	return c.Publish(ev)
}

// Apply performs the invalidation for ev synchronously.
func (c *Coordinator) Apply(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindUser, KindUserRole:
		return c.cache.InvalidateUsers(ctx, ev.IDs...)
	case KindRolePermission:
		if c.cfg.RoleIndex == nil || len(ev.IDs) == 0 {
			return c.cache.InvalidateAll(ctx)
		}
		users, err := c.cfg.RoleIndex.UsersWithRoles(ctx, ev.IDs)
		if err != nil {
			c.logger.Warn("schoolauth: role index lookup failed, clearing permission cache", "error", err)
			return c.cache.InvalidateAll(ctx)
		}
		return c.cache.InvalidateUsers(ctx, users...)
	case KindRole, KindPermission, KindAll:
		// Role membership may already be gone from the index once a role
		// mutation commits.
		return c.cache.InvalidateAll(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
}

// Flush blocks until every event published before the call has been applied.
func (c *Coordinator) Flush(ctx context.Context) error {
	if c.closed.Load() {
		return ErrCoordinatorClosed
	}
	ack := make(chan struct{})
	select {
	case c.ch <- job{ack: ack}:
	case <-c.done:
		return ErrCoordinatorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting queued work and waits for pending events to apply.
func (c *Coordinator) Close() {
	if c == nil {
		return
	}
	c.closeMu.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.wg.Wait()
		// Publishers that raced Close may still have enqueued.
		for {
			select {
			case j := <-c.ch:
				c.handle(j)
			default:
				return
			}
		}
	})
}

// Stats reports coordinator counters.
func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		Published: c.published.Load(),
		Applied:   c.applied.Load(),
		Failed:    c.failed.Load(),
		Fallbacks: c.fallbacks.Load(),
	}
}
