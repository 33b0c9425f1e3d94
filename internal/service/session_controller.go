// Package service provides the business logic layer (use cases).
// SessionController owns the process-wide session state: initial recovery,
// auth events, impersonation and the account operations built on them.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/observability"
	"github.com/maspatas/maspatas-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var sessionTracer = otel.Tracer("service/session")

// GhostKey is the durable key holding the impersonation record.
const GhostKey = "maspatas.ghost"

// DefaultInitTimeout bounds the initial session lookup.
const DefaultInitTimeout = 15 * time.Second

// ControllerConfig tunes a SessionController.
type ControllerConfig struct {
	InitTimeout      time.Duration
	OAuthRedirectURL string
}

// SessionController is the single writer of the session state. Every
// transition, whether triggered by an auth event or by an explicit
// operation, runs under opMu, so consumers never observe a half-applied
// change.
type SessionController struct {
	auth     port.AuthProvider
	resolver *ProfileResolver
	profiles port.ProfileStore
	kv       port.KeyValueStore
	queries  port.Cache[*domain.User]
	state    *StateStore
	metrics  *observability.Metrics
	logger   *zap.Logger
	cfg      ControllerConfig

	opMu  sync.Mutex
	ghost *domain.GhostRecord // guarded by opMu

	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	lifeMu  sync.Mutex
	started bool   // guarded by lifeMu
	unsub   func() // guarded by lifeMu
}

// NewSessionController wires a controller. It does nothing until Start.
func NewSessionController(
	auth port.AuthProvider,
	resolver *ProfileResolver,
	profiles port.ProfileStore,
	kv port.KeyValueStore,
	queries port.Cache[*domain.User],
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg ControllerConfig,
) *SessionController {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	return &SessionController{
		auth:     auth,
		resolver: resolver,
		profiles: profiles,
		kv:       kv,
		queries:  queries,
		state:    NewStateStore(),
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns a copy of the published triple.
func (c *SessionController) State() domain.SessionState {
	return c.state.Snapshot()
}

// Subscribe streams the published triple after every change.
func (c *SessionController) Subscribe() (<-chan domain.SessionState, func()) {
	return c.state.Subscribe()
}

// TrueUser is the signed-in principal: the admin while ghosting, otherwise
// the visible user.
func (c *SessionController) TrueUser() *domain.User {
	st := c.state.Snapshot()
	if st.IsGhosting != nil {
		return st.IsGhosting
	}
	return st.CurrentUser
}

// IsGhosting reports whether an impersonation is active.
func (c *SessionController) IsGhosting() bool {
	return c.state.Snapshot().IsGhosting != nil
}

// Done is closed once the dispatcher has exited after Close.
func (c *SessionController) Done() <-chan struct{} {
	return c.done
}

// Start restores a persisted impersonation synchronously, then launches the
// dispatcher, which performs the bounded initial session lookup and
// afterwards applies auth events in arrival order.
// Start after Close does nothing.
func (c *SessionController) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.lifeMu.Lock()
		defer c.lifeMu.Unlock()
		if !c.alive() {
			return
		}

		c.restoreGhost(ctx)

		events, unsub := c.auth.Subscribe()
		c.unsub = unsub
		c.started = true
		go c.run(ctx, events)
	})
}

// Close tears the controller down. Results of in-flight work are dropped.
// Done is closed even when the controller was never started.
func (c *SessionController) Close() {
	c.closeOnce.Do(func() {
		c.lifeMu.Lock()
		defer c.lifeMu.Unlock()

		c.closed.Store(true)
		close(c.stop)
		if c.unsub != nil {
			c.unsub()
		}
		if !c.started {
			close(c.done)
		}
	})
}

func (c *SessionController) alive() bool {
	return !c.closed.Load()
}

func (c *SessionController) run(ctx context.Context, events <-chan domain.AuthEvent) {
	defer close(c.done)

	c.initialize(ctx)

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case ev := <-events:
			c.HandleEvent(ctx, ev)
		}
	}
}

// ============================================================
// Initialization
// ============================================================

func (c *SessionController) restoreGhost(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	rec, err := c.loadGhostRecord(ctx)
	if err != nil {
		c.logger.Warn("discarding unreadable ghost record", zap.Error(err))
		c.removeGhostRecord(ctx)
		return
	}
	if rec == nil {
		return
	}

	c.ghost = rec
	c.state.Update(func(st *domain.SessionState) {
		st.IsGhosting = rec.AdminUser.Clone()
		st.CurrentUser = rec.TargetUser.Clone()
	})
	c.logger.Info("restored ghost session",
		zap.String("admin_id", rec.AdminUser.ID),
		zap.Bool("has_target", rec.TargetUser != nil),
	)
}

type sessionResult struct {
	session *domain.Session
	err     error
}

func (c *SessionController) initialize(ctx context.Context) {
	ctx, span := sessionTracer.Start(ctx, "SessionController.Initialize")
	defer span.End()

	results := make(chan sessionResult, 1)
	go func() {
		s, err := c.auth.GetSession(ctx)
		results <- sessionResult{session: s, err: err}
	}()

	timer := time.NewTimer(c.cfg.InitTimeout)
	defer timer.Stop()

	var (
		session *domain.Session
		reason  = observability.TransitionAnonymous
	)
	select {
	case r := <-results:
		if r.err != nil {
			c.logger.Warn("initial session lookup failed, continuing as guest", zap.Error(r.err))
		}
		session = r.session
	case <-timer.C:
		c.logger.Warn("initial session lookup timed out, continuing as guest",
			zap.Duration("timeout", c.cfg.InitTimeout),
		)
		reason = observability.TransitionTimeout
	case <-c.stop:
		return
	case <-ctx.Done():
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.alive() {
		return
	}

	if session == nil || session.Identity.ID == "" {
		c.metrics.IncrTransition(reason)
		c.dropGhostLocked(ctx)
		c.state.Update(func(st *domain.SessionState) {
			st.CurrentUser = nil
			st.IsGhosting = nil
			st.Loading = false
		})
		return
	}

	span.SetAttributes(attribute.String("user.id", session.Identity.ID))
	c.metrics.IncrTransition(observability.TransitionAuthenticated)
	c.applyIdentityLocked(ctx, session.Identity)
}

// ============================================================
// Transitions
// ============================================================

// HandleEvent applies one auth event. The dispatcher calls it in arrival
// order; it is exported for callers that drive the controller directly.
func (c *SessionController) HandleEvent(ctx context.Context, ev domain.AuthEvent) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.alive() {
		return
	}

	switch ev.Type {
	case domain.AuthEventSignedIn, domain.AuthEventTokenRefreshed, domain.AuthEventUserUpdated:
		if ev.Identity == nil || ev.Identity.ID == "" {
			c.logger.Warn("auth event without identity", zap.String("type", string(ev.Type)))
			return
		}
		c.applyIdentityLocked(ctx, *ev.Identity)
	case domain.AuthEventSignedOut:
		c.applySignOutLocked(ctx)
	default:
		c.logger.Warn("ignoring unknown auth event", zap.String("type", string(ev.Type)))
	}
}

// applyIdentityLocked moves to Authenticated for identity. Must hold opMu.
func (c *SessionController) applyIdentityLocked(ctx context.Context, identity domain.Identity) {
	st := c.state.Snapshot()

	if c.ghost != nil {
		if identity.ID == c.ghost.AdminUser.ID && c.ghost.TargetUser != nil {
			c.metrics.IncrTransition(observability.TransitionGhostKept)
			if st.Loading {
				c.state.Update(func(st *domain.SessionState) { st.Loading = false })
			}
			return
		}
		c.logger.Info("session identity changed while ghosting, ending impersonation",
			zap.String("admin_id", c.ghost.AdminUser.ID),
			zap.String("identity_id", identity.ID),
		)
		c.dropGhostLocked(ctx)
		st = c.state.Update(func(st *domain.SessionState) {
			st.CurrentUser = nil
			st.IsGhosting = nil
		})
	} else if st.CurrentUser != nil && st.CurrentUser.ID == identity.ID {
		c.metrics.IncrTransition(observability.TransitionDuplicate)
		return
	}

	c.metrics.IncrTransition(observability.TransitionIdentityChange)
	c.queries.Purge()
	if !st.Loading {
		c.state.Update(func(st *domain.SessionState) { st.Loading = true })
	}

	res := c.resolver.Resolve(ctx, identity)
	if !c.alive() {
		return
	}
	if res.Kind == Exhausted {
		c.logger.Error("no profile for identity, publishing no user", zap.String("user_id", identity.ID))
	}

	c.state.Update(func(st *domain.SessionState) {
		st.CurrentUser = res.User
		st.IsGhosting = nil
		st.Loading = false
	})
}

// applySignOutLocked moves to Anonymous. Sign-out also ends any
// impersonation. Must hold opMu.
func (c *SessionController) applySignOutLocked(ctx context.Context) {
	c.metrics.IncrTransition(observability.TransitionSignedOut)
	c.dropGhostLocked(ctx)
	c.queries.Purge()
	c.state.Update(func(st *domain.SessionState) {
		st.CurrentUser = nil
		st.IsGhosting = nil
		st.Loading = false
	})
}

// ============================================================
// Ghost record persistence
// ============================================================

func (c *SessionController) loadGhostRecord(ctx context.Context) (*domain.GhostRecord, error) {
	raw, ok, err := c.kv.Get(ctx, GhostKey)
	if err != nil {
		return nil, fmt.Errorf("read ghost record: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec domain.GhostRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode ghost record: %w", err)
	}
	if rec.AdminUser == nil || rec.AdminUser.ID == "" {
		return nil, fmt.Errorf("decode ghost record: missing admin user")
	}
	return &rec, nil
}

func (c *SessionController) saveGhostRecord(ctx context.Context, rec *domain.GhostRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ghost record: %w", err)
	}
	if err := c.kv.Set(ctx, GhostKey, string(raw)); err != nil {
		return fmt.Errorf("persist ghost record: %w", err)
	}
	return nil
}

func (c *SessionController) removeGhostRecord(ctx context.Context) {
	if err := c.kv.Remove(ctx, GhostKey); err != nil {
		c.logger.Error("failed to remove ghost record", zap.Error(err))
	}
}

// dropGhostLocked forgets the impersonation in memory and on disk. It does
// not touch the published state. Must hold opMu.
func (c *SessionController) dropGhostLocked(ctx context.Context) {
	if c.ghost == nil {
		return
	}
	c.ghost = nil
	c.removeGhostRecord(ctx)
}

// publishVisibleLocked replaces the visible user after a profile edit,
// keeping the persisted target in sync while ghosting. Must hold opMu.
func (c *SessionController) publishVisibleLocked(ctx context.Context, u *domain.User) {
	if c.ghost != nil {
		c.ghost.TargetUser = u.Clone()
		if err := c.saveGhostRecord(ctx, c.ghost); err != nil {
			c.logger.Warn("failed to refresh ghost record", zap.Error(err))
		}
	}
	c.state.Update(func(st *domain.SessionState) {
		st.CurrentUser = u.Clone()
	})
}

var errClosed = &domain.ErrState{Message: "session controller closed"}

// lockLive takes opMu when the controller is still alive.
func (c *SessionController) lockLive() error {
	c.opMu.Lock()
	if !c.alive() {
		c.opMu.Unlock()
		return errClosed
	}
	return nil
}
