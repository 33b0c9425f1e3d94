package service

import (
	"context"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Impersonation ("ghosting")
// ============================================================

// GhostLogin shows target as the current user while keeping the admin's
// session. Only a superadmin may ghost; ghosting again while already
// ghosting switches target and keeps the original admin.
func (c *SessionController) GhostLogin(ctx context.Context, target *domain.User) error {
	ctx, span := sessionTracer.Start(ctx, "SessionController.GhostLogin")
	defer span.End()

	if err := c.lockLive(); err != nil {
		return err
	}
	defer c.opMu.Unlock()

	st := c.state.Snapshot()
	admin := st.CurrentUser
	if c.ghost != nil {
		admin = c.ghost.AdminUser
	}
	if !admin.IsSuperadmin() {
		return &domain.ErrForbidden{Action: "ghost login"}
	}
	if target == nil || target.ID == "" || target.Email == "" {
		return &domain.ErrValidation{Field: "target", Message: "invalid target"}
	}
	if target.ID == admin.ID {
		return &domain.ErrValidation{Field: "target", Message: "cannot ghost as yourself"}
	}
	span.SetAttributes(
		attribute.String("admin.id", admin.ID),
		attribute.String("target.id", target.ID),
	)

	rec := &domain.GhostRecord{AdminUser: admin.Clone(), TargetUser: target.Clone()}
	if err := c.saveGhostRecord(ctx, rec); err != nil {
		return err
	}
	c.ghost = rec

	c.state.Update(func(st *domain.SessionState) {
		st.CurrentUser = target.Clone()
		st.IsGhosting = admin.Clone()
		st.Loading = false
	})
	c.metrics.IncrGhost("login")
	c.logger.Info("ghost login",
		zap.String("admin_id", admin.ID),
		zap.String("target_id", target.ID),
	)
	return nil
}

// StopGhosting ends the impersonation and republishes the admin, resolved
// again from the live session identity.
func (c *SessionController) StopGhosting(ctx context.Context) error {
	ctx, span := sessionTracer.Start(ctx, "SessionController.StopGhosting")
	defer span.End()

	if err := c.lockLive(); err != nil {
		return err
	}
	defer c.opMu.Unlock()

	_, present, err := c.kv.Get(ctx, GhostKey)
	if err != nil {
		return err
	}
	if !present {
		return &domain.ErrState{Message: "no ghost session"}
	}
	rec, err := c.loadGhostRecord(ctx)
	if err != nil {
		c.logger.Warn("ghost record unreadable, stopping anyway", zap.Error(err))
		rec = c.ghost
	}
	if rec == nil {
		rec = &domain.GhostRecord{}
	}

	if err := c.kv.Remove(ctx, GhostKey); err != nil {
		return err
	}
	c.ghost = nil

	admin := c.resolveAdmin(ctx, rec.AdminUser)
	if !c.alive() {
		return errClosed
	}

	c.state.Update(func(st *domain.SessionState) {
		st.CurrentUser = admin
		st.IsGhosting = nil
		st.Loading = false
	})
	c.queries.Purge()
	c.metrics.IncrGhost("stop")
	if admin != nil {
		c.logger.Info("ghost session stopped", zap.String("admin_id", admin.ID))
	} else {
		c.logger.Info("ghost session stopped without a live session")
	}
	return nil
}

// resolveAdmin re-reads the admin from the live identity. The persisted
// snapshot is only used when the session cannot be read or the profile is
// unresolvable; no live session yields no user.
func (c *SessionController) resolveAdmin(ctx context.Context, snapshot *domain.User) *domain.User {
	session, err := c.auth.GetSession(ctx)
	if err != nil {
		c.logger.Warn("session lookup failed while stopping ghost, using stored admin", zap.Error(err))
		return snapshot.Clone()
	}
	if session == nil {
		c.logger.Warn("no live session while stopping ghost")
		return nil
	}

	res := c.resolver.Resolve(ctx, session.Identity)
	if res.User == nil {
		c.logger.Error("admin profile unresolvable, using stored admin", zap.String("user_id", session.Identity.ID))
		return snapshot.Clone()
	}
	return res.User
}
