package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/observability"
	"github.com/maspatas/maspatas-bfa-go/internal/port"

	"go.uber.org/zap"
)

// DefaultKeepAliveInterval is the pulse period.
const DefaultKeepAliveInterval = 60 * time.Second

const pingTimeout = 10 * time.Second

// SessionGetter is the part of the auth provider the pulse needs.
type SessionGetter interface {
	GetSession(ctx context.Context) (*domain.Session, error)
}

// KeepAlive touches the database on a fixed period and whenever the app
// becomes visible again, as long as a session is live. It never changes the
// session state and never surfaces errors.
type KeepAlive struct {
	sessions  SessionGetter
	db        port.Pinger
	functions port.FunctionsPinger
	interval  time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger

	hidden atomic.Bool
	wake   chan struct{}
}

// NewKeepAlive creates the pulse. functions may be nil.
func NewKeepAlive(sessions SessionGetter, db port.Pinger, functions port.FunctionsPinger, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) *KeepAlive {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	return &KeepAlive{
		sessions:  sessions,
		db:        db,
		functions: functions,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// SetVisible records a visibility change. Becoming visible after being
// hidden triggers an immediate pulse.
func (k *KeepAlive) SetVisible(visible bool) {
	wasHidden := k.hidden.Swap(!visible)
	if visible && wasHidden {
		select {
		case k.wake <- struct{}{}:
		default:
		}
	}
}

// Run pulses until ctx is cancelled.
func (k *KeepAlive) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.Pulse(ctx)
		case <-k.wake:
			k.Pulse(ctx)
		}
	}
}

// Pulse performs one keep-alive round.
func (k *KeepAlive) Pulse(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	session, err := k.sessions.GetSession(ctx)
	if err != nil {
		k.logger.Warn("keep-alive: session lookup failed", zap.Error(err))
		return
	}
	if session == nil {
		return
	}

	if err := k.db.Ping(ctx); err != nil {
		k.metrics.IncrKeepAlive(false)
		k.logger.Warn("keep-alive: database ping failed",
			zap.String("user_id", session.Identity.ID),
			zap.Error(err),
		)
	} else {
		k.metrics.IncrKeepAlive(true)
		k.logger.Debug("keep-alive: database ping ok")
	}

	if k.functions != nil {
		if err := k.functions.Ping(ctx); err != nil {
			k.logger.Warn("keep-alive: functions warm-up failed", zap.Error(err))
		}
	}
}
