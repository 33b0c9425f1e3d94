package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/observability"
)

func TestInit_AuthenticatedSession(t *testing.T) {
	h := newHarness(t, newMockAuth(&adminIdentity), newMockStore(adminProfile()))
	h.start(t)

	st := h.ctl.State()
	if currentID(st) != adminIdentity.ID || st.IsGhosting != nil {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.CurrentUser.Email != adminIdentity.Email {
		t.Errorf("expected identity email, got %q", st.CurrentUser.Email)
	}
	if h.metrics.TransitionCount(observability.TransitionAuthenticated) != 1 {
		t.Error("expected authenticated transition")
	}
}

func TestInit_NoSessionIsAnonymous(t *testing.T) {
	h := newHarness(t, newMockAuth(nil), newMockStore())
	h.start(t)

	st := h.ctl.State()
	if st.CurrentUser != nil || st.Loading {
		t.Fatalf("expected anonymous state, got %+v", st)
	}
}

func TestInit_SessionErrorFailsOpen(t *testing.T) {
	auth := newMockAuth(&adminIdentity)
	auth.sessionErr = errDB
	h := newHarness(t, auth, newMockStore(adminProfile()))
	h.start(t)

	if st := h.ctl.State(); st.CurrentUser != nil || st.Loading {
		t.Fatalf("expected anonymous state, got %+v", st)
	}
}

func TestInit_TimeoutFailsOpen(t *testing.T) {
	auth := newMockAuth(&adminIdentity)
	auth.block = make(chan struct{})
	defer close(auth.block)
	h := newHarness(t, auth, newMockStore(adminProfile()))

	h.ctl.Start(context.Background())
	if !h.ctl.State().Loading {
		t.Fatal("expected loading while the session lookup is pending")
	}

	waitFor(t, func() bool { return !h.ctl.State().Loading })
	if st := h.ctl.State(); st.CurrentUser != nil {
		t.Fatalf("expected no user after timeout, got %+v", st)
	}
	if h.metrics.TransitionCount(observability.TransitionTimeout) != 1 {
		t.Error("expected timeout transition")
	}
}

func TestIdentityChange_DuplicateIsNoop(t *testing.T) {
	store := newMockStore(adminProfile())
	h := newHarness(t, newMockAuth(&adminIdentity), store)
	h.start(t)
	gets, _ := store.counts()

	updates, cancel := h.ctl.Subscribe()
	defer cancel()
	<-updates

	ctx := context.Background()
	h.ctl.HandleEvent(ctx, domain.SignedIn(adminIdentity))
	h.ctl.HandleEvent(ctx, domain.TokenRefreshed(adminIdentity))

	if after, _ := store.counts(); after != gets {
		t.Fatalf("expected no refetch, got %d lookups after %d", after, gets)
	}
	select {
	case st := <-updates:
		t.Fatalf("expected no state update, got %+v", st)
	default:
	}
	if h.metrics.TransitionCount(observability.TransitionDuplicate) != 2 {
		t.Error("expected duplicate transitions to be counted")
	}
}

func TestIdentityChange_TwoEventsOneFetch(t *testing.T) {
	store := newMockStore(targetProfile())
	h := newHarness(t, newMockAuth(nil), store)
	h.start(t)

	h.auth.emit(domain.SignedIn(targetIdentity))
	h.auth.emit(domain.SignedIn(targetIdentity))

	waitFor(t, func() bool { return currentID(h.ctl.State()) == targetIdentity.ID })
	waitFor(t, func() bool { return len(h.auth.events) == 0 })
	// the dispatcher may still hold the second event; a HandleEvent call
	// serializes behind it
	h.ctl.HandleEvent(context.Background(), domain.TokenRefreshed(targetIdentity))

	if gets, _ := store.counts(); gets != 1 {
		t.Fatalf("expected exactly one profile fetch, got %d", gets)
	}
}

func TestIdentityChange_NewIdentityPurgesQueries(t *testing.T) {
	h := newHarness(t, newMockAuth(&adminIdentity), newMockStore(adminProfile(), targetProfile()))
	h.start(t)
	h.queries.Set("user:someone", &domain.User{ID: "someone"})

	h.ctl.HandleEvent(context.Background(), domain.SignedIn(targetIdentity))

	st := h.ctl.State()
	if currentID(st) != targetIdentity.ID || st.Loading {
		t.Fatalf("unexpected state %+v", st)
	}
	if h.queries.Len() != 0 {
		t.Error("expected query cache to be purged")
	}
}

func TestIdentityChange_ExhaustedPublishesNoUser(t *testing.T) {
	store := newMockStore()
	store.dropCreates = true
	h := newHarness(t, newMockAuth(nil), store)
	h.start(t)

	h.ctl.HandleEvent(context.Background(), domain.SignedIn(domain.Identity{ID: "u9", Email: "z@x.com"}))

	st := h.ctl.State()
	if st.CurrentUser != nil || st.Loading {
		t.Fatalf("expected no user and not loading, got %+v", st)
	}
}

func TestSignOut_ClearsState(t *testing.T) {
	h := newHarness(t, newMockAuth(&adminIdentity), newMockStore(adminProfile()))
	h.start(t)
	h.queries.Set("user:x", &domain.User{ID: "x"})

	h.ctl.HandleEvent(context.Background(), domain.SignedOut())

	st := h.ctl.State()
	if st.CurrentUser != nil || st.Loading || st.IsGhosting != nil {
		t.Fatalf("expected anonymous state, got %+v", st)
	}
	if h.queries.Len() != 0 {
		t.Error("expected query cache to be purged")
	}
}

func TestEventsAreAppliedThroughDispatcher(t *testing.T) {
	h := newHarness(t, newMockAuth(nil), newMockStore(targetProfile()))
	h.start(t)

	h.auth.emit(domain.SignedIn(targetIdentity))
	waitFor(t, func() bool { return currentID(h.ctl.State()) == targetIdentity.ID })

	h.auth.emit(domain.SignedOut())
	waitFor(t, func() bool { return h.ctl.State().CurrentUser == nil })
}

func TestClose_SuppressesLateWrites(t *testing.T) {
	auth := newMockAuth(&adminIdentity)
	auth.block = make(chan struct{})
	h := newHarness(t, auth, newMockStore(adminProfile()))

	h.ctl.Start(context.Background())
	h.ctl.Close()
	close(auth.block)

	select {
	case <-h.ctl.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not exit")
	}

	h.ctl.HandleEvent(context.Background(), domain.SignedIn(adminIdentity))
	if st := h.ctl.State(); st.CurrentUser != nil || !st.Loading {
		t.Fatalf("expected untouched state after close, got %+v", st)
	}
}

func TestClose_BeforeStart(t *testing.T) {
	auth := newMockAuth(&adminIdentity)
	h := newHarness(t, auth, newMockStore(adminProfile()))

	h.ctl.Close()
	h.ctl.Start(context.Background())

	select {
	case <-h.ctl.Done():
	case <-time.After(time.Second):
		t.Fatal("Done must be closed for a controller that never ran")
	}

	auth.mu.Lock()
	subscribes := auth.subscribes
	auth.mu.Unlock()
	if subscribes != 0 {
		t.Errorf("expected no event subscription after close, got %d", subscribes)
	}
	if !h.ctl.State().Loading {
		t.Errorf("expected untouched state, got %+v", h.ctl.State())
	}
}

func TestClose_ConcurrentWithStart(t *testing.T) {
	h := newHarness(t, newMockAuth(&adminIdentity), newMockStore(adminProfile()))

	started := make(chan struct{})
	go func() {
		defer close(started)
		h.ctl.Start(context.Background())
	}()
	h.ctl.Close()
	<-started

	select {
	case <-h.ctl.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not exit")
	}
}
