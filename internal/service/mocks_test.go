package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/cache"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/kvstore"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/observability"
	"github.com/maspatas/maspatas-bfa-go/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

type mockAuth struct {
	mu         sync.Mutex
	session    *domain.Session
	sessionErr error
	block      chan struct{}
	events     chan domain.AuthEvent

	signInErr     error
	signOutErr    error
	signUpConfirm bool
	resetEmails   []string
	passwords     []string
	getCalls      int
	subscribes    int
}

func newMockAuth(identity *domain.Identity) *mockAuth {
	m := &mockAuth{events: make(chan domain.AuthEvent, 32)}
	if identity != nil {
		m.session = sessionFor(*identity)
	}
	return m
}

func sessionFor(identity domain.Identity) *domain.Session {
	return &domain.Session{
		AccessToken:  "access-" + identity.ID,
		RefreshToken: "refresh-" + identity.ID,
		ExpiresAt:    time.Now().Add(time.Hour),
		Identity:     identity,
	}
}

func (m *mockAuth) emit(ev domain.AuthEvent) {
	select {
	case m.events <- ev:
	default:
	}
}

func (m *mockAuth) Subscribe() (<-chan domain.AuthEvent, func()) {
	m.mu.Lock()
	m.subscribes++
	m.mu.Unlock()
	return m.events, func() {}
}

func (m *mockAuth) GetSession(ctx context.Context) (*domain.Session, error) {
	m.mu.Lock()
	m.getCalls++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *mockAuth) setSession(s *domain.Session) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}

func (m *mockAuth) SignInWithPassword(_ context.Context, email, _ string) (*domain.Session, error) {
	if m.signInErr != nil {
		return nil, m.signInErr
	}
	s := sessionFor(domain.Identity{ID: "id-" + email, Email: email})
	m.setSession(s)
	m.emit(domain.SignedIn(s.Identity))
	return s, nil
}

func (m *mockAuth) SignUp(_ context.Context, email, _ string, metadata map[string]any) (*domain.Session, *domain.Identity, error) {
	identity := domain.Identity{ID: "id-" + email, Email: email, Metadata: metadata}
	if m.signUpConfirm {
		return nil, &identity, nil
	}
	s := sessionFor(identity)
	m.setSession(s)
	m.emit(domain.SignedIn(identity))
	return s, &identity, nil
}

func (m *mockAuth) SignOut(_ context.Context) error {
	m.setSession(nil)
	m.emit(domain.SignedOut())
	return m.signOutErr
}

func (m *mockAuth) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	return "https://example.supabase.co/auth/v1/authorize?provider=" + provider + "&redirect_to=" + redirectTo, nil
}

func (m *mockAuth) ExchangeCodeForSession(_ context.Context, code string) (*domain.Session, error) {
	if code == "" {
		return nil, &domain.ErrValidation{Field: "code", Message: "required"}
	}
	s := sessionFor(domain.Identity{ID: "google-user", Email: "g@x.com", Provider: "google"})
	m.setSession(s)
	return s, nil
}

func (m *mockAuth) ResetPasswordForEmail(_ context.Context, email, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetEmails = append(m.resetEmails, email)
	return nil
}

func (m *mockAuth) UpdatePassword(_ context.Context, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords = append(m.passwords, password)
	return nil
}

type mockStore struct {
	mu          sync.Mutex
	profiles    map[string]*domain.Profile
	getErr      error
	createErr   error
	updateErr   error
	dropCreates bool
	getCalls    int
	createCalls int
	created     []*domain.Profile
	pings       int
}

func newMockStore(profiles ...*domain.Profile) *mockStore {
	m := &mockStore{profiles: make(map[string]*domain.Profile)}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *mockStore) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) CreateProfile(_ context.Context, p *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, p)
	if _, exists := m.profiles[p.ID]; !exists && !m.dropCreates {
		cp := *p
		m.profiles[p.ID] = &cp
	}
	return nil
}

// UpdateProfile merges columns through the JSON column names.
func (m *mockStore) UpdateProfile(_ context.Context, userID string, columns map[string]any) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}

	raw, _ := json.Marshal(p)
	row := map[string]any{}
	json.Unmarshal(raw, &row)
	for k, v := range columns {
		row[k] = v
	}
	raw, _ = json.Marshal(row)
	var updated domain.Profile
	if err := json.Unmarshal(raw, &updated); err != nil {
		return nil, err
	}
	m.profiles[userID] = &updated
	cp := updated
	return &cp, nil
}

func (m *mockStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return m.getErr
}

func (m *mockStore) counts() (gets, creates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls, m.createCalls
}

// --- Fixtures ---

var (
	adminIdentity  = domain.Identity{ID: "admin-1", Email: "admin@maspatas.pe"}
	targetIdentity = domain.Identity{ID: "user-2", Email: "b@x.com"}
	errDB          = errors.New("connection refused")
)

func adminProfile() *domain.Profile {
	return &domain.Profile{ID: adminIdentity.ID, Email: adminIdentity.Email, Username: "root", Role: domain.RoleSuperadmin}
}

func targetProfile() *domain.Profile {
	return &domain.Profile{ID: targetIdentity.ID, Email: targetIdentity.Email, Username: "bea"}
}

type harness struct {
	auth    *mockAuth
	store   *mockStore
	kv      *kvstore.Memory
	queries *cache.InMemory[*domain.User]
	metrics *observability.Metrics
	ctl     *service.SessionController
}

func newHarness(t *testing.T, auth *mockAuth, store *mockStore) *harness {
	t.Helper()
	h := &harness{
		auth:    auth,
		store:   store,
		kv:      kvstore.NewMemory(),
		queries: cache.New[*domain.User](16, time.Minute),
		metrics: observability.NewMetrics(),
	}
	logger := zap.NewNop()
	resolver := service.NewProfileResolver(store, h.metrics, logger)
	h.ctl = service.NewSessionController(auth, resolver, store, h.kv, h.queries, h.metrics, logger,
		service.ControllerConfig{InitTimeout: 100 * time.Millisecond, OAuthRedirectURL: "http://localhost:3000/auth/callback"})
	t.Cleanup(h.ctl.Close)
	return h
}

// start launches the controller and waits for initialization to settle.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.ctl.Start(context.Background())
	waitFor(t, func() bool { return !h.ctl.State().Loading })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func currentID(st domain.SessionState) string {
	if st.CurrentUser == nil {
		return ""
	}
	return st.CurrentUser.ID
}
