package app

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"devserve/internal/domain"
)

// mockStore is an in-memory RecordStore.
type mockStore struct {
	mu      sync.Mutex
	rec     *domain.InstanceRecord
	removes int
	writes  []domain.InstanceRecord
}

func newMockStore(rec *domain.InstanceRecord) *mockStore {
	return &mockStore{rec: rec}
}

func (m *mockStore) Path() string { return "/tmp/devserve-test.json" }

func (m *mockStore) Read() (domain.InstanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil || !m.rec.Valid() {
		return domain.InstanceRecord{}, domain.ErrNoRecord
	}
	return *m.rec, nil
}

func (m *mockStore) Write(rec domain.InstanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	m.writes = append(m.writes, rec)
	return nil
}

func (m *mockStore) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	m.removes++
	return nil
}

func (m *mockStore) RemoveIfOwned(pid int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil || m.rec.PID != pid {
		return false, nil
	}
	m.rec = nil
	return true, nil
}

func (m *mockStore) current() *domain.InstanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// mockPeer answers with configured replies and counts calls.
type mockPeer struct {
	mu sync.Mutex

	shutdownFn func(addr, token string) (domain.ShutdownReply, error)
	probeFn    func(n int) bool
	infoFn     func(addr string) (domain.InstanceInfo, error)

	shutdownCalls int
	probeCalls    int
	lastAddr      string
	lastToken     string
}

func (m *mockPeer) RequestShutdown(_ context.Context, addr, token string) (domain.ShutdownReply, error) {
	m.mu.Lock()
	m.shutdownCalls++
	m.lastAddr = addr
	m.lastToken = token
	m.mu.Unlock()
	return m.shutdownFn(addr, token)
}

func (m *mockPeer) Probe(_ context.Context, _ string) bool {
	m.mu.Lock()
	m.probeCalls++
	n := m.probeCalls
	m.mu.Unlock()
	if m.probeFn == nil {
		return false
	}
	return m.probeFn(n)
}

func (m *mockPeer) Info(_ context.Context, addr string) (domain.InstanceInfo, error) {
	return m.infoFn(addr)
}

func (m *mockPeer) calls() (shutdown, probe int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownCalls, m.probeCalls
}

// mockRunner fails Listen with listenErr, counting attempts.
type mockRunner struct {
	listenErr error
	attempts  []int
}

func (m *mockRunner) Listen(_ string, port int) (net.Listener, error) {
	m.attempts = append(m.attempts, port)
	return nil, m.listenErr
}

func (m *mockRunner) Start(net.Listener, http.Handler) (func() error, func(time.Duration), error) {
	panic("mockRunner.Start should not be reached")
}

// mockTokenGen returns a fixed token.
type mockTokenGen struct {
	token string
	err   error
}

func (m *mockTokenGen) Generate() (string, error) {
	return m.token, m.err
}

// mockMetrics records observations.
type mockMetrics struct {
	mu        sync.Mutex
	outcomes  []domain.Outcome
	accepted  int
	forbidden int
	reloads   int
	clients   int
}

func (m *mockMetrics) ObserveNegotiation(o domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
}

func (m *mockMetrics) ObserveShutdownRequest(accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accepted {
		m.accepted++
	} else {
		m.forbidden++
	}
}

func (m *mockMetrics) ObserveReload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
}

func (m *mockMetrics) SetReloadClients(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = n
}

func (m *mockMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
}

func (m *mockMetrics) shutdownCounts() (accepted, forbidden int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted, m.forbidden
}

func (m *mockMetrics) lastOutcome() domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outcomes) == 0 {
		return -1
	}
	return m.outcomes[len(m.outcomes)-1]
}

// mockLogger collects messages.
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) add(msg string) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
}

func (m *mockLogger) Debug(msg string, args ...any) { m.add("DEBUG: " + msg) }
func (m *mockLogger) Info(msg string, args ...any)  { m.add(msg) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.add("WARN: " + msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.add("ERROR: " + msg) }
