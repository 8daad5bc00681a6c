package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/runner"
)

func TestServer_StartAcceptsRun(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	server := NewServer(ctrl, zap.NewNop(), Options{})

	rec := doRequest(server, http.MethodPost, "/v1/run/start", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var st runner.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	require.Equal(t, "run-1", st.RunID)
	require.Equal(t, "running", st.State)
}

func TestServer_StartConflictsWhileRunning(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{startErr: runner.ErrRunInProgress}
	server := NewServer(ctrl, zap.NewNop(), Options{})

	rec := doRequest(server, http.MethodPost, "/v1/run/start", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already in progress")
}

func TestServer_PauseResumeToggle(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	server := NewServer(ctrl, zap.NewNop(), Options{})
	doRequest(server, http.MethodPost, "/v1/run/start", nil)

	rec := doRequest(server, http.MethodPost, "/v1/run/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"paused"`)

	rec = doRequest(server, http.MethodPost, "/v1/run/pause", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(server, http.MethodPost, "/v1/run/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"running"`)

	rec = doRequest(server, http.MethodPost, "/v1/run/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"paused"`)
}

func TestServer_CancelWithoutRun(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeController{}, zap.NewNop(), Options{})

	rec := doRequest(server, http.MethodPost, "/v1/run/cancel", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "no active crawl run")
}

func TestServer_CancelReturnsFinalStatus(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	server := NewServer(ctrl, zap.NewNop(), Options{})
	doRequest(server, http.MethodPost, "/v1/run/start", nil)

	rec := doRequest(server, http.MethodPost, "/v1/run/cancel", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"cancelled"`)
}

func TestServer_StatusIncludesLog(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{log: []string{"[2024-01-02 03:04:05] (INFO) crawling"}}
	server := NewServer(ctrl, zap.NewNop(), Options{})

	rec := doRequest(server, http.MethodGet, "/v1/run/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "(INFO) crawling")
	require.Contains(t, rec.Body.String(), `"state":"idle"`)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeController{}, zap.NewNop(), Options{})

	rec := doRequest(server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(server, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeController{}, zap.NewNop(), Options{APIKey: "secret"})

	rec := doRequest(server, http.MethodGet, "/v1/run/status", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(server, http.MethodGet, "/v1/run/status", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = doRequest(server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := doRequest(NewServer(&fakeController{}, nil, Options{}), http.MethodGet, "/healthz", nil)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeController{panicOnStatus: true}, zap.NewNop(), Options{})

	rec := doRequest(server, http.MethodGet, "/v1/run/status", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func doRequest(s *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeController struct {
	mu            sync.Mutex
	state         string
	outcome       runner.Outcome
	startErr      error
	log           []string
	panicOnStatus bool
}

func (f *fakeController) snapshot() runner.Status {
	state := f.state
	if state == "" {
		state = "idle"
	}
	return runner.Status{RunID: "run-1", State: state, Outcome: f.outcome, Log: f.log}
}

func (f *fakeController) Start() (runner.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return runner.Status{}, f.startErr
	}
	f.state = "running"
	f.outcome = runner.OutcomeRunning
	return f.snapshot(), nil
}

func (f *fakeController) move(from, to string) (runner.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" || f.state == "idle" {
		return f.snapshot(), runner.ErrNoActiveRun
	}
	if f.state != from {
		return f.snapshot(), fmt.Errorf("%w from %s", runner.ErrInvalidTransition, f.state)
	}
	f.state = to
	return f.snapshot(), nil
}

func (f *fakeController) Pause() (runner.Status, error)  { return f.move("running", "paused") }
func (f *fakeController) Resume() (runner.Status, error) { return f.move("paused", "running") }

func (f *fakeController) TogglePause() (runner.Status, error) {
	f.mu.Lock()
	from := f.state
	f.mu.Unlock()
	if from == "paused" {
		return f.move("paused", "running")
	}
	return f.move("running", "paused")
}

func (f *fakeController) Cancel(_ context.Context) (runner.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" || f.state == "idle" {
		return f.snapshot(), runner.ErrNoActiveRun
	}
	f.state = "idle"
	f.outcome = runner.OutcomeCancelled
	return f.snapshot(), nil
}

func (f *fakeController) Status() runner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnStatus {
		panic("status exploded")
	}
	return f.snapshot()
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
