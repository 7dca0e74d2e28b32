package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/lbinsight/internal/repository"
	"github.com/splax/lbinsight/internal/service/reports"
	"github.com/splax/lbinsight/internal/ws"
)

type reportsStub struct {
	latest     reports.Stored
	latestErr  error
	summaries  []reports.Summary
	listErr    error
	gotType    string
	gotLimit   int
	latestType string
}

func (s *reportsStub) Latest(_ context.Context, reportType string) (reports.Stored, error) {
	s.latestType = reportType
	return s.latest, s.latestErr
}

func (s *reportsStub) List(_ context.Context, reportType string, limit int) ([]reports.Summary, error) {
	s.gotType = reportType
	s.gotLimit = limit
	return s.summaries, s.listErr
}

type denyAllLimiter struct{ calls int }

func (l *denyAllLimiter) Allow(string, int, time.Duration) rateDecision {
	l.calls++
	return rateDecision{allowed: false, count: 3, windowEnd: time.Unix(1700000000, 0)}
}

func (l *denyAllLimiter) Close() {}

var created = time.Date(2025, time.November, 5, 12, 0, 0, 0, time.UTC)

func TestListReportsPassesFilters(t *testing.T) {
	stub := &reportsStub{summaries: []reports.Summary{{ID: 7, ReportType: "comprehensive", CreatedAt: created}}}
	router := NewRouter(nil, stub, nil, Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports?type=comprehensive&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.gotType != "comprehensive" || stub.gotLimit != 5 {
		t.Fatalf("expected type comprehensive limit 5, got %q %d", stub.gotType, stub.gotLimit)
	}
	var body struct {
		Reports []reports.Summary `json:"reports"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Reports) != 1 || body.Reports[0].ID != 7 {
		t.Fatalf("unexpected reports %+v", body.Reports)
	}
}

func TestListReportsRejectsBadLimit(t *testing.T) {
	router := NewRouter(nil, &reportsStub{}, nil, Options{})
	for _, raw := range []string{"abc", "-1"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports?limit="+raw, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for limit %q, got %d", raw, rec.Code)
		}
	}
}

func TestLatestReport(t *testing.T) {
	payload := json.RawMessage(`{"request_kpis":{"total_requests":3}}`)
	stub := &reportsStub{latest: reports.Stored{
		Summary: reports.Summary{ID: 9, ReportType: "comprehensive", CreatedAt: created},
		Report:  payload,
	}}
	router := NewRouter(nil, stub, nil, Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/latest?type=comprehensive", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.latestType != "comprehensive" {
		t.Fatalf("expected type filter to be passed, got %q", stub.latestType)
	}
	var body struct {
		ID     int64           `json:"id"`
		Report json.RawMessage `json:"report"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != 9 || !strings.Contains(string(body.Report), "total_requests") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestLatestReportErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("latest: %w", repository.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("latest: %w", repository.ErrInvalidArgument), http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := NewRouter(nil, &reportsStub{latestErr: tc.err}, nil, Options{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/latest", nil))
		if rec.Code != tc.want {
			t.Fatalf("expected %d for %v, got %d", tc.want, tc.err, rec.Code)
		}
	}
}

func TestReportRoutesRejectNonGet(t *testing.T) {
	router := NewRouter(nil, &reportsStub{}, nil, Options{})
	for _, path := range []string{"/reports", "/reports/latest", "/healthz"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405 for %s, got %d", path, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	healthy := NewRouter(nil, &reportsStub{}, nil, Options{DBHealth: func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down := NewRouter(nil, &reportsStub{}, nil, Options{DBHealth: func(context.Context) error { return errors.New("no route to host") }})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Components["warehouse"]["status"] != "down" {
		t.Fatalf("unexpected health body %s", rec.Body.String())
	}
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &denyAllLimiter{}
	stub := &reportsStub{}
	router := NewRouter(nil, stub, nil, Options{Limiter: limiter, RateLimit: 3})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" || rec.Header().Get("X-RateLimit-Limit") != "3" {
		t.Fatalf("unexpected rate headers %v", rec.Header())
	}
	if stub.gotType != "" || limiter.calls != 1 {
		t.Fatalf("expected handler not to run")
	}

	// health probes are not rate limited
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for healthz, got %d", rec.Code)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, time.November, 5, 0, 0, 0, 0, time.UTC)
	rl := &memoryRateLimiter{entries: make(map[string]rateState), now: func() time.Time { return now }, stopCh: make(chan struct{})}
	defer rl.Close()

	for i := 1; i <= 2; i++ {
		if d := rl.Allow("ip:a", 2, time.Minute); !d.allowed || d.count != i {
			t.Fatalf("expected call %d to be allowed, got %+v", i, d)
		}
	}
	if d := rl.Allow("ip:a", 2, time.Minute); d.allowed {
		t.Fatalf("expected third call to be rejected")
	}
	if d := rl.Allow("ip:b", 2, time.Minute); !d.allowed {
		t.Fatalf("expected other keys to be unaffected")
	}

	now = now.Add(61 * time.Second)
	if d := rl.Allow("ip:a", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("expected a fresh window, got %+v", d)
	}
	rl.sweep(now.Add(2 * time.Minute))
	if len(rl.entries) != 0 {
		t.Fatalf("expected sweep to drop expired windows, got %d", len(rl.entries))
	}
}

func TestReportsWebsocketStream(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	server := httptest.NewServer(NewRouter(nil, &reportsStub{}, hub, Options{}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/reports?type=comprehensive"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// registration happens asynchronously after the upgrade
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	received := make(chan []byte, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
		close(received)
	}()
	for time.Now().Before(deadline) {
		hub.Broadcast("comprehensive", []byte(`{"id":1}`))
		select {
		case msg, ok := <-received:
			if !ok {
				t.Fatalf("connection closed before a message arrived")
			}
			if string(msg) != `{"id":1}` {
				t.Fatalf("unexpected message %s", msg)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatalf("no report announcement received")
}

func TestReportsWebsocketDisabledWithoutHub(t *testing.T) {
	router := NewRouter(nil, &reportsStub{}, nil, Options{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/reports", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
