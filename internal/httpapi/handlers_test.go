package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobanos/some-platformer/internal/config"
	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/registry"
	"github.com/gobanos/some-platformer/internal/replay"
	"github.com/gobanos/some-platformer/internal/session"
	"github.com/gobanos/some-platformer/internal/simulation"
)

type stubReadiness struct {
	uptime time.Duration
	err    error
}

func (s *stubReadiness) StartupError() error   { return s.err }
func (s *stubReadiness) Uptime() time.Duration { return s.uptime }

type stubDumper struct {
	location string
	err      error
	calls    int
}

func (s *stubDumper) Dump(ctx context.Context) (string, error) {
	s.calls++
	return s.location, s.err
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" || payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	readiness := &stubReadiness{uptime: 45 * time.Second, err: errors.New("listener failed")}
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Readiness: readiness,
		Peers:     func() registry.Stats { return registry.Stats{Peers: 3} },
		Game:      func() simulation.GameStats { return simulation.GameStats{Ticks: 600} },
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	handlers.ReadinessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status        string  `json:"status"`
		Message       string  `json:"message"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Peers         int     `json:"peers"`
		Ticks         uint64  `json:"ticks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "listener failed" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Peers != 3 || payload.Ticks != 600 || payload.UptimeSeconds != 45 {
		t.Fatalf("unexpected counters: %+v", payload)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Readiness: &stubReadiness{uptime: 90 * time.Second},
		Peers: func() registry.Stats {
			return registry.Stats{Peers: 2, Broadcasts: 4, Deliveries: 7}
		},
		Sessions: func() session.MetricsSnapshot {
			return session.MetricsSnapshot{
				Active:  2,
				Opened:  5,
				Clean:   2,
				Failed:  1,
				Total:   session.Traffic{BytesIn: 64, BytesOut: 128},
				PerPeer: map[registry.PeerID]session.Traffic{"b": {FramesOut: 3}, "a": {FramesOut: 1}},
			}
		},
		Ticks: func() simulation.TickMetricsSnapshot {
			return simulation.TickMetricsSnapshot{Average: 2 * time.Millisecond, Overruns: 1}
		},
		ReplayStats:  func() replay.Stats { return replay.Stats{BufferedFrames: 3, Dumps: 1} },
		StorageStats: func() replay.StorageStats { return replay.StorageStats{Bundles: 2, Bytes: 2048} },
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handlers.MetricsHandler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"platformer_uptime_seconds 90",
		"platformer_peers 2",
		"platformer_broadcasts_total 4",
		"platformer_sessions_active 2",
		`platformer_sessions_closed_total{outcome="failed"} 1`,
		"platformer_bytes_out_total 128",
		"platformer_tick_seconds_avg 0.002000",
		"platformer_tick_overruns_total 1",
		"platformer_replay_buffer_frames 3",
		"platformer_replay_bundles 2",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
	//1.- Per-peer series come out sorted by peer id.
	if strings.Index(body, `{peer="a"} 1`) > strings.Index(body, `{peer="b"} 3`) {
		t.Fatalf("expected peers sorted:\n%s", body)
	}
	if strings.Contains(body, "platformer_ticks_total") {
		t.Fatalf("unset sources must be omitted:\n%s", body)
	}
}

func TestReplayDumpHandlerAuthAndRateLimits(t *testing.T) {
	dumper := &stubDumper{location: "/tmp/replays/match-1"}
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewDumpLimiter(config.ReplayConfig{DumpWindow: time.Minute, DumpBurst: 1}, func() time.Time { return now })
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Replay:      dumper,
		AdminToken:  "topsecret",
		DumpLimiter: limiter,
	})

	makeRequest := func(token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/replay/dump", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.ReplayDumpHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}
	if resp := makeRequest("wrong"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for wrong token, got %d", resp.Code)
	}

	resp := makeRequest("topsecret")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for authorised request, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "/tmp/replays/match-1") {
		t.Fatalf("expected location in body, got %s", resp.Body.String())
	}
	if dumper.calls != 1 {
		t.Fatalf("expected dumper invoked once, got %d", dumper.calls)
	}

	//1.- A second dump inside the window is refused with a retry hint.
	now = now.Add(20 * time.Second)
	resp = makeRequest("topsecret")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("expected Retry-After 40, got %q", got)
	}
	if dumper.calls != 1 {
		t.Fatalf("throttled request must not reach the journal, got %d calls", dumper.calls)
	}

	//2.- The throttled attempt is visible on the metrics endpoint.
	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "platformer_replay_dumps_throttled_total 1") {
		t.Fatalf("expected throttled counter in metrics:\n%s", rr.Body.String())
	}

	now = now.Add(41 * time.Second)
	if resp := makeRequest("topsecret"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected dump after the window slid, got %d", resp.Code)
	}
}

func TestReplayDumpHandlerRejectsWhenDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/replay/dump", nil)
	NewHandlerSet(Options{Logger: logging.NewTestLogger()}).ReplayDumpHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin token, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/replay/dump", nil)
	req.Header.Set("X-Admin-Token", "secret")
	NewHandlerSet(Options{Logger: logging.NewTestLogger(), AdminToken: "secret"}).ReplayDumpHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without journal, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/replay/dump", nil)
	NewHandlerSet(Options{Logger: logging.NewTestLogger()}).ReplayDumpHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 for GET, got %d", rr.Code)
	}
}
