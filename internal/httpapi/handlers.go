// Package httpapi serves the operational endpoints next to the game transports.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/registry"
	"github.com/gobanos/some-platformer/internal/replay"
	"github.com/gobanos/some-platformer/internal/session"
	"github.com/gobanos/some-platformer/internal/simulation"
)

// ReadinessProvider exposes process state required for readiness checks.
type ReadinessProvider interface {
	StartupError() error
	Uptime() time.Duration
}

// ReplayDumper flushes the replay journal and returns the bundle location.
type ReplayDumper interface {
	Dump(ctx context.Context) (string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context) (string, error)

// Dump implements ReplayDumper.
func (f ReplayDumperFunc) Dump(ctx context.Context) (string, error) { return f(ctx) }

// Options configures the HandlerSet. Nil sources are omitted from the output.
type Options struct {
	Logger       *logging.Logger
	Readiness    ReadinessProvider
	Peers        func() registry.Stats
	Sessions     func() session.MetricsSnapshot
	Ticks        func() simulation.TickMetricsSnapshot
	Game         func() simulation.GameStats
	Inbox        func() simulation.InboxStats
	Replay       ReplayDumper
	ReplayStats  func() replay.Stats
	StorageStats func() replay.StorageStats
	AdminToken   string
	DumpLimiter  DumpGate
	TimeSource   func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	opts        Options
	logger      *logging.Logger
	adminToken  string
	dumpLimiter DumpGate
	now         func() time.Time
	throttled   atomic.Uint64
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		opts:        opts,
		logger:      logger,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		dumpLimiter: opts.DumpLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/dump", h.ReplayDumpHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether the game loop and listeners came up.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Peers         int     `json:"peers"`
		Ticks         uint64  `json:"ticks"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.opts.Peers != nil {
			resp.Peers = h.opts.Peers().Peers
		}
		if h.opts.Game != nil {
			resp.Ticks = h.opts.Game().Ticks
		}
		if h.opts.Readiness != nil {
			resp.UptimeSeconds = h.opts.Readiness.Uptime().Seconds()
			if err := h.opts.Readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.opts.Readiness != nil {
			metric(w, "platformer_uptime_seconds", "Process uptime in seconds.", "gauge", fmt.Sprintf("%.0f", h.opts.Readiness.Uptime().Seconds()))
		}
		if h.opts.Peers != nil {
			stats := h.opts.Peers()
			metric(w, "platformer_peers", "Peers currently registered for broadcasts.", "gauge", stats.Peers)
			metric(w, "platformer_broadcasts_total", "Broadcasts issued by the game.", "counter", stats.Broadcasts)
			metric(w, "platformer_deliveries_total", "Messages queued onto peer outboxes.", "counter", stats.Deliveries)
			metric(w, "platformer_dropped_total", "Sends dropped because the outbox had closed.", "counter", stats.Dropped)
		}
		if h.opts.Sessions != nil {
			h.writeSessions(w, h.opts.Sessions())
		}
		if h.opts.Game != nil {
			stats := h.opts.Game()
			metric(w, "platformer_ticks_total", "Game steps executed.", "counter", stats.Ticks)
			metric(w, "platformer_messages_total", "Client messages applied by the game.", "counter", stats.Messages)
			metric(w, "platformer_relayed_total", "Test messages relayed to other peers.", "counter", stats.Relayed)
		}
		if h.opts.Inbox != nil {
			stats := h.opts.Inbox()
			metric(w, "platformer_inbox_pending", "Client messages waiting for the next tick.", "gauge", stats.Pending)
			metric(w, "platformer_inbox_enqueued_total", "Client messages accepted by the inbox.", "counter", stats.Enqueued)
		}
		if h.opts.Ticks != nil {
			stats := h.opts.Ticks()
			metric(w, "platformer_tick_seconds_avg", "Average step duration.", "gauge", fmt.Sprintf("%.6f", stats.Average.Seconds()))
			metric(w, "platformer_tick_seconds_max", "Slowest observed step duration.", "gauge", fmt.Sprintf("%.6f", stats.Max.Seconds()))
			metric(w, "platformer_tick_overruns_total", "Steps that exceeded the tick budget.", "counter", stats.Overruns)
		}
		if h.opts.ReplayStats != nil {
			stats := h.opts.ReplayStats()
			metric(w, "platformer_replay_buffer_frames", "Buffered replay frames awaiting flush.", "gauge", stats.BufferedFrames)
			metric(w, "platformer_replay_buffer_bytes", "Buffered replay payload size in bytes.", "gauge", stats.BufferedBytes)
			metric(w, "platformer_replay_events_total", "Client messages journaled.", "counter", stats.Events)
			metric(w, "platformer_replay_dumps_total", "Replay dumps completed successfully.", "counter", stats.Dumps)
		}
		if h.dumpLimiter != nil {
			metric(w, "platformer_replay_dumps_throttled_total", "Replay dumps refused by the rate limit.", "counter", h.throttled.Load())
		}
		if h.opts.StorageStats != nil {
			stats := h.opts.StorageStats()
			metric(w, "platformer_replay_bundles", "Replay bundles retained on disk.", "gauge", stats.Bundles)
			metric(w, "platformer_replay_bytes", "Disk footprint of retained bundles.", "gauge", stats.Bytes)
		}
	}
}

func (h *HandlerSet) writeSessions(w io.Writer, snap session.MetricsSnapshot) {
	metric(w, "platformer_sessions_active", "Sessions currently running.", "gauge", snap.Active)
	metric(w, "platformer_sessions_opened_total", "Sessions accepted.", "counter", snap.Opened)
	metric(w, "platformer_sessions_refused_total", "Connections turned away before a session started.", "counter", snap.Refused)
	fmt.Fprintf(w, "# HELP platformer_sessions_closed_total Sessions that ended, by outcome.\n")
	fmt.Fprintf(w, "# TYPE platformer_sessions_closed_total counter\n")
	fmt.Fprintf(w, "platformer_sessions_closed_total{outcome=\"clean\"} %d\n", snap.Clean)
	fmt.Fprintf(w, "platformer_sessions_closed_total{outcome=\"failed\"} %d\n", snap.Failed)
	metric(w, "platformer_bytes_in_total", "Bytes read from all peers.", "counter", snap.Total.BytesIn)
	metric(w, "platformer_bytes_out_total", "Bytes written to all peers.", "counter", snap.Total.BytesOut)
	if len(snap.PerPeer) == 0 {
		return
	}
	//1.- Sort peers so scrapes are stable.
	peers := make([]registry.PeerID, 0, len(snap.PerPeer))
	for id := range snap.PerPeer {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	fmt.Fprintf(w, "# HELP platformer_peer_frames_out_total Frames written per connected peer.\n")
	fmt.Fprintf(w, "# TYPE platformer_peer_frames_out_total counter\n")
	for _, id := range peers {
		fmt.Fprintf(w, "platformer_peer_frames_out_total{peer=%q} %d\n", string(id), snap.PerPeer[id].FramesOut)
	}
}

// ReplayDumpHandler authorises and triggers a replay flush.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if traceID := logging.TraceIDFromContext(r.Context()); traceID != "" {
			reqLogger = reqLogger.With(logging.String(logging.TraceIDField, traceID))
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.dumpLimiter != nil {
			if wait, ok := h.dumpLimiter.Reserve(); !ok {
				h.throttled.Add(1)
				reqLogger.Warn("replay dump denied: rate limit exceeded", logging.Duration("retry_after", wait))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}
		if h.opts.Replay == nil {
			reqLogger.Warn("replay dump denied: journal disabled")
			http.Error(w, "replay journal is disabled", http.StatusServiceUnavailable)
			return
		}
		location, err := h.opts.Replay.Dump(r.Context())
		if err != nil {
			reqLogger.Error("replay dump failed", logging.Error(err))
			http.Error(w, "failed to dump replay", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay dump completed", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func metric(w io.Writer, name, help, kind string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %v\n", name, value)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
