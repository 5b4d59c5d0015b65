package core

// Status/metrics server (C11, ambient): a read-only HTTP surface exposing
// node state, peer snapshot, ledger height, and the ledger's block list.
// Grounded on the
// walletserver package's chi-router-based HTTP surface; this daemon's
// HTTP surface is small enough to live in one file, but the
// router-construction and route-registration idiom is the same.
//
// This server is strictly observational: /status, /peers and /ledger are
// GET routes, /metrics is the Prometheus handler, and none of them can
// mutate Controller state. It is bound on a separate port
// from the TCP/UDP protocol ports so it never competes with frame
// parsing.

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors the status server exposes at
// /metrics. Grounded on an indirect prometheus/client_golang dependency
// that otherwise goes unwired into an HTTP handler; this module gives it
// one.
type Metrics struct {
	PeerCount      prometheus.Gauge
	LedgerHeight   prometheus.Gauge
	HeartbeatsSent prometheus.Counter
	HeartbeatsRecv prometheus.Counter
	PeersReaped    prometheus.Counter
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PeerCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_peer_count",
			Help: "Number of peers currently tracked in the peer table.",
		}),
		LedgerHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_ledger_height",
			Help: "Number of blocks currently in the ledger.",
		}),
		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_heartbeats_sent_total",
			Help: "Total heartbeats emitted to known peers.",
		}),
		HeartbeatsRecv: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_heartbeats_received_total",
			Help: "Total heartbeats accepted from peers.",
		}),
		PeersReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_peers_reaped_total",
			Help: "Total peers removed for exceeding MSG_HB_TTL.",
		}),
	}
}

type statusResponse struct {
	State        string    `json:"state"`
	LedgerID     KeyId     `json:"ledger_id,omitempty"`
	LedgerHeight int       `json:"ledger_height"`
	PeerCount    int       `json:"peer_count"`
	IsFounder    bool      `json:"is_founder"`
	CheckedAt    time.Time `json:"checked_at"`
}

type peerResponse struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Verified bool   `json:"verified"`
	LastBeat int64  `json:"last_beat_unix_ms"`
}

// NewStatusRouter builds the chi router for the status server. Detail
// level mirrors the CLI's "status" verb: /status always returns the
// summary; /peers returns per-peer detail.
func NewStatusRouter(ctrl *Controller, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := statusResponse{State: ctrl.State(), IsFounder: ctrl.HasPrivateKey(), CheckedAt: time.Now()}
		if l := ctrl.Ledger(); l != nil {
			resp.LedgerID = l.ID()
			resp.LedgerHeight = l.Len()
		}
		if p := ctrl.Peers(); p != nil {
			resp.PeerCount = p.Len()
		}
		writeJSON(w, resp)
	})

	r.Get("/peers", func(w http.ResponseWriter, req *http.Request) {
		p := ctrl.Peers()
		if p == nil {
			writeJSON(w, []peerResponse{})
			return
		}
		snap := p.Snapshot()
		out := make([]peerResponse, len(snap))
		for i, e := range snap {
			out[i] = peerResponse{IP: e.Endpoint.IP, Port: e.Endpoint.Port, Verified: e.Verified, LastBeat: e.LastBeatUnix}
		}
		writeJSON(w, out)
	})

	r.Get("/ledger", func(w http.ResponseWriter, req *http.Request) {
		l := ctrl.Ledger()
		if l == nil {
			writeJSON(w, []*Block{})
			return
		}
		blocks, err := l.ToList("")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, blocks)
	})

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// RunMetricsUpdater periodically samples ctrl's peer count and ledger
// height into m's gauges until ctx is cancelled. The heartbeat/peer
// counters (HeartbeatsSent/Recv/PeersReaped) are incremented directly by
// the heartbeat emitter and UDP listener at their event sites; this
// updater covers the point-in-time gauges that have no natural
// increment-on-event site.
func RunMetricsUpdater(ctx context.Context, ctrl *Controller, m *Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p := ctrl.Peers(); p != nil {
				m.PeerCount.Set(float64(p.Len()))
			}
			if l := ctrl.Ledger(); l != nil {
				m.LedgerHeight.Set(float64(l.Len()))
			}
		}
	}
}
