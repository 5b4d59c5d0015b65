package core

// Heartbeat emitter (C7): periodically emits heartbeats to known peers
// and reaps any peer that has exceeded its time-to-live. Grounded on
// core/peer_management.go's snapshot-before-mutate idiom (Sample), so a
// removal never invalidates an in-progress walk.

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

func runHeartbeatEmitter(ctx context.Context, conn *net.UDPConn, ledger *Ledger, peers *PeerTable, freq, ttl time.Duration, metrics *Metrics, logger *log.Logger) {
	defer logger.Info("heartbeat: emitter stopped")
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emitHeartbeatTick(conn, ledger, peers, ttl, metrics, logger)
		}
	}
}

func emitHeartbeatTick(conn *net.UDPConn, ledger *Ledger, peers *PeerTable, ttl time.Duration, metrics *Metrics, logger *log.Logger) {
	now := time.Now()
	for _, peer := range peers.Snapshot() {
		if now.Sub(peer.LastBeat) > ttl {
			peers.Remove(peer.Endpoint)
			if metrics != nil {
				metrics.PeersReaped.Inc()
			}
			logger.WithField("peer", peer.Endpoint.String()).Info("heartbeat: reaped stale peer")
			continue
		}
		out, err := EncodeMessage(MsgHeartbeat, ledger.ID())
		if err != nil {
			logger.WithError(err).Warn("heartbeat: encode")
			continue
		}
		addr := &net.UDPAddr{IP: net.ParseIP(peer.Endpoint.IP), Port: peer.Endpoint.Port}
		if _, err := conn.WriteToUDP(out, addr); err != nil {
			logger.WithError(err).Debug("heartbeat: send failed")
			continue
		}
		if metrics != nil {
			metrics.HeartbeatsSent.Inc()
		}
	}
}
