package core

// UDP discovery/heartbeat listener (C6): responds to DISCOVER and records
// HEARTBEAT. Grounded on core/replication.go's best-effort, log-and-continue
// error handling around message decode - this channel never penalizes a
// peer for a malformed datagram, it just drops it.
//
// A heartbeat is only accepted when its ledger id matches this node's own
// ledger; heartbeats for a foreign ledger are logged and dropped rather
// than silently updating the peer table.

import (
	"context"
	"encoding/json"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// udpReadTimeout bounds a single ReadFromUDP call so the loop can observe
// ctx cancellation promptly without busy-waiting.
const udpReadTimeout = 250 * time.Millisecond

func runUDPListener(ctx context.Context, conn *net.UDPConn, ledger *Ledger, peers *PeerTable, metrics *Metrics, logger *log.Logger) {
	defer logger.Info("udp: listener stopped")
	buf := make([]byte, MaxUDPDatagram)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Debug("udp: read error")
			continue
		}
		handleUDPDatagram(conn, addr, buf[:n], ledger, peers, metrics, logger)
	}
}

func handleUDPDatagram(conn *net.UDPConn, from *net.UDPAddr, data []byte, ledger *Ledger, peers *PeerTable, metrics *Metrics, logger *log.Logger) {
	msg, err := DecodeMessage(data)
	if err != nil {
		logger.WithError(err).Debug("udp: ignoring malformed datagram")
		return
	}

	switch msg.Type {
	case MsgDiscover:
		out, err := EncodeMessage(MsgSuccess, ledger.ID())
		if err != nil {
			logger.WithError(err).Warn("udp: encode DISCOVER reply")
			return
		}
		if _, err := conn.WriteToUDP(out, from); err != nil {
			logger.WithError(err).Debug("udp: send DISCOVER reply")
		}

	case MsgHeartbeat:
		var senderLedger KeyId
		if err := json.Unmarshal(msg.Message, &senderLedger); err != nil {
			logger.WithError(err).Debug("udp: malformed HEARTBEAT payload")
			return
		}
		if senderLedger != ledger.ID() {
			logger.WithField("from", from.String()).Debug("udp: ignoring heartbeat for foreign ledger")
			return
		}
		peers.Upsert(Endpoint{IP: from.IP.String(), Port: from.Port}, time.Now())
		if metrics != nil {
			metrics.HeartbeatsRecv.Inc()
		}

	default:
		logger.WithField("type", msg.Type).Debug("udp: ignoring unsupported message type")
	}
}
