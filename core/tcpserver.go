package core

// TCP request server (C5): serves JOIN / LEDGER / PEER over the
// length-framed JSON protocol. Grounded on core/network.go's Node
// lifecycle (ctx/cancel, goroutine-per-unit-of-work) for the accept-loop
// shape, and on google/uuid for the per-connection correlation id
// attached to every log line the handler emits.

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// acceptPollInterval bounds how long an Accept() blocks before the
// listener re-checks its stop signal.
const acceptPollInterval = 250 * time.Millisecond

// tcpConnTimeout bounds how long a single connection's read/write may
// take before it is abandoned.
const tcpConnTimeout = 5 * time.Second

// reuseAddrListenConfig returns a ListenConfig that sets SO_REUSEADDR so
// a restarted daemon can rebind its own port immediately.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: reuseAddrControl}
}

// runTCPServer accepts connections on ln until ctx is cancelled, handling
// each on its own goroutine. It returns once the accept loop itself has
// stopped; in-flight handlers are not waited on here (the caller tracks
// them via its own WaitGroup if it needs to).
func runTCPServer(ctx context.Context, ln *net.TCPListener, sizeBytes int, ledger *Ledger, peers *PeerTable, logger *log.Logger) {
	defer logger.Info("tcp: accept loop stopped")
	for ctx.Err() == nil {
		_ = ln.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("tcp: accept error")
			continue
		}
		go handleTCPConn(conn, sizeBytes, ledger, peers, logger)
	}
}

// handleTCPConn implements the per-connection state machine: read one
// frame, dispatch, send one response, half-close, drain, close.
func handleTCPConn(conn net.Conn, sizeBytes int, ledger *Ledger, peers *PeerTable, logger *log.Logger) {
	connID := uuid.NewString()
	clog := logger.WithFields(log.Fields{"conn": connID, "remote": conn.RemoteAddr().String()})
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(tcpConnTimeout))
	data, err := ReadFrame(conn, sizeBytes)
	if err != nil {
		clog.WithError(err).Warn("tcp: invalid frame")
		return
	}

	resp := dispatchTCPMessage(data, ledger, peers, clog)

	if err := WriteFrame(conn, sizeBytes, resp); err != nil {
		clog.WithError(err).Warn("tcp: write response failed")
		return
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.CloseWrite()
	}
	// Graceful shutdown handshake: drain until the peer closes its side.
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
}

func dispatchTCPMessage(data []byte, ledger *Ledger, peers *PeerTable, clog *log.Entry) []byte {
	msg, err := DecodeMessage(data)
	if err != nil {
		clog.WithError(err).Warn("tcp: decode failure")
		out, _ := EncodeMessage(MsgFailure, nil)
		return out
	}

	switch msg.Type {
	case MsgJoin:
		var expected KeyId
		if err := json.Unmarshal(msg.Message, &expected); err != nil {
			clog.WithError(err).Warn("tcp: malformed JOIN payload")
			out, _ := EncodeMessage(MsgFailure, nil)
			return out
		}
		if expected != ledger.ID() {
			clog.WithField("expected", expected).Info("tcp: JOIN refused: ledger id mismatch")
			out, _ := EncodeMessage(MsgFailure, nil)
			return out
		}
		rootPub, err := ledger.Root().publicKey()
		if err != nil {
			clog.WithError(err).Error("tcp: decode root pubkey")
			out, _ := EncodeMessage(MsgFailure, nil)
			return out
		}
		pem, err := EncodePublicKeyPEM(rootPub)
		if err != nil {
			clog.WithError(err).Error("tcp: encode root pubkey")
			out, _ := EncodeMessage(MsgFailure, nil)
			return out
		}
		out, _ := EncodeMessage(MsgSuccess, pem)
		return out

	case MsgLedger:
		var cursor Hash
		if len(msg.Message) > 0 && string(msg.Message) != "null" {
			if err := json.Unmarshal(msg.Message, &cursor); err != nil {
				clog.WithError(err).Warn("tcp: malformed LEDGER cursor")
				out, _ := EncodeMessage(MsgFailure, nil)
				return out
			}
		}
		blocks, err := ledger.ToList(cursor)
		if err != nil {
			clog.WithError(err).Info("tcp: LEDGER cursor unknown")
			out, _ := EncodeMessage(MsgFailure, nil)
			return out
		}
		out, _ := EncodeMessage(MsgSuccess, blocks)
		return out

	case MsgPeer:
		out, _ := EncodeMessage(MsgSuccess, peers.Endpoints())
		return out

	default:
		clog.WithField("type", msg.Type).Info("tcp: unsupported message type")
		out, _ := EncodeMessage(MsgFailure, nil)
		return out
	}
}
