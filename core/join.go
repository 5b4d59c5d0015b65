package core

// Join client (C9, part 2): the client side of the JOIN -> LEDGER -> PEER
// handshake. Grounded on core/replication.go's small request/response wire
// helpers and context-aware send/receive.

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// JoinResult carries everything a successful join needs to hand to the
// node controller.
type JoinResult struct {
	Ledger    *Ledger
	Peers     []Endpoint
	RootPubPEM string
}

// tcpRequest dials addr, sends one framed request of the given type and
// payload, reads the single framed response, and closes the connection.
// The exchange is bounded by timeout and by ctx's deadline, whichever is
// earlier.
func tcpRequest(ctx context.Context, addr string, sizeBytes int, timeout time.Duration, reqType MessageType, payload interface{}) (*Message, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetworkError, addr, err)
	}
	defer conn.Close()
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	req, err := EncodeMessage(reqType, payload)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, sizeBytes, req); err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.CloseWrite()
	}
	data, err := ReadFrame(conn, sizeBytes)
	if err != nil {
		return nil, err
	}
	return DecodeMessage(data)
}

// Join executes the client side of the join protocol against seed,
// verifying the remote ledger really is expected before trusting any of
// its data.
func Join(ctx context.Context, seed Endpoint, expected KeyId, sizeBytes int, timeout time.Duration, logger *log.Logger) (*JoinResult, error) {
	addr := seed.String()

	joinResp, err := tcpRequest(ctx, addr, sizeBytes, timeout, MsgJoin, expected)
	if err != nil {
		return nil, err
	}
	if joinResp.Type != MsgSuccess {
		return nil, ErrJoinRefused
	}
	var rootPubPEM string
	if err := json.Unmarshal(joinResp.Message, &rootPubPEM); err != nil {
		return nil, fmt.Errorf("%w: malformed JOIN response: %v", ErrJoinRefused, err)
	}
	rootPub, err := DecodePublicKeyPEM(rootPubPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJoinRefused, err)
	}
	gotID, err := KeyID(rootPub)
	if err != nil {
		return nil, err
	}
	if gotID != expected {
		return nil, ErrIdentityMismatch
	}

	ledgerResp, err := tcpRequest(ctx, addr, sizeBytes, timeout, MsgLedger, nil)
	if err != nil {
		return nil, err
	}
	if ledgerResp.Type != MsgSuccess {
		return nil, fmt.Errorf("%w: seed refused LEDGER request", ErrLedgerInvalid)
	}
	var blocks []*Block
	if err := json.Unmarshal(ledgerResp.Message, &blocks); err != nil {
		return nil, fmt.Errorf("%w: malformed LEDGER response: %v", ErrLedgerInvalid, err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: empty ledger response", ErrLedgerInvalid)
	}
	ledger, err := NewLedgerWithRoot(blocks[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerInvalid, err)
	}
	if ledger.ID() != expected {
		return nil, ErrIdentityMismatch
	}
	for _, b := range blocks[1:] {
		if err := ledger.Append(b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLedgerInvalid, err)
		}
	}

	peerResp, err := tcpRequest(ctx, addr, sizeBytes, timeout, MsgPeer, nil)
	if err != nil {
		return nil, err
	}
	var peers []Endpoint
	if peerResp.Type == MsgSuccess {
		if err := json.Unmarshal(peerResp.Message, &peers); err != nil {
			logger.WithError(err).Warn("join: malformed PEER response, ignoring")
			peers = nil
		}
	}

	logger.WithFields(log.Fields{"ledger_id": ledger.ID(), "blocks": ledger.Len(), "peers": len(peers)}).Info("join: succeeded")
	return &JoinResult{Ledger: ledger, Peers: peers, RootPubPEM: rootPubPEM}, nil
}
