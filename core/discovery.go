package core

// Discovery client (C9, part 1): broadcasts DISCOVER on the LAN and
// collects replies for a fixed window. Grounded on core/network.go's
// DialSeed: iterate, collect per-attempt errors, log and continue rather
// than aborting the whole operation.

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// DiscoveryResult maps a discovered ledger id to the set of endpoints
// that answered for it.
type DiscoveryResult map[KeyId]map[Endpoint]struct{}

// Add records that ep answered DISCOVER on behalf of ledger id.
func (r DiscoveryResult) Add(id KeyId, ep Endpoint) {
	set, ok := r[id]
	if !ok {
		set = make(map[Endpoint]struct{})
		r[id] = set
	}
	set[ep] = struct{}{}
}

func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Discover sends a DISCOVER datagram to target (ip defaults to the
// limited broadcast address 255.255.255.255 when empty) on port, and
// collects replies for timeout. Malformed replies are logged and
// skipped; they do not abort discovery.
func Discover(ctx context.Context, ip string, port int, timeout time.Duration, logger *log.Logger) (DiscoveryResult, error) {
	if ip == "" {
		ip = "255.255.255.255"
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("%w: open discovery socket: %v", ErrNetworkError, err)
	}
	defer conn.Close()
	if err := enableBroadcast(conn); err != nil {
		return nil, fmt.Errorf("%w: enable broadcast: %v", ErrNetworkError, err)
	}

	req, err := EncodeMessage(MsgDiscover, nil)
	if err != nil {
		return nil, err
	}
	dest := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if _, err := conn.WriteToUDP(req, dest); err != nil {
		return nil, fmt.Errorf("%w: send DISCOVER: %v", ErrNetworkError, err)
	}

	result := make(DiscoveryResult)
	deadline := time.Now().Add(timeout)
	buf := make([]byte, MaxUDPDatagram)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return result, nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(remaining))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return result, nil
			}
			return result, fmt.Errorf("%w: %v", ErrNetworkError, err)
		}
		msg, err := DecodeMessage(buf[:n])
		if err != nil || msg.Type != MsgSuccess {
			logger.WithField("from", from.String()).Debug("discovery: skipping malformed reply")
			continue
		}
		var id KeyId
		if err := json.Unmarshal(msg.Message, &id); err != nil {
			logger.WithField("from", from.String()).Debug("discovery: skipping reply with bad ledger id")
			continue
		}
		result.Add(id, Endpoint{IP: from.IP.String(), Port: from.Port})
	}
}
