package core

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestDiscoveryResultAdd(t *testing.T) {
	r := make(DiscoveryResult)
	id := KeyId("abc123")
	ep1 := Endpoint{IP: "10.0.0.1", Port: 1}
	ep2 := Endpoint{IP: "10.0.0.2", Port: 2}
	r.Add(id, ep1)
	r.Add(id, ep2)
	r.Add(id, ep1) // duplicate is a no-op in the set

	if len(r[id]) != 2 {
		t.Fatalf("expected 2 distinct endpoints, got %d", len(r[id]))
	}
}

func TestDiscoverCollectsReplyFromLoopbackResponder(t *testing.T) {
	responder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer responder.Close()

	ledgerID := KeyId("test-ledger-id")
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, MaxUDPDatagram)
		_ = responder.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, from, err := responder.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := DecodeMessage(buf[:n])
		if err != nil || msg.Type != MsgDiscover {
			return
		}
		out, err := EncodeMessage(MsgSuccess, ledgerID)
		if err != nil {
			return
		}
		_, _ = responder.WriteToUDP(out, from)
	}()

	port := responder.LocalAddr().(*net.UDPAddr).Port
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := Discover(ctx, "127.0.0.1", port, 500*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	<-done

	if _, ok := result[ledgerID]; !ok {
		t.Fatalf("expected a reply for ledger id %s, got %+v", ledgerID, result)
	}
}
