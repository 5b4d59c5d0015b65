package core

// Node controller (C8): owns the single mutable node lifecycle state
// machine and the create/join/leave operations. Grounded on
// core/bootstrap_node.go's NewBootstrapNode/Start/Stop shape (ctx/cancel +
// mutex + idempotent Stop) and core/base_node.go's thin delegation style.

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds the configuration keys the controller needs to bind
// listeners and run timers. pkg/config.Load produces one of these.
type Config struct {
	BindIP           string
	BindPort         int
	MsgSizeBytes     int
	DiscoveryTimeout time.Duration
	HBFreq           time.Duration
	HBTTL            time.Duration
	Debug            int
}

// DefaultConfig returns the daemon's built-in default configuration.
func DefaultConfig() Config {
	return Config{
		BindIP:           "0.0.0.0",
		BindPort:         2525,
		MsgSizeBytes:     DefaultMsgSizeBytes,
		DiscoveryTimeout: 10 * time.Second,
		HBFreq:           5 * time.Second,
		HBTTL:            15 * time.Second,
		Debug:            0,
	}
}

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateActive
)

// Controller is the single owned node state handle. External
// collaborators (a CLI, a shell) call its exported methods to create,
// join, leave, or inspect a node; it in turn starts and stops the TCP
// server, UDP listener, and heartbeat emitter bound to its own ledger
// and peer table.
type Controller struct {
	mu    sync.Mutex
	cfg   Config
	state lifecycleState

	ledger     *Ledger
	privateKey *rsa.PrivateKey // present iff this node founded the ledger
	peers      *PeerTable
	metrics    *Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewController builds an idle controller bound to cfg.
func NewController(cfg Config, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New()
	}
	return &Controller{cfg: cfg, peers: NewPeerTable(), logger: logger}
}

// State reports "idle" or "active" for status reporting.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateActive {
		return "active"
	}
	return "idle"
}

// Ledger returns the controller's ledger, or nil when idle.
func (c *Controller) Ledger() *Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger
}

// Peers returns the controller's peer table. It is never nil; while idle
// it is an empty table.
func (c *Controller) Peers() *PeerTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers
}

// SetMetrics attaches a Metrics bundle so the heartbeat emitter and UDP
// listener can record event counters as they run. Must be called before
// Create or Join to take effect; nil is safe and disables counting.
func (c *Controller) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// HasPrivateKey reports whether this node founded its ledger (joiners
// never learn the root private key).
func (c *Controller) HasPrivateKey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.privateKey != nil
}

// Create founds a new ledger: generates a keypair, builds and self-signs
// the root block, and starts the listener trio. Idle -> Active.
func (c *Controller) Create(bits int) error {
	kp, err := GenerateKeyPair(bits)
	if err != nil {
		return err
	}
	return c.CreateWithKey(kp.Private)
}

// CreateWithKey founds a new ledger using an already-generated private
// key (e.g. recovered from a key file on restart) rather than generating
// a fresh one. Idle -> Active.
func (c *Controller) CreateWithKey(priv *rsa.PrivateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return ErrAlreadyMember
	}

	kp := &KeyPair{Private: priv, Public: &priv.PublicKey}
	root, err := NewBlock(BlockRoot, nil, kp.Public)
	if err != nil {
		return err
	}
	if err := root.Sign(kp.Private, root.PubKeyHash); err != nil {
		return err
	}
	ledger, err := NewLedgerWithRoot(root)
	if err != nil {
		return err
	}

	c.ledger = ledger
	c.privateKey = kp.Private
	c.peers = NewPeerTable()
	return c.startLocked()
}

// Join executes the client-side join protocol against seed and, on
// success, starts the listener trio. Idle -> Active.
func (c *Controller) Join(ctx context.Context, expected KeyId, seed Endpoint) error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return ErrAlreadyMember
	}
	cfg := c.cfg
	logger := c.logger
	c.mu.Unlock()

	result, err := Join(ctx, seed, expected, cfg.MsgSizeBytes, 5*time.Second, logger)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return ErrAlreadyMember
	}
	c.ledger = result.Ledger
	c.peers = NewPeerTable()
	now := time.Now()
	c.peers.Merge(seed, now)
	for _, ep := range result.Peers {
		c.peers.Merge(ep, now)
	}
	return c.startLocked()
}

// startLocked binds the TCP/UDP sockets and launches the TCP server, UDP
// listener, and heartbeat emitter. Caller must hold c.mu.
func (c *Controller) startLocked() error {
	ctx, cancel := context.WithCancel(context.Background())

	bindAddr := fmt.Sprintf("%s:%d", c.cfg.BindIP, c.cfg.BindPort)

	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", bindAddr)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: tcp listen %s: %v", ErrBindFailure, bindAddr, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		cancel()
		_ = ln.Close()
		return fmt.Errorf("%w: unexpected listener type", ErrBindFailure)
	}

	pc, err := lc.ListenPacket(ctx, "udp4", bindAddr)
	if err != nil {
		cancel()
		_ = ln.Close()
		return fmt.Errorf("%w: udp listen %s: %v", ErrBindFailure, bindAddr, err)
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		cancel()
		_ = ln.Close()
		_ = pc.Close()
		return fmt.Errorf("%w: unexpected packet conn type", ErrBindFailure)
	}

	c.cancel = cancel
	c.state = stateActive

	ledger, peers, logger, metrics := c.ledger, c.peers, c.logger, c.metrics
	freq, ttl, sizeBytes := c.cfg.HBFreq, c.cfg.HBTTL, c.cfg.MsgSizeBytes

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		runTCPServer(ctx, tcpLn, sizeBytes, ledger, peers, logger)
	}()
	go func() {
		defer c.wg.Done()
		runUDPListener(ctx, udpConn, ledger, peers, metrics, logger)
	}()
	go func() {
		defer c.wg.Done()
		runHeartbeatEmitter(ctx, udpConn, ledger, peers, freq, ttl, metrics, logger)
	}()

	go func() {
		<-ctx.Done()
		_ = udpConn.Close()
		_ = tcpLn.Close()
	}()

	logger.WithField("bind", bindAddr).Info("controller: node active")
	return nil
}

// Leave signals stop to C5/C6/C7, joins them with a bounded wait, and
// clears ledger, private key, and peer table. Active -> Idle. Idempotent
// from Idle.
func (c *Controller) Leave() error {
	c.mu.Lock()
	if c.state != stateActive {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	logger := c.logger
	c.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("controller: leave timed out waiting for listeners; proceeding anyway")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledger = nil
	c.privateKey = nil
	c.peers = NewPeerTable()
	c.cancel = nil
	c.state = stateIdle
	logger.Info("controller: node idle")
	return nil
}
