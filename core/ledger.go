package core

// Ledger (C2): an append-only ordered chain of validated Blocks sharing a
// single root. Grounded on ledger.go: a sync.RWMutex-guarded struct
// holding a slice plus an index map, with logrus.WithFields event logging
// on mutation (not copied verbatim - that Ledger carries UTXO/token/
// contract state this domain has no use for - but the locking and
// indexing shape is the same).
//
// Trust and revoke blocks are applied as they're appended: this ledger
// maintains a live trust set used to resolve the "authoritative
// signatory" check below, rather than treating trust/revoke as inert
// records.

import (
	"crypto/rsa"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

var ledgerLogger = log.New()

// SetLedgerLogger overrides the package logger used for ledger events.
func SetLedgerLogger(l *log.Logger) { ledgerLogger = l }

// Ledger is an append-only signed block chain anchored at a single root.
type Ledger struct {
	mu sync.RWMutex

	root   *Block
	id     KeyId
	blocks []*Block
	index  map[Hash]*Block

	// knownKeys maps every KeyId ever introduced as a block's subject to
	// its public key, so a later block's signatory_hash can be resolved
	// to concrete key material for signature verification.
	knownKeys map[KeyId]*rsa.PublicKey

	// trusted is the live set of KeyIds currently authoritative to sign
	// new blocks: the root, plus any `trust` subject not since `revoke`d.
	trusted map[KeyId]bool
}

// NewLedgerWithRoot validates root against invariants 1-2 and returns a
// Ledger containing only that block.
func NewLedgerWithRoot(root *Block) (*Ledger, error) {
	if root.Type != BlockRoot {
		return nil, fmt.Errorf("%w: first block must be type root", ErrHashMismatch)
	}
	if root.Predecessor != nil {
		return nil, fmt.Errorf("%w: root block must have no predecessor", ErrHashMismatch)
	}
	pub, err := root.publicKey()
	if err != nil {
		return nil, err
	}
	keyID, err := KeyID(pub)
	if err != nil {
		return nil, err
	}
	if keyID != root.PubKeyHash {
		return nil, fmt.Errorf("%w: pubkey_hash does not match pubkey", ErrHashMismatch)
	}
	if root.SignatoryHash != root.PubKeyHash {
		return nil, fmt.Errorf("%w: root block must be self-signed", ErrHashMismatch)
	}
	if !root.verifySignature(pub) {
		return nil, ErrBadSignature
	}

	l := &Ledger{
		root:      root,
		id:        keyID,
		blocks:    []*Block{root},
		index:     map[Hash]*Block{root.ID: root},
		knownKeys: map[KeyId]*rsa.PublicKey{keyID: pub},
		trusted:   map[KeyId]bool{keyID: true},
	}
	ledgerLogger.WithFields(log.Fields{"ledger_id": keyID}).Info("ledger: created with root")
	return l, nil
}

// Root returns the immutable root block.
func (l *Ledger) Root() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.root
}

// ID returns the ledger identity: the root's KeyId.
func (l *Ledger) ID() KeyId {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.id
}

// Len returns the number of blocks currently in the chain.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// Append validates block against the current ledger state and appends it,
// or returns one of the ledger invariant errors. A block with an id
// already present is a no-op success (duplicate policy).
func (l *Ledger) Append(block *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[block.ID]; ok {
		return nil
	}
	if block.Type == BlockRoot {
		return fmt.Errorf("%w: ledger already has a root", ErrHashMismatch)
	}

	// invariant 1
	pub, err := block.publicKey()
	if err != nil {
		return err
	}
	keyID, err := KeyID(pub)
	if err != nil {
		return err
	}
	if keyID != block.PubKeyHash {
		return fmt.Errorf("%w: pubkey_hash does not match pubkey", ErrHashMismatch)
	}
	// recomputed id must match the transmitted id
	if block.computeID() != block.ID {
		return fmt.Errorf("%w: block id does not match its fields", ErrHashMismatch)
	}

	// invariant 3: predecessor must exist
	if block.Predecessor == nil {
		return fmt.Errorf("%w: non-root block requires a predecessor", ErrUnknownPredecessor)
	}
	if _, ok := l.index[*block.Predecessor]; !ok {
		return ErrUnknownPredecessor
	}

	// invariant 3: signatory must be known and currently authoritative
	signatoryPub, known := l.knownKeys[block.SignatoryHash]
	if !known {
		return ErrUnknownSignatory
	}
	if !l.trusted[block.SignatoryHash] {
		return ErrRevokedSignatory
	}

	// invariant 4
	if !block.verifySignature(signatoryPub) {
		return ErrBadSignature
	}

	l.blocks = append(l.blocks, block)
	l.index[block.ID] = block
	l.knownKeys[block.PubKeyHash] = pub

	switch block.Type {
	case BlockTrust:
		l.trusted[block.PubKeyHash] = true
	case BlockRevoke:
		delete(l.trusted, block.PubKeyHash)
	}

	ledgerLogger.WithFields(log.Fields{
		"block_id": block.ID,
		"type":     block.Type,
		"subject":  block.PubKeyHash,
	}).Info("ledger: appended block")
	return nil
}

// ToList returns all blocks, or (if after is non-empty) all blocks
// strictly after the block whose id is after. Returns ErrUnknownCursor if
// after is given but not found.
func (l *Ledger) ToList(after Hash) ([]*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if after == "" {
		out := make([]*Block, len(l.blocks))
		copy(out, l.blocks)
		return out, nil
	}
	idx := -1
	for i, b := range l.blocks {
		if b.ID == after {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrUnknownCursor
	}
	out := make([]*Block, len(l.blocks)-idx-1)
	copy(out, l.blocks[idx+1:])
	return out, nil
}

// IsAuthoritative reports whether id is currently an authoritative
// signatory: the root, or the subject of a trust block not since revoked.
func (l *Ledger) IsAuthoritative(id KeyId) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trusted[id]
}

// Contains reports whether id has ever been introduced as a block
// subject in this ledger (regardless of current trust status).
func (l *Ledger) Contains(id KeyId) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.knownKeys[id]
	return ok
}
