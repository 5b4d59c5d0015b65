package core

import (
	"crypto/rsa"
	"errors"
	"testing"
)

type ledgerFixture struct {
	t        *testing.T
	rootKP   *KeyPair
	rootID   KeyId
	ledger   *Ledger
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	rootKP := mustKeyPair(t)
	root, err := NewBlock(BlockRoot, nil, rootKP.Public)
	if err != nil {
		t.Fatalf("new root block: %v", err)
	}
	if err := root.Sign(rootKP.Private, root.PubKeyHash); err != nil {
		t.Fatalf("sign root: %v", err)
	}
	ledger, err := NewLedgerWithRoot(root)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return &ledgerFixture{t: t, rootKP: rootKP, rootID: root.PubKeyHash, ledger: ledger}
}

// signedChild builds and signs a block of typ, chained after predecessor's
// id, with subject as the asserted public key and signed by signerPriv
// under signatoryID.
func (f *ledgerFixture) signedChild(typ BlockType, predecessor Hash, subject *rsa.PublicKey, signerPriv *rsa.PrivateKey, signatoryID KeyId) *Block {
	f.t.Helper()
	pred := predecessor
	b, err := NewBlock(typ, &pred, subject)
	if err != nil {
		f.t.Fatalf("new block: %v", err)
	}
	if err := b.Sign(signerPriv, signatoryID); err != nil {
		f.t.Fatalf("sign block: %v", err)
	}
	return b
}

func TestNewLedgerWithRootRejectsNonRootType(t *testing.T) {
	kp := mustKeyPair(t)
	b, err := NewBlock(BlockTrust, nil, kp.Public)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := b.Sign(kp.Private, b.PubKeyHash); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewLedgerWithRoot(b); err == nil {
		t.Fatal("expected error for non-root first block")
	}
}

func TestNewLedgerWithRootRejectsUnselfSigned(t *testing.T) {
	subject := mustKeyPair(t)
	other := mustKeyPair(t)
	otherID, err := KeyID(other.Public)
	if err != nil {
		t.Fatalf("key id: %v", err)
	}
	b, err := NewBlock(BlockRoot, nil, subject.Public)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := b.Sign(other.Private, otherID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewLedgerWithRoot(b); err == nil {
		t.Fatal("expected error for a root block not self-signed")
	}
}

func TestLedgerAppendTrustThenRevoke(t *testing.T) {
	f := newLedgerFixture(t)
	delegate := mustKeyPair(t)
	delegateID, err := KeyID(delegate.Public)
	if err != nil {
		t.Fatalf("key id: %v", err)
	}

	trustBlock := f.signedChild(BlockTrust, f.ledger.Root().ID, delegate.Public, f.rootKP.Private, f.rootID)
	if err := f.ledger.Append(trustBlock); err != nil {
		t.Fatalf("append trust: %v", err)
	}
	if !f.ledger.IsAuthoritative(delegateID) {
		t.Fatal("expected delegate to be authoritative after trust block")
	}

	// The newly trusted delegate can now sign further blocks.
	leaf := mustKeyPair(t)
	delegated := f.signedChild(BlockTrust, trustBlock.ID, leaf.Public, delegate.Private, delegateID)
	if err := f.ledger.Append(delegated); err != nil {
		t.Fatalf("append block signed by delegate: %v", err)
	}

	revokeBlock := f.signedChild(BlockRevoke, delegated.ID, delegate.Public, f.rootKP.Private, f.rootID)
	if err := f.ledger.Append(revokeBlock); err != nil {
		t.Fatalf("append revoke: %v", err)
	}
	if f.ledger.IsAuthoritative(delegateID) {
		t.Fatal("expected delegate to no longer be authoritative after revoke block")
	}

	// Further blocks signed by the now-revoked delegate must be rejected.
	another := mustKeyPair(t)
	rejected := f.signedChild(BlockTrust, revokeBlock.ID, another.Public, delegate.Private, delegateID)
	if err := f.ledger.Append(rejected); !errors.Is(err, ErrRevokedSignatory) {
		t.Fatalf("expected ErrRevokedSignatory, got %v", err)
	}
}

func TestLedgerAppendRejectsUnknownPredecessor(t *testing.T) {
	f := newLedgerFixture(t)
	leaf := mustKeyPair(t)
	var bogus Hash = "0000000000000000000000000000000000000000000000000000000000000000"
	b := f.signedChild(BlockTrust, bogus, leaf.Public, f.rootKP.Private, f.rootID)
	if err := f.ledger.Append(b); !errors.Is(err, ErrUnknownPredecessor) {
		t.Fatalf("expected ErrUnknownPredecessor, got %v", err)
	}
}

func TestLedgerAppendRejectsUnknownSignatory(t *testing.T) {
	f := newLedgerFixture(t)
	leaf := mustKeyPair(t)
	stranger := mustKeyPair(t)
	strangerID, err := KeyID(stranger.Public)
	if err != nil {
		t.Fatalf("key id: %v", err)
	}
	b := f.signedChild(BlockTrust, f.ledger.Root().ID, leaf.Public, stranger.Private, strangerID)
	if err := f.ledger.Append(b); !errors.Is(err, ErrUnknownSignatory) {
		t.Fatalf("expected ErrUnknownSignatory, got %v", err)
	}
}

func TestLedgerAppendRejectsBadSignature(t *testing.T) {
	f := newLedgerFixture(t)
	leaf := mustKeyPair(t)
	b := f.signedChild(BlockTrust, f.ledger.Root().ID, leaf.Public, f.rootKP.Private, f.rootID)
	b.Signature[0] ^= 0xff
	if err := f.ledger.Append(b); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestLedgerAppendDuplicateIsNoop(t *testing.T) {
	f := newLedgerFixture(t)
	leaf := mustKeyPair(t)
	b := f.signedChild(BlockTrust, f.ledger.Root().ID, leaf.Public, f.rootKP.Private, f.rootID)
	if err := f.ledger.Append(b); err != nil {
		t.Fatalf("first append: %v", err)
	}
	lenBefore := f.ledger.Len()
	if err := f.ledger.Append(b); err != nil {
		t.Fatalf("duplicate append should be a no-op success, got error: %v", err)
	}
	if f.ledger.Len() != lenBefore {
		t.Fatalf("duplicate append changed ledger length: before=%d after=%d", lenBefore, f.ledger.Len())
	}
}

func TestLedgerToListCursor(t *testing.T) {
	f := newLedgerFixture(t)
	leaf1 := mustKeyPair(t)
	b1 := f.signedChild(BlockTrust, f.ledger.Root().ID, leaf1.Public, f.rootKP.Private, f.rootID)
	if err := f.ledger.Append(b1); err != nil {
		t.Fatalf("append b1: %v", err)
	}
	leaf2 := mustKeyPair(t)
	b2 := f.signedChild(BlockTrust, b1.ID, leaf2.Public, f.rootKP.Private, f.rootID)
	if err := f.ledger.Append(b2); err != nil {
		t.Fatalf("append b2: %v", err)
	}

	all, err := f.ledger.ToList("")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 blocks (root+2), got %d", len(all))
	}

	after, err := f.ledger.ToList(f.ledger.Root().ID)
	if err != nil {
		t.Fatalf("list after root: %v", err)
	}
	if len(after) != 2 || after[0].ID != b1.ID || after[1].ID != b2.ID {
		t.Fatalf("unexpected cursor result: %+v", after)
	}

	if _, err := f.ledger.ToList("unknown-cursor"); !errors.Is(err, ErrUnknownCursor) {
		t.Fatalf("expected ErrUnknownCursor, got %v", err)
	}
}

func TestLedgerContains(t *testing.T) {
	f := newLedgerFixture(t)
	if !f.ledger.Contains(f.rootID) {
		t.Fatal("expected ledger to contain its own root subject")
	}
	stranger := mustKeyPair(t)
	strangerID, err := KeyID(stranger.Public)
	if err != nil {
		t.Fatalf("key id: %v", err)
	}
	if f.ledger.Contains(strangerID) {
		t.Fatal("expected ledger not to contain a key that was never introduced")
	}
}
