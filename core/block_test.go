package core

import "testing"

func mustKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair(1024)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

func TestNewBlockAndSignSelfSigned(t *testing.T) {
	kp := mustKeyPair(t)
	b, err := NewBlock(BlockRoot, nil, kp.Public)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := b.Sign(kp.Private, b.PubKeyHash); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if b.ID == "" {
		t.Fatal("expected non-empty block id after signing")
	}
	if !b.verifySignature(kp.Public) {
		t.Fatal("expected self-signed block to verify against its own key")
	}
}

func TestBlockVerifySignatureRejectsForeignKey(t *testing.T) {
	subject := mustKeyPair(t)
	signer := mustKeyPair(t)

	b, err := NewBlock(BlockTrust, nil, subject.Public)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	signatoryID, err := KeyID(signer.Public)
	if err != nil {
		t.Fatalf("key id: %v", err)
	}
	if err := b.Sign(signer.Private, signatoryID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !b.verifySignature(signer.Public) {
		t.Fatal("expected signature to verify against the actual signatory key")
	}
	if b.verifySignature(subject.Public) {
		t.Fatal("expected signature to fail verification against an unrelated key")
	}
}

func TestBlockComputeIDChangesWithFields(t *testing.T) {
	kp := mustKeyPair(t)
	b, err := NewBlock(BlockRoot, nil, kp.Public)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := b.Sign(kp.Private, b.PubKeyHash); err != nil {
		t.Fatalf("sign: %v", err)
	}
	originalID := b.ID

	b.Signature[0] ^= 0xff
	if b.computeID() == originalID {
		t.Fatal("expected computeID to change when signature bytes change")
	}
}

func TestHexBytesJSONRoundTrip(t *testing.T) {
	orig := HexBytes{0xde, 0xad, 0xbe, 0xef}
	data, err := orig.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out HexBytes
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(out) != string(orig) {
		t.Fatalf("round trip mismatch: got %x want %x", out, orig)
	}
}

func TestHexBytesUnmarshalRejectsNonHex(t *testing.T) {
	var out HexBytes
	if err := out.UnmarshalJSON([]byte(`"not hex"`)); err == nil {
		t.Fatal("expected error unmarshaling non-hex string")
	}
}
