package core

// Block (C2): an immutable, signed assertion linking a subject public key
// into the ledger chain. Grounded on ledger.go's struct shape (value-style
// fields, derived hash) and common_structs.go's convention of declaring
// wire-visible structs with explicit json tags.

import (
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HexBytes marshals as a lowercase hex string rather than base64, since
// wire payloads here are plain JSON documents and hex keeps signatures
// human-legible in logs.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hexbytes: %w", err)
	}
	*h = b
	return nil
}

// Block is immutable after Sign populates Signature/SignatoryHash.
type Block struct {
	Type          BlockType `json:"type"`
	Predecessor   *Hash     `json:"predecessor"`
	PubKeyPEM     string    `json:"pubkey"`
	PubKeyHash    KeyId     `json:"pubkey_hash"`
	SignatoryHash KeyId     `json:"signatory_hash"`
	Signature     HexBytes  `json:"signature"`
	ID            Hash      `json:"id"`
}

// NewBlock constructs an unsigned block asserting pub as the subject
// public key, chained after predecessor (nil for a root block).
func NewBlock(typ BlockType, predecessor *Hash, pub *rsa.PublicKey) (*Block, error) {
	pemStr, err := EncodePublicKeyPEM(pub)
	if err != nil {
		return nil, err
	}
	keyID, err := KeyID(pub)
	if err != nil {
		return nil, err
	}
	return &Block{
		Type:        typ,
		Predecessor: predecessor,
		PubKeyPEM:   pemStr,
		PubKeyHash:  keyID,
	}, nil
}

// canonicalDigest builds the byte string type || predecessor_or_empty ||
// pubkey || pubkey_hash, with a fixed 0x00 separator so signer and
// verifier always agree on field boundaries. It is not hashed here; sign
// and verify hash it with SHA-256.
func canonicalDigest(typ BlockType, predecessor *Hash, pubKeyPEM string, pubKeyHash KeyId) []byte {
	const sep = byte(0)
	pred := ""
	if predecessor != nil {
		pred = string(*predecessor)
	}
	buf := []byte(string(typ))
	buf = append(buf, sep)
	buf = append(buf, []byte(pred)...)
	buf = append(buf, sep)
	buf = append(buf, []byte(pubKeyPEM)...)
	buf = append(buf, sep)
	buf = append(buf, []byte(pubKeyHash)...)
	return buf
}

// Sign populates Signature and SignatoryHash, signing the block's
// canonical digest with priv. signatoryHash is the KeyId of priv's public
// key (the signatory need not be the block's own subject, except for the
// root block where the two must coincide).
func (b *Block) Sign(priv *rsa.PrivateKey, signatoryHash KeyId) error {
	digest := canonicalDigest(b.Type, b.Predecessor, b.PubKeyPEM, b.PubKeyHash)
	sig, err := sign(priv, digest)
	if err != nil {
		return err
	}
	b.SignatoryHash = signatoryHash
	b.Signature = sig
	b.ID = b.computeID()
	return nil
}

// verifySignature checks the block's signature against the given
// signatory public key.
func (b *Block) verifySignature(signatoryPub *rsa.PublicKey) bool {
	digest := canonicalDigest(b.Type, b.Predecessor, b.PubKeyPEM, b.PubKeyHash)
	return verify(signatoryPub, digest, b.Signature)
}

// computeID derives the block id: the hash of the concatenation of every
// field (type, predecessor, pubkey, pubkey_hash, signatory_hash,
// signature).
func (b *Block) computeID() Hash {
	digest := canonicalDigest(b.Type, b.Predecessor, b.PubKeyPEM, b.PubKeyHash)
	digest = append(digest, 0)
	digest = append(digest, []byte(b.SignatoryHash)...)
	digest = append(digest, 0)
	digest = append(digest, b.Signature...)
	return HashBytes(digest)
}

// publicKey parses the block's PEM-encoded subject public key.
func (b *Block) publicKey() (*rsa.PublicKey, error) {
	return DecodePublicKeyPEM(b.PubKeyPEM)
}
