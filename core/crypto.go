package core

// Crypto primitives (C1): key generation, hashing, base58 encoding, and
// signing/verification. Grounded on a wallet package's key-handling
// helpers: free functions over key material, a package-level logger
// swappable via SetCryptoLogger, and no placeholders - every path is
// error-handled.
//
// RSA replaces the wallet helper's ed25519 since this protocol requires
// 2048-bit-equivalent asymmetric keys. PEM is the on-wire/public
// encoding; DER is what gets hashed for a KeyId, so both sides of any
// exchange agree on what "canonical" means.

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/mr-tron/base58"
	log "github.com/sirupsen/logrus"
)

const pemPublicKeyType = "PUBLIC KEY"

var cryptoLogger = log.New()

// SetCryptoLogger overrides the package logger used by crypto primitives.
func SetCryptoLogger(l *log.Logger) { cryptoLogger = l }

// KeyPair bundles an RSA private key with its public half. The private
// key is held in memory only; it is never part of the wire protocol.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a new RSA keypair of the given bit size. bits
// defaults to 2048 when zero.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = 2048
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	cryptoLogger.WithField("bits", bits).Info("crypto: generated keypair")
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// HashBytes returns the hex-encoded SHA-256 digest of b.
func HashBytes(b []byte) Hash {
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashString hashes s as UTF-8 bytes.
func HashString(s string) Hash { return HashBytes([]byte(s)) }

// EncodeBase58 encodes b using the standard Bitcoin base58 alphabet.
func EncodeBase58(b []byte) string { return base58.Encode(b) }

// DecodeBase58 reverses EncodeBase58.
func DecodeBase58(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return b, nil
}

// EncodePublicKeyDER returns the canonical DER (PKIX) encoding of pub.
// This is the representation hashed to obtain a KeyId.
func EncodePublicKeyDER(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %v", ErrInvalidKey, err)
	}
	return der, nil
}

// EncodePublicKeyPEM returns the canonical on-wire PEM encoding of pub.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := EncodePublicKeyDER(pub)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: pemPublicKeyType, Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodePublicKeyPEM parses a PEM-encoded public key as produced by
// EncodePublicKeyPEM.
func DecodePublicKeyPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrInvalidKey, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidKey)
	}
	return rsaPub, nil
}

const pemPrivateKeyType = "RSA PRIVATE KEY"

// EncodePrivateKeyPEM returns the PKCS1 PEM encoding of priv, suitable for
// writing to a restricted-permission file so a node can recover its
// identity across restarts.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: pemPrivateKeyType, Bytes: der}
	return string(pem.EncodeToMemory(block))
}

// DecodePrivateKeyPEM parses a PEM-encoded private key as produced by
// EncodePrivateKeyPEM.
func DecodePrivateKeyPEM(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrInvalidKey, err)
	}
	return priv, nil
}

// KeyID computes the KeyId of pub: the hex SHA-256 of its canonical DER
// encoding.
func KeyID(pub *rsa.PublicKey) (KeyId, error) {
	der, err := EncodePublicKeyDER(pub)
	if err != nil {
		return "", err
	}
	return KeyId(HashBytes(der)), nil
}

// sign produces an RSA-PKCS1v15/SHA-256 signature over digest.
func sign(priv *rsa.PrivateKey, digest []byte) ([]byte, error) {
	sum := sha256.Sum256(digest)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, sum[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// verify checks sig over digest under pub.
func verify(pub *rsa.PublicKey, digest, sig []byte) bool {
	sum := sha256.Sum256(digest)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], sig) == nil
}
