// Package keygen produces the RSA key pairs published by the reconciler.
package keygen

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"

	dserrors "github.com/systmms/keypair/internal/errors"
	"github.com/systmms/keypair/internal/secure"
)

const (
	// KeyBits is the RSA modulus size. CloudFront public keys require 2048.
	KeyBits = 2048

	PublicKeyPEMType  = "PUBLIC KEY"
	PrivateKeyPEMType = "RSA PRIVATE KEY"
)

// KeyMaterial is one freshly generated pair. The public half is plain PEM;
// the private half stays sealed until the caller uses it.
type KeyMaterial struct {
	PublicKey  string
	PrivateKey *secure.SecureBuffer

	fingerprint string
}

// Fingerprint is the hex SHA-256 of the public key DER. It is the only
// key-derived value that may appear in logs.
func (k *KeyMaterial) Fingerprint() string {
	return k.fingerprint
}

// Destroy wipes the sealed private key.
func (k *KeyMaterial) Destroy() {
	if k.PrivateKey != nil {
		k.PrivateKey.Destroy()
	}
}

// Generator creates RSA key pairs from an entropy source.
type Generator struct {
	random io.Reader
	bits   int
}

// Option configures a Generator.
type Option func(*Generator)

// WithRandom replaces crypto/rand.Reader (tests only).
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		g.random = r
	}
}

// New returns a Generator producing KeyBits-sized keys.
func New(opts ...Option) *Generator {
	g := &Generator{
		random: rand.Reader,
		bits:   KeyBits,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a new pair: public as SPKI PEM, private as PKCS#1 PEM.
// Any failure is a CryptoError.
func (g *Generator) Generate() (*KeyMaterial, error) {
	privateKey, err := rsa.GenerateKey(g.random, g.bits)
	if err != nil {
		return nil, dserrors.CryptoError{Op: "generate", Err: err}
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, dserrors.CryptoError{Op: "marshal public key", Err: err}
	}

	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  PublicKeyPEMType,
		Bytes: publicDER,
	})

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  PrivateKeyPEMType,
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	sealed, err := secure.NewSecureBuffer(privatePEM)
	if err != nil {
		return nil, dserrors.CryptoError{Op: "seal private key", Err: err}
	}

	sum := sha256.Sum256(publicDER)
	return &KeyMaterial{
		PublicKey:   string(publicPEM),
		PrivateKey:  sealed,
		fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

// ParsePublicKey decodes an SPKI PEM RSA public key.
func ParsePublicKey(publicPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(publicPEM)
	if block == nil || block.Type != PublicKeyPEMType {
		return nil, fmt.Errorf("failed to decode public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return rsaKey, nil
}

// ParsePrivateKey decodes a PKCS#1 PEM RSA private key.
func ParsePrivateKey(privatePEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(privatePEM)
	if block == nil || block.Type != PrivateKeyPEMType {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// Verify checks that the two PEMs form a pair by signing a fixed message
// with the private key and verifying it with the public key.
func Verify(publicPEM, privatePEM []byte) error {
	publicKey, err := ParsePublicKey(publicPEM)
	if err != nil {
		return err
	}
	privateKey, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return err
	}

	digest := sha256.Sum256([]byte("keypair verification"))
	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return fmt.Errorf("failed to sign test message: %w", err)
	}
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("public and private keys do not match: %w", err)
	}
	return nil
}

// Fingerprint computes the hex SHA-256 of an SPKI PEM public key's DER.
func Fingerprint(publicPEM []byte) (string, error) {
	block, _ := pem.Decode(publicPEM)
	if block == nil {
		return "", fmt.Errorf("failed to decode public key PEM")
	}
	sum := sha256.Sum256(block.Bytes)
	return hex.EncodeToString(sum[:]), nil
}
