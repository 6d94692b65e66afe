// Package keywrap moves private keys between browser and server wrapped in
// RSA-OAEP (SHA-256). Public keys travel as base64 SPKI DER without PEM
// armour, the form WebCrypto exports.
package keywrap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"strings"

	"pmbots/internal/apperr"
)

const DefaultBits = 2048

// MaxPlaintext is the OAEP-SHA256 payload limit for a key of the given size.
func MaxPlaintext(bits int) int {
	return bits/8 - 2*sha256.Size - 2
}

func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits < DefaultBits {
		bits = DefaultBits
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func ParsePublicKey(b64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(stripPEM(b64))
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return pub, nil
}

// Encrypt wraps plaintext for the holder of pubB64 and returns base64
// ciphertext. All failures are KEY_ENCRYPT_FAILED.
func Encrypt(pubB64 string, plaintext []byte) (string, error) {
	pub, err := ParsePublicKey(pubB64)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeKeyEncryptFailed, "invalid public key", err)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeKeyEncryptFailed, "encryption failed", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt unwraps base64 ciphertext. All failures are KEY_DECRYPT_FAILED.
func Decrypt(priv *rsa.PrivateKey, ciphertextB64 string) ([]byte, error) {
	if priv == nil {
		return nil, apperr.New(apperr.CodeKeyDecryptFailed, "no private key")
	}
	ct, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertextB64))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeKeyDecryptFailed, "invalid ciphertext encoding", err)
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeKeyDecryptFailed, "decryption failed", err)
	}
	return pt, nil
}

// stripPEM tolerates clients that send armoured keys anyway.
func stripPEM(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "-----") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}
