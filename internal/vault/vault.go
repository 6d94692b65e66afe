// Package vault seals wallet private keys at rest with AES-GCM. Envelopes
// are bound to the wallet address through the AEAD associated data, and a
// previous key is kept for reads during rotation.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const envelopeVersion = "aes-gcm-v1"

var (
	ErrNoKey    = errors.New("vault: no encryption key configured")
	ErrEnvelope = errors.New("vault: malformed envelope")
	ErrOpen     = errors.New("vault: cannot decrypt envelope")
)

type envelope struct {
	Enc   string `json:"enc"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

type Vault struct {
	primary cipher.AEAD
	all     []cipher.AEAD
}

// New builds a vault from a base64 (or raw) primary key and an optional
// previous key.
func New(key, prevKey string) (*Vault, error) {
	v := &Vault{}
	seen := map[string]struct{}{}
	for i, k := range []string{strings.TrimSpace(key), strings.TrimSpace(prevKey)} {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		gcm, err := newGCM(parseKey(k))
		if err != nil {
			return nil, fmt.Errorf("vault key %d: %w", i, err)
		}
		if i == 0 {
			v.primary = gcm
		}
		v.all = append(v.all, gcm)
	}
	if v.primary == nil {
		return nil, ErrNoKey
	}
	return v, nil
}

// Seal encrypts plaintext for the given address.
func (v *Vault) Seal(address string, plaintext []byte) (string, error) {
	if v == nil || v.primary == nil {
		return "", ErrNoKey
	}
	nonce := make([]byte, v.primary.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := v.primary.Seal(nil, nonce, plaintext, aad(address))
	out, err := json.Marshal(envelope{
		Enc:   envelopeVersion,
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(ct),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Open tries the primary key, then the previous one.
func (v *Vault) Open(address string, sealed string) ([]byte, error) {
	if v == nil || len(v.all) == 0 {
		return nil, ErrNoKey
	}
	var env envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return nil, ErrEnvelope
	}
	if env.Enc != envelopeVersion || env.Nonce == "" || env.Data == "" {
		return nil, ErrEnvelope
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, ErrEnvelope
	}
	ct, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, ErrEnvelope
	}
	for _, gcm := range v.all {
		if len(nonce) != gcm.NonceSize() {
			continue
		}
		pt, err := gcm.Open(nil, nonce, ct, aad(address))
		if err == nil {
			return pt, nil
		}
	}
	return nil, ErrOpen
}

// Reseal re-encrypts an envelope under the primary key. changed is false
// when it already opened with the primary key.
func (v *Vault) Reseal(address string, sealed string) (out string, changed bool, err error) {
	pt, err := v.Open(address, sealed)
	if err != nil {
		return sealed, false, err
	}
	if _, perr := v.openWith(v.primary, address, sealed); perr == nil {
		return sealed, false, nil
	}
	out, err = v.Seal(address, pt)
	if err != nil {
		return sealed, false, err
	}
	return out, true, nil
}

func (v *Vault) openWith(gcm cipher.AEAD, address, sealed string) ([]byte, error) {
	single := &Vault{primary: gcm, all: []cipher.AEAD{gcm}}
	return single.Open(address, sealed)
}

// GenerateKey returns a fresh base64 AES-256 key.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func aad(address string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(address)))
}

func parseKey(k string) []byte {
	keyBytes, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		keyBytes = []byte(k)
	}
	switch {
	case len(keyBytes) >= 32:
		return keyBytes[:32]
	case len(keyBytes) >= 24:
		return keyBytes[:24]
	case len(keyBytes) >= 16:
		return keyBytes[:16]
	}
	return nil
}

func newGCM(keyBytes []byte) (cipher.AEAD, error) {
	if len(keyBytes) == 0 {
		return nil, errors.New("key shorter than 16 bytes")
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
