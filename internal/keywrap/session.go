package keywrap

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"

	"pmbots/internal/apperr"
)

type sessionKey struct {
	priv      *rsa.PrivateKey
	publicB64 string
	expires   time.Time
}

// SessionKeys holds one server keypair per session for import. Private keys
// stay in memory and are dropped after the first successful decryption or
// when the TTL passes.
type SessionKeys struct {
	mu   sync.Mutex
	keys map[string]sessionKey
	bits int
	ttl  time.Duration
	now  func() time.Time
}

func NewSessionKeys(bits int, ttl time.Duration) *SessionKeys {
	if bits <= 0 {
		bits = DefaultBits
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionKeys{keys: map[string]sessionKey{}, bits: bits, ttl: ttl, now: time.Now}
}

// PublicKey returns the session's public key, generating a keypair when
// none is live. A live key keeps its original expiry.
func (s *SessionKeys) PublicKey(ctx context.Context, session string) (string, time.Time, error) {
	_ = ctx
	s.mu.Lock()
	if k, ok := s.keys[session]; ok && s.now().Before(k.expires) {
		s.mu.Unlock()
		return k.publicB64, k.expires, nil
	}
	s.mu.Unlock()

	// Key generation is slow; do it outside the lock.
	priv, err := GenerateKey(s.bits)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.CodeKeyEncryptFailed, "key generation failed", err)
	}
	pub, err := ExportPublicKey(&priv.PublicKey)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.CodeKeyEncryptFailed, "key export failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[session]; ok && s.now().Before(k.expires) {
		return k.publicB64, k.expires, nil
	}
	k := sessionKey{priv: priv, publicB64: pub, expires: s.now().Add(s.ttl)}
	s.keys[session] = k
	return k.publicB64, k.expires, nil
}

// Decrypt unwraps with the session key and deletes it on success. The key
// is taken out while decrypting so two requests cannot both use it; a failed
// attempt puts it back for a retry until it expires.
func (s *SessionKeys) Decrypt(ctx context.Context, session string, ciphertextB64 string) ([]byte, error) {
	_ = ctx
	s.mu.Lock()
	k, ok := s.keys[session]
	delete(s.keys, session)
	s.mu.Unlock()
	if !ok || !s.now().Before(k.expires) {
		return nil, apperr.New(apperr.CodeKeySessionExpired, "session key expired")
	}

	pt, err := Decrypt(k.priv, ciphertextB64)
	if err != nil {
		s.mu.Lock()
		if _, taken := s.keys[session]; !taken {
			s.keys[session] = k
		}
		s.mu.Unlock()
		return nil, err
	}
	return pt, nil
}

// Purge removes expired keys and returns how many were dropped.
func (s *SessionKeys) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, k := range s.keys {
		if !now.Before(k.expires) {
			delete(s.keys, id)
			n++
		}
	}
	return n
}

func (s *SessionKeys) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
