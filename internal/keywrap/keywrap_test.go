package keywrap

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"pmbots/internal/apperr"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	priv, err := GenerateKey(DefaultBits)
	if err != nil {
		t.Fatalf("generate err=%v", err)
	}
	pub, err := ExportPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("export err=%v", err)
	}
	if strings.Contains(pub, "BEGIN") {
		t.Fatalf("public key has PEM armour")
	}

	cases := [][]byte{
		[]byte("x"),
		[]byte("0x4c0883a69102937d6231471b5dbb6204fe512961708279f1d8b1b0f3c2d2a5d1"),
		bytes.Repeat([]byte{0xab}, MaxPlaintext(DefaultBits)),
	}
	for _, plaintext := range cases {
		ct, err := Encrypt(pub, plaintext)
		if err != nil {
			t.Fatalf("encrypt len=%d err=%v", len(plaintext), err)
		}
		got, err := Decrypt(priv, ct)
		if err != nil {
			t.Fatalf("decrypt len=%d err=%v", len(plaintext), err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch len=%d", len(plaintext))
		}
	}
}

func TestEncrypt_TooLong(t *testing.T) {
	priv, _ := GenerateKey(DefaultBits)
	pub, _ := ExportPublicKey(&priv.PublicKey)
	_, err := Encrypt(pub, bytes.Repeat([]byte{1}, MaxPlaintext(DefaultBits)+1))
	if !apperr.Is(err, apperr.CodeKeyEncryptFailed) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeKeyEncryptFailed)
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	priv, _ := GenerateKey(DefaultBits)
	if _, err := Decrypt(priv, "not-base64!"); !apperr.Is(err, apperr.CodeKeyDecryptFailed) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeKeyDecryptFailed)
	}
	if _, err := Decrypt(priv, "AAAA"); !apperr.Is(err, apperr.CodeKeyDecryptFailed) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeKeyDecryptFailed)
	}
}

func TestSessionKeys_SingleUse(t *testing.T) {
	ctx := context.Background()
	keys := NewSessionKeys(DefaultBits, time.Minute)

	pub, _, err := keys.PublicKey(ctx, "s1")
	if err != nil {
		t.Fatalf("public key err=%v", err)
	}
	again, _, _ := keys.PublicKey(ctx, "s1")
	if again != pub {
		t.Fatalf("live session key regenerated")
	}

	ct, err := Encrypt(pub, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt err=%v", err)
	}
	if _, err := keys.Decrypt(ctx, "s1", "AAAA"); !apperr.Is(err, apperr.CodeKeyDecryptFailed) {
		t.Fatalf("bad ciphertext err=%v", err)
	}
	got, err := keys.Decrypt(ctx, "s1", ct)
	if err != nil || string(got) != "secret" {
		t.Fatalf("got=%s err=%v", got, err)
	}
	if _, err := keys.Decrypt(ctx, "s1", ct); !apperr.Is(err, apperr.CodeKeySessionExpired) {
		t.Fatalf("second use err=%v want=%s", err, apperr.CodeKeySessionExpired)
	}
}

func TestSessionKeys_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	keys := NewSessionKeys(DefaultBits, time.Minute)
	keys.now = func() time.Time { return now }

	pub, _, _ := keys.PublicKey(ctx, "s1")
	ct, _ := Encrypt(pub, []byte("secret"))
	now = now.Add(2 * time.Minute)

	if _, err := keys.Decrypt(ctx, "s1", ct); !apperr.Is(err, apperr.CodeKeySessionExpired) {
		t.Fatalf("err=%v want=%s", err, apperr.CodeKeySessionExpired)
	}

	_, _, _ = keys.PublicKey(ctx, "s2")
	now = now.Add(2 * time.Minute)
	if n := keys.Purge(); n != 1 {
		t.Fatalf("purged=%d want=1", n)
	}
	if keys.Len() != 0 {
		t.Fatalf("len=%d want=0", keys.Len())
	}
}
