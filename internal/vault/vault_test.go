package vault

import (
	"bytes"
	"testing"
)

func TestVault_SealOpen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate err=%v", err)
	}
	v, err := New(key, "")
	if err != nil {
		t.Fatalf("new err=%v", err)
	}
	secret := []byte("4c0883a69102937d6231471b5dbb6204fe512961708279f1d8b1b0f3c2d2a5d1")
	sealed, err := v.Seal("0xABCDEF0000000000000000000000000000000001", secret)
	if err != nil {
		t.Fatalf("seal err=%v", err)
	}
	if bytes.Contains([]byte(sealed), secret) {
		t.Fatalf("sealed value contains plaintext")
	}
	got, err := v.Open("0xabcdef0000000000000000000000000000000001", sealed)
	if err != nil {
		t.Fatalf("open err=%v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Fatalf("got=%s want=%s", got, secret)
	}
}

func TestVault_WrongAddressFails(t *testing.T) {
	key, _ := GenerateKey()
	v, _ := New(key, "")
	sealed, _ := v.Seal("0x01", []byte("k"))
	if _, err := v.Open("0x02", sealed); err != ErrOpen {
		t.Fatalf("err=%v want=%v", err, ErrOpen)
	}
}

func TestVault_RotationReadsPrevKey(t *testing.T) {
	oldKey, _ := GenerateKey()
	newKey, _ := GenerateKey()
	oldVault, _ := New(oldKey, "")
	sealed, _ := oldVault.Seal("0x01", []byte("k"))

	rotated, err := New(newKey, oldKey)
	if err != nil {
		t.Fatalf("new err=%v", err)
	}
	if got, err := rotated.Open("0x01", sealed); err != nil || string(got) != "k" {
		t.Fatalf("open got=%s err=%v", got, err)
	}
	resealed, changed, err := rotated.Reseal("0x01", sealed)
	if err != nil || !changed {
		t.Fatalf("reseal changed=%v err=%v", changed, err)
	}
	onlyNew, _ := New(newKey, "")
	if got, err := onlyNew.Open("0x01", resealed); err != nil || string(got) != "k" {
		t.Fatalf("open resealed got=%s err=%v", got, err)
	}
	if _, changed, _ := rotated.Reseal("0x01", resealed); changed {
		t.Fatalf("reseal of primary envelope reported change")
	}
}

func TestVault_NoKey(t *testing.T) {
	if _, err := New("", ""); err != ErrNoKey {
		t.Fatalf("err=%v want=%v", err, ErrNoKey)
	}
}
