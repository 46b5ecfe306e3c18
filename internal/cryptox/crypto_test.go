package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}

	expectedHex := "34f7a1c64df63ab1ad5b5ee06e64db5713b35f81839823304db63e8e5e6a6a39"
	if hex.EncodeToString(key1) != expectedHex {
		t.Errorf("expected %s, got %s", expectedHex, hex.EncodeToString(key1))
	}
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveKey(password, []byte("salt-1"))
	key2 := DeriveKey(password, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := DeriveKey([]byte("pw"), []byte("salt"))
	plaintext := []byte(`[{"id":"p1"}]`)

	sealed, err := Seal(plaintext, key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("sealed payload contains plaintext")
	}

	again, err := Seal(plaintext, key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(sealed, again) {
		t.Errorf("expected a fresh nonce per Seal")
	}

	got, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("got %q, want %q", got, plaintext)
	}
}

func TestOpen_Errors(t *testing.T) {
	key := DeriveKey([]byte("pw"), []byte("salt"))
	sealed, err := Seal([]byte("data"), key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(sealed, DeriveKey([]byte("other"), []byte("salt"))); err == nil {
		t.Errorf("expected error for wrong key")
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := Open(tampered, key); err == nil {
		t.Errorf("expected error for tampered payload")
	}

	if _, err := Open([]byte{1, 2}, key); err != ErrSealedTooShort {
		t.Errorf("expected ErrSealedTooShort, got %v", err)
	}

	if _, err := Seal([]byte("x"), []byte("short")); err == nil {
		t.Errorf("expected error for invalid key size")
	}
}
