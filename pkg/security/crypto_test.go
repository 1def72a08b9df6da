package security

import (
	"bytes"
	"testing"
)

func TestPhoneRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	ct, err := EncryptPhone(key, "+1-555-0100")
	if err != nil {
		t.Fatalf("EncryptPhone: %v", err)
	}
	if ct == "+1-555-0100" {
		t.Fatalf("ciphertext equals plaintext")
	}
	pt, err := DecryptPhone(key, ct)
	if err != nil {
		t.Fatalf("DecryptPhone: %v", err)
	}
	if pt != "+1-555-0100" {
		t.Fatalf("round trip mismatch: %q", pt)
	}

	// distinct nonces: two encryptions of the same value differ
	ct2, err := EncryptPhone(key, "+1-555-0100")
	if err != nil {
		t.Fatalf("EncryptPhone: %v", err)
	}
	if ct == ct2 {
		t.Fatalf("expected distinct ciphertexts")
	}
}

func TestPhoneWrongKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	other := bytes.Repeat([]byte{0x43}, 32)
	ct, err := EncryptPhone(key, "+1-555-0100")
	if err != nil {
		t.Fatalf("EncryptPhone: %v", err)
	}
	if _, err := DecryptPhone(other, ct); err == nil {
		t.Fatalf("expected decrypt failure with wrong key")
	}
	if _, err := EncryptPhone(key[:16], "x"); err == nil {
		t.Fatalf("expected key length error")
	}
}
