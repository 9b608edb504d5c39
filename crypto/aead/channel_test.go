package aead

import (
	"crypto/rand"
	"testing"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ch, err := New(mustKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []byte(`{"type":"chat","payload":{"text":"hi"}}`)
	blob, err := ch.Encrypt(want)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := ch.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncryptNoncesDiffer(t *testing.T) {
	ch, err := New(mustKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := ch.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := ch.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of the same plaintext must not produce the same blob")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	ch1, _ := New(mustKey(t))
	ch2, _ := New(mustKey(t))
	blob, err := ch1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ch2.Decrypt(blob); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}

func TestDecryptTamperedFails(t *testing.T) {
	ch, _ := New(mustKey(t))
	blob, err := ch.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := blob[:len(blob)-2] + "AA"
	if _, err := ch.Decrypt(tampered); err == nil {
		t.Fatal("expected decryption of tampered ciphertext to fail")
	}
}

func TestDecryptGarbageFails(t *testing.T) {
	ch, _ := New(mustKey(t))
	if _, err := ch.Decrypt("not-base64!!"); err == nil {
		t.Fatal("expected decryption of non-base64 input to fail")
	}
	if _, err := ch.Decrypt("AA=="); err == nil {
		t.Fatal("expected decryption of too-short input to fail")
	}
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	if _, err := New(make([]byte, 16)); err == nil {
		t.Fatal("expected New to reject a non-32-byte key")
	}
}
