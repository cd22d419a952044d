package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testService(t *testing.T) *Service {
	t.Helper()
	kek := make([]byte, KeySize)
	if _, err := rand.Read(kek); err != nil {
		t.Fatalf("failed to generate kek: %v", err)
	}
	svc, err := NewService(base64.StdEncoding.EncodeToString(kek))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestNewServiceConfigurationErrors(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"whitespace":   "   ",
		"not base64":   "!!not-base64!!",
		"wrong length": base64.StdEncoding.EncodeToString([]byte("short")),
	}
	for name, key := range cases {
		if _, err := NewService(key); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := testService(t)
	key, err := svc.NewDataKey()
	if err != nil {
		t.Fatalf("NewDataKey: %v", err)
	}

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("hola"),
		[]byte("me siento mucho mejor esta semana"),
		bytes.Repeat([]byte{0xff, 0x00, 0x7f}, 1000),
	}
	for _, plaintext := range plaintexts {
		ciphertext, nonce, tag, err := svc.Encrypt(plaintext, key)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if len(nonce) != NonceSize || len(tag) != TagSize {
			t.Fatalf("unexpected segment sizes: nonce=%d tag=%d", len(nonce), len(tag))
		}
		got, err := svc.Decrypt(ciphertext, nonce, tag, key)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	svc := testService(t)
	key, _ := svc.NewDataKey()

	_, nonce1, _, err := svc.Encrypt([]byte("x"), key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	_, nonce2, _, err := svc.Encrypt([]byte("x"), key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(nonce1, nonce2) {
		t.Fatal("nonce reused across encryption calls")
	}
}

func TestDecryptTamperDetection(t *testing.T) {
	svc := testService(t)
	key, _ := svc.NewDataKey()

	ciphertext, nonce, tag, err := svc.Encrypt([]byte("registro clínico confidencial"), key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	flipBit := func(b []byte, i int) []byte {
		out := append([]byte(nil), b...)
		out[i%len(out)] ^= 0x01
		return out
	}

	for i := 0; i < len(ciphertext); i++ {
		if _, err := svc.Decrypt(flipBit(ciphertext, i), nonce, tag, key); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("ciphertext bit flip at %d not detected: %v", i, err)
		}
	}
	for i := 0; i < len(nonce); i++ {
		if _, err := svc.Decrypt(ciphertext, flipBit(nonce, i), tag, key); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("nonce bit flip at %d not detected: %v", i, err)
		}
	}
	for i := 0; i < len(tag); i++ {
		if _, err := svc.Decrypt(ciphertext, nonce, flipBit(tag, i), key); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("tag bit flip at %d not detected: %v", i, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	svc := testService(t)
	key, _ := svc.NewDataKey()
	other, _ := svc.NewDataKey()

	ciphertext, nonce, tag, err := svc.Encrypt([]byte("hola"), key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := svc.Decrypt(ciphertext, nonce, tag, other); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity with wrong key, got %v", err)
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	svc := testService(t)
	dek, err := svc.NewDataKey()
	if err != nil {
		t.Fatalf("NewDataKey: %v", err)
	}

	packed, err := svc.WrapKey(dek)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	if strings.Count(packed, packedSeparator) != 2 {
		t.Fatalf("packed format should have three segments, got %q", packed)
	}

	got, err := svc.UnwrapKey(packed)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatal("unwrapped key does not match original")
	}
}

func TestUnwrapKeyRejectsTampering(t *testing.T) {
	svc := testService(t)
	dek, _ := svc.NewDataKey()
	packed, err := svc.WrapKey(dek)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}

	cases := []string{
		"",
		"only-one-segment",
		"a.b",
		"!bad!." + packed[strings.Index(packed, "."):],
		strings.Replace(packed, packed[:4], "AAAA", 1),
	}
	for _, tampered := range cases {
		if tampered == packed {
			continue
		}
		if _, err := svc.UnwrapKey(tampered); !errors.Is(err, ErrIntegrity) {
			t.Errorf("UnwrapKey(%q) expected ErrIntegrity, got %v", tampered, err)
		}
	}

	// Wrong master key must also fail authentication.
	other := testService(t)
	if _, err := other.UnwrapKey(packed); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity under different master key, got %v", err)
	}
}

func TestWrapKeyRejectsBadKeySize(t *testing.T) {
	svc := testService(t)
	if _, err := svc.WrapKey([]byte("short")); err == nil {
		t.Fatal("expected error wrapping short key")
	}
}
