package secrets

import (
	"encoding/base64"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("test-master-secret")
	if err != nil {
		t.Fatalf("unexpected error creating store: %v", err)
	}
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := newTestStore(t)

	tests := []string{
		"",
		"a",
		"joao.silva@example.com.br",
		"+55 11 98765-4321",
		"São Paulo — faixa-preta 2º dan",
		"{\"type\":\"payment\",\"data\":{\"id\":\"12345\"}}",
	}

	for _, plaintext := range tests {
		enc, err := s.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plaintext, err)
		}
		got, err := s.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt of Encrypt(%q) failed: %v", plaintext, err)
		}
		if got != plaintext {
			t.Fatalf("round trip of %q returned %q", plaintext, got)
		}
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Encrypt("same input")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := s.Encrypt("same input")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct ciphertexts for repeated input (fresh nonce)")
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	s := newTestStore(t)

	enc, err := s.Encrypt("payer-document-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(enc)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := s.Decrypt(tampered); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for tampered ciphertext, got %v", err)
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	s := newTestStore(t)

	for _, in := range []string{"not base64!!", "YWJj", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := s.Decrypt(in); !errors.Is(err, ErrDecryption) {
			t.Fatalf("Decrypt(%q): expected ErrDecryption, got %v", in, err)
		}
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	s := newTestStore(t)
	other, err := New("a-different-master-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	enc, err := s.Encrypt("access-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := other.Decrypt(enc); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption with wrong key, got %v", err)
	}
}

func TestHash(t *testing.T) {
	s := newTestStore(t)

	if s.Hash("") != "" {
		t.Fatalf("expected empty hash for empty input")
	}
	if s.Hash("gateway-id-1") != s.Hash("gateway-id-1") {
		t.Fatalf("expected hash to be deterministic")
	}
	if s.Hash("gateway-id-1") == s.Hash("gateway-id-2") {
		t.Fatalf("expected distinct hashes for distinct inputs")
	}

	other, _ := New("a-different-master-secret")
	if s.Hash("gateway-id-1") == other.Hash("gateway-id-1") {
		t.Fatalf("expected hash to be keyed by the derived key")
	}
}
