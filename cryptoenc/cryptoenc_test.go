package cryptoenc_test

import (
	"testing"

	"github.com/nlarkins/mexc-sniper/cryptoenc"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := cryptoenc.New("operator-passphrase")

	ciphertext, err := e.Encrypt([]byte("mx0vglSecretKey123"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plaintext) != "mx0vglSecretKey123" {
		t.Fatalf("expected round trip to recover plaintext, got %q", plaintext)
	}
}

func TestDecryptWithWrongPassphraseFails(t *testing.T) {
	ciphertext, err := cryptoenc.New("correct-passphrase").Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := cryptoenc.New("wrong-passphrase").Decrypt(ciphertext); err == nil {
		t.Fatal("expected decrypt with wrong passphrase to fail")
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	e := cryptoenc.New("operator-passphrase")
	a, err := e.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := e.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct nonces to produce distinct ciphertexts")
	}
}
