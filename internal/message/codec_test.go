package message

import (
	"bytes"
	"testing"
)

func TestGzip_RoundTrip(t *testing.T) {
	c := GzipCompressor{}
	in := bytes.Repeat([]byte("switchyard "), 200)

	packed, err := c.Compress(in)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(packed) >= len(in) {
		t.Errorf("repetitive payload did not shrink: %d >= %d", len(packed), len(in))
	}

	out, err := c.Decompress(packed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("round trip mismatch")
	}
}

func TestGzip_DecompressGarbage(t *testing.T) {
	c := GzipCompressor{}
	if _, err := c.Decompress([]byte("not gzip")); err == nil {
		t.Fatal("expected error decompressing garbage")
	}
}

func TestAESCipher_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := NewAESCipher(key)
	if err != nil {
		t.Fatalf("NewAESCipher: %v", err)
	}

	plain := []byte("assignment for agent-7")
	sealed, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(plain, got) {
		t.Error("round trip mismatch")
	}
}

func TestAESCipher_TamperDetected(t *testing.T) {
	c, err := NewAESCipher(bytes.Repeat([]byte{0x42}, 16))
	if err != nil {
		t.Fatalf("NewAESCipher: %v", err)
	}
	sealed, err := c.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := c.Decrypt(sealed); err == nil {
		t.Fatal("tampered ciphertext decrypted without error")
	}
}

func TestAESCipher_BadKey(t *testing.T) {
	if _, err := NewAESCipher([]byte("short")); err == nil {
		t.Fatal("expected error for invalid key length")
	}
}

func TestAESCipher_ShortCiphertext(t *testing.T) {
	c, _ := NewAESCipher(bytes.Repeat([]byte{1}, 16))
	if _, err := c.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestNoopCipher(t *testing.T) {
	c := NoopCipher{}
	in := []byte("x")
	out, err := c.Encrypt(in)
	if err != nil || !bytes.Equal(in, out) {
		t.Errorf("Encrypt = %v, %v", out, err)
	}
}
