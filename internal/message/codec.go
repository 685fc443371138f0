package message

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Compressor compresses payloads above the router's size threshold.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Cipher encrypts payloads when a message requests encryption.
type Cipher interface {
	Name() string
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// GzipCompressor is the default payload compressor.
type GzipCompressor struct{}

func (GzipCompressor) Name() string { return "gzip" }

func (GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("message: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("message: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("message: gzip open: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("message: gzip read: %w", err)
	}
	return out, nil
}

// NoopCipher passes payloads through unchanged.
type NoopCipher struct{}

func (NoopCipher) Name() string                     { return "none" }
func (NoopCipher) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (NoopCipher) Decrypt(c []byte) ([]byte, error) { return c, nil }

const gcmNonceLen = 12

// AESCipher is an AES-GCM payload cipher. The nonce is prepended to the
// ciphertext.
type AESCipher struct {
	aead cipher.AEAD
}

// NewAESCipher builds an AES-GCM cipher from a 16, 24, or 32 byte key.
func NewAESCipher(key []byte) (*AESCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("message: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("message: new gcm: %w", err)
	}
	return &AESCipher{aead: aead}, nil
}

func (c *AESCipher) Name() string { return "aes-gcm" }

func (c *AESCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, gcmNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("message: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *AESCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < gcmNonceLen {
		return nil, fmt.Errorf("message: ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcmNonceLen], ciphertext[gcmNonceLen:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("message: decrypt: %w", err)
	}
	return plaintext, nil
}
