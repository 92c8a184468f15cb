package coordination

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// messageCipher seals and opens message content with an AEAD derived from
// the configured key. A nil messageCipher passes content through unchanged.
type messageCipher struct {
	aead cipher.AEAD
}

// newMessageCipher derives a 256-bit key from the configured secret and
// builds the selected AEAD.
func newMessageCipher(algorithm shared.EncryptionAlgorithm, key string) (*messageCipher, error) {
	if key == "" {
		return nil, fmt.Errorf("encryption enabled but no key configured")
	}
	derived := sha256.Sum256([]byte(key))

	var (
		aead cipher.AEAD
		err  error
	)
	switch algorithm {
	case shared.EncryptionXChaCha20Poly1305:
		aead, err = chacha20poly1305.NewX(derived[:])
	case shared.EncryptionAES256GCM, "":
		var block cipher.Block
		block, err = aes.NewCipher(derived[:])
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	default:
		return nil, fmt.Errorf("unsupported encryption algorithm %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}

	return &messageCipher{aead: aead}, nil
}

// seal encrypts plaintext and returns a base64 string with the nonce
// prepended.
func (c *messageCipher) seal(plaintext string) (string, error) {
	if c == nil {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a value produced by seal.
func (c *messageCipher) open(ciphertext string) (string, error) {
	if c == nil {
		return ciphertext, nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}
