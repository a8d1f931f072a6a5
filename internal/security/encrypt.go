package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const kdfIterations = 4096

// Encryptor provides symmetric encryption for message content held in the
// local archive. It uses AES-256-GCM with a key derived from a user
// passphrase via PBKDF2, so arbitrary-length passphrases work.
type Encryptor struct {
	aead cipher.AEAD
}

func NewEncryptor(passphrase, salt []byte) (*Encryptor, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("encryption passphrase must not be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("encryption salt must not be empty")
	}
	key := pbkdf2.Key(passphrase, salt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

func (e *Encryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (e *Encryptor) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < e.aead.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, ciphertext := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt content: %w", err)
	}
	return string(plain), nil
}
