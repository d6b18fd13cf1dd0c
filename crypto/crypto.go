// Package crypto seals backup archives with a passphrase so that copies kept
// off the server are unreadable without it.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Magic prefixes every sealed payload.
var Magic = []byte("WLBK\x00\x01")

const saltSize = 16

var (
	ErrNotSealed     = errors.New("payload is not sealed")
	ErrWrongPassword = errors.New("wrong passphrase or corrupted payload")
)

func DeriveKey(passphrase string, salt []byte) []byte {
	// Argon2id parameters: 1 pass, 64MB memory, 4 threads, 32 bytes key
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// Seal encrypts plain with AES-256-GCM. Layout: magic | salt | nonce | ciphertext.
func Seal(plain []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(Magic)+saltSize+len(nonce)+len(plain)+gcm.Overhead())
	out = append(out, Magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plain, Magic), nil
}

func Open(sealed []byte, passphrase string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}
	rest := sealed[len(Magic):]
	if len(rest) < saltSize {
		return nil, fmt.Errorf("sealed payload too short")
	}
	salt, rest := rest[:saltSize], rest[saltSize:]

	gcm, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("sealed payload too short")
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, Magic)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
