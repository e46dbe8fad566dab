package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLen is the derived sealing key size.
const KeyLen = chacha20poly1305.KeySize

// Sealer encrypts stored blobs with XChaCha20-Poly1305.
type Sealer struct {
	aead cipher.AEAD
}

// DeriveKey derives a purpose-bound key from secret via HKDF-SHA256.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("crypto: empty secret")
	}
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewSealer builds a Sealer whose key is derived from secret and purpose.
func NewSealer(secret []byte, purpose string) (*Sealer, error) {
	key, err := DeriveKey(secret, purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce||ciphertext. aad binds the blob to its owner, e.g. lease and record ids.
func (s *Sealer) Seal(plaintext []byte, aad ...[]byte) ([]byte, error) {
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, joinAAD(aad)), nil
}

// Open reverses Seal; aad must match.
func (s *Sealer) Open(blob []byte, aad ...[]byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX+s.aead.Overhead() {
		return nil, errors.New("crypto: sealed blob too short")
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	return s.aead.Open(nil, nonce, blob[chacha20poly1305.NonceSizeX:], joinAAD(aad))
}

// joinAAD length-prefixes each part so ("ab","c") and ("a","bc") differ.
func joinAAD(parts [][]byte) []byte {
	var out []byte
	var n [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		out = append(out, n[:]...)
		out = append(out, p...)
	}
	return out
}
