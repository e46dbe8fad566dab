// Package crypto implements one-time code generation, hashing and content digests.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for short-lived codes.
const (
	argonTime    uint32 = 2
	argonMemory  uint32 = 19 * 1024 // 19 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-code salt size.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NumericCode returns a uniformly random decimal string of the given length.
// Leading zeros are kept.
func NumericCode(length int) (string, error) {
	if length <= 0 || length > 12 {
		return "", errors.New("crypto: code length out of range")
	}
	buf := make([]byte, length)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

// HashCode returns the Argon2id hash of code using the provided salt.
func HashCode(code string, salt []byte) []byte {
	return argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyCode checks code against expected hash and salt in constant time.
func VerifyCode(code string, salt, expected []byte) bool {
	got := HashCode(code, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// ContentHash returns the hex SHA-256 of parts, each prefixed by its
// big-endian uint64 length.
func ContentHash(parts ...[]byte) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EqualHash compares two content hashes in constant time.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
