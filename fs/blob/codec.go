// Package blob implements the deterministic plaintext<->ciphertext
// transform described in spec.md §4.1: hash the plaintext to derive both
// its content key and the AEAD key, compress it, seal it with AES-GCM,
// and hash the result to derive the block's store address.
//
// The AES-GCM sealing follows backend/cryptomator/cryptor_gcm.go, except
// that no nonce is stored with the block: the nonce is derived from the
// key, so a stored block is exactly the GCM output (ciphertext followed
// by its tag). The compression step is the same
// snappy call used by backend/press/alg_snappy.go; deriving both a
// content hash and an AEAD key from one underlying hash of the plaintext
// mirrors the key-derivation idiom in backend/crypt/cipher.go.
package blob

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	gflfs "github.com/threefoldtech/gofl/fs"
)

// KeySize is the AES-GCM key size in bytes (128-bit key, taken from the
// first 16 bytes of the plaintext's SHA-256 digest).
const KeySize = 16

// NonceSize is the AES-GCM nonce size in bytes (taken from the first 12
// bytes of the same digest).
const NonceSize = 12

// HashSize is the full digest size written into id/key columns (see
// DESIGN.md's "Hash width" open-question decision: this implementation
// widens to the full 32-byte SHA-256 digest rather than the legacy
// 16-hex-digit schema).
const HashSize = sha256.Size

// Hash returns the hex-encoded SHA-256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the raw SHA-256 digest of b.
func HashBytes(b []byte) [HashSize]byte {
	return sha256.Sum256(b)
}

// Encode compresses and encrypts a plaintext block, deterministically: P
// always yields the same (ciphertext, id, key) triple, since key and
// nonce are both derived from H(P) rather than generated randomly. This
// is the property spec.md §8 calls "Block determinism".
func Encode(plaintext []byte) (ciphertext []byte, id string, key string) {
	digest := HashBytes(plaintext)
	keyHex := hex.EncodeToString(digest[:])

	compressed := snappy.Encode(nil, plaintext)

	block, err := aes.NewCipher(digest[:KeySize])
	if err != nil {
		// aes.NewCipher only fails on a bad key length, which cannot
		// happen since KeySize is a compile-time constant equal to 16.
		panic(errors.Wrap(err, "blob: invalid AES key size"))
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		panic(errors.Wrap(err, "blob: invalid GCM nonce size"))
	}

	nonce := digest[:NonceSize]
	sealed := gcm.Seal(nil, nonce, compressed, nil)

	idDigest := HashBytes(sealed)
	return sealed, hex.EncodeToString(idDigest[:]), keyHex
}

// Decode reverses Encode: it verifies the AEAD tag using key, decompresses
// the recovered plaintext, and returns it. A bit-flip anywhere in
// ciphertext or a wrong key causes gcm.Open to fail, which is reported as
// an *fs.IntegrityError so callers can translate it to EIO without
// poisoning any cache.
func Decode(ciphertext []byte, key string) ([]byte, error) {
	keyBytes, err := hex.DecodeString(key)
	if err != nil || len(keyBytes) < KeySize {
		return nil, &gflfs.IntegrityError{Err: errors.New("blob: malformed key")}
	}

	block, err := aes.NewCipher(keyBytes[:KeySize])
	if err != nil {
		return nil, &gflfs.IntegrityError{Err: errors.Wrap(err, "blob: invalid key")}
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, &gflfs.IntegrityError{Err: errors.Wrap(err, "blob: invalid gcm")}
	}

	nonce := keyBytes[:NonceSize]
	compressed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &gflfs.IntegrityError{Err: errors.Wrap(err, "AEAD tag verification failed")}
	}

	plaintext, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, &gflfs.IntegrityError{Err: errors.Wrap(err, "decompression failed")}
	}
	return plaintext, nil
}

// IDFor computes the id a ciphertext block would be addressed by,
// without going through Encode. Used by tests.
func IDFor(ciphertext []byte) string {
	d := HashBytes(ciphertext)
	return hex.EncodeToString(d[:])
}
