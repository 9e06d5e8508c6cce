// Package crypto declares the engine's boundary to the cryptographic
// subsystem. The engine only moves opaque bodies through a Cipher; key
// management and the actual primitives live outside the core.
package crypto

import "errors"

// ErrUndecipherable is returned when a ciphertext cannot be decrypted.
// It maps directly to the undecipherable download state.
var ErrUndecipherable = errors.New("crypto: undecipherable")

// Cipher encrypts and decrypts opaque message bodies.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Passthrough is a no-op cipher for unencrypted accounts and tests.
type Passthrough struct{}

func (Passthrough) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (Passthrough) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }
