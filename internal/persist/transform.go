// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package persist

import (
	"crypto/rand"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Transform rewrites snapshot bytes on their way to and from storage.
// Apply runs before Engine.Store; Invert runs after Engine.Load, in the
// reverse of the order the transforms were applied.
type Transform interface {
	Name() string
	Apply(data []byte) ([]byte, error)
	Invert(data []byte) ([]byte, error)
}

// OWASP-recommended argon2id parameters for key derivation.
const (
	sealTime    = 1         // iterations
	sealMemory  = 64 * 1024 // 64 MB
	sealThreads = 4         // parallelism
	sealSaltLen = 16        // salt length in bytes
)

// Sealed encrypts snapshots at rest with XChaCha20-Poly1305. The key is
// derived from the passphrase with argon2id using a fresh salt per write.
// Output layout: salt || nonce || ciphertext.
type Sealed struct {
	passphrase []byte
}

// NewSealed creates a sealing transform. The passphrase must be non-empty.
func NewSealed(passphrase string) (*Sealed, error) {
	if passphrase == "" {
		return nil, oops.Code("PERSIST_NO_PASSPHRASE").
			Errorf("sealing requires a passphrase")
	}
	return &Sealed{passphrase: []byte(passphrase)}, nil
}

// Name identifies the transform.
func (t *Sealed) Name() string { return "sealed" }

// Apply seals the snapshot bytes.
func (t *Sealed) Apply(data []byte) ([]byte, error) {
	salt := make([]byte, sealSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, oops.Code("PERSIST_SEAL_FAILED").With("operation", "generate salt").Wrap(err)
	}

	aead, err := chacha20poly1305.NewX(t.deriveKey(salt))
	if err != nil {
		return nil, oops.Code("PERSIST_SEAL_FAILED").With("operation", "init cipher").Wrap(err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, oops.Code("PERSIST_SEAL_FAILED").With("operation", "generate nonce").Wrap(err)
	}

	out := make([]byte, 0, sealSaltLen+chacha20poly1305.NonceSizeX+len(data)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, nil), nil
}

// Invert unseals the snapshot bytes. A wrong passphrase or tampered payload
// fails authentication and is reported as PERSIST_UNSEAL_FAILED.
func (t *Sealed) Invert(data []byte) ([]byte, error) {
	headerLen := sealSaltLen + chacha20poly1305.NonceSizeX
	if len(data) < headerLen {
		return nil, oops.Code("PERSIST_UNSEAL_FAILED").
			With("length", len(data)).
			Errorf("sealed payload too short")
	}

	salt := data[:sealSaltLen]
	nonce := data[sealSaltLen:headerLen]
	sealed := data[headerLen:]

	aead, err := chacha20poly1305.NewX(t.deriveKey(salt))
	if err != nil {
		return nil, oops.Code("PERSIST_UNSEAL_FAILED").With("operation", "init cipher").Wrap(err)
	}

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, oops.Code("PERSIST_UNSEAL_FAILED").Wrap(err)
	}
	return plain, nil
}

func (t *Sealed) deriveKey(salt []byte) []byte {
	return argon2.IDKey(t.passphrase, salt, sealTime, sealMemory, sealThreads, chacha20poly1305.KeySize)
}
