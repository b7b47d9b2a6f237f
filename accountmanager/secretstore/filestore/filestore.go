// Package filestore is a secretstore.Store backend that keeps a single
// encrypted blob in a local file, for deployments without a platform
// keychain. Encryption is NaCl secretbox (golang.org/x/crypto/nacl),
// matching the crypto library the teacher's go.mod already carries.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Store keeps one encrypted blob at path, encrypted under key.
type Store struct {
	path string
	key  [32]byte
}

// Open returns a Store writing to path using key for encryption. key must
// be exactly 32 bytes.
func Open(path string, key [32]byte) *Store {
	return &Store{path: path, key: key}
}

func (s *Store) Read(ctx context.Context) (string, bool, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("filestore: read: %w", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return "", false, fmt.Errorf("filestore: decode: %w", err)
	}
	if len(sealed) < nonceSize {
		return "", false, fmt.Errorf("filestore: corrupt file: too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", false, fmt.Errorf("filestore: decryption failed")
	}
	return string(plain), true, nil
}

func (s *Store) Write(ctx context.Context, blob string) error {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("filestore: nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(blob), &nonce, &s.key)
	encoded := base64.StdEncoding.EncodeToString(sealed)
	if err := os.WriteFile(s.path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("filestore: write: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
