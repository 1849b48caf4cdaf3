package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the master key width (AES-256).
	KeySize  = 32
	saltSize = 16
)

// LoadOrCreateKey returns the master key stored at path, generating and
// persisting a random one on first use. The file is created with owner-only
// permissions and never rewritten afterwards.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := readFixed(path, KeySize)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading master key: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	if err := writeExclusive(path, key); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost a creation race with another process; use the winner's key.
			return readFixed(path, KeySize)
		}
		return nil, fmt.Errorf("writing master key: %w", err)
	}
	return key, nil
}

// DeriveKey derives the master key from a passphrase with argon2id. The salt
// lives at saltPath and is generated on first use.
func DeriveKey(passphrase []byte, saltPath string) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	salt, err := readFixed(saltPath, saltSize)
	if errors.Is(err, fs.ErrNotExist) {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generating salt: %w", err)
		}
		if err := writeExclusive(saltPath, salt); err != nil {
			if !errors.Is(err, fs.ErrExist) {
				return nil, fmt.Errorf("writing salt: %w", err)
			}
			if salt, err = readFixed(saltPath, saltSize); err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, fmt.Errorf("reading salt: %w", err)
	}
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize), nil
}

func readFixed(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("%s: expected %d bytes, found %d", path, size, len(data))
	}
	return data, nil
}

func writeExclusive(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
