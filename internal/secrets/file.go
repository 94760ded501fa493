package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// The secrets file is one AES-256-GCM sealed JSON object: nonce followed by
// ciphertext.
const nonceSize = 12

// Hooks for tests.
var (
	defaultKeySource           = DefaultKeySource
	fileWriteFile              = os.WriteFile
	fileRandReader   io.Reader = rand.Reader
	fileNewGCM                 = cipher.NewGCM
)

// errCorrupt marks a secrets file that exists but cannot be opened with the
// key (truncated, tampered or sealed under another machine's key).
var errCorrupt = errors.New("secrets file is corrupt or was sealed with another key")

// NewFileManager returns a SecretsManager backed by an encrypted file at path.
// The key comes from DefaultKeySource.
func NewFileManager(path string) (SecretsManager, error) {
	key, err := defaultKeySource()
	if err != nil {
		return nil, err
	}
	return NewFileManagerWithKey(path, key)
}

// NewFileManagerWithKey returns a file-backed SecretsManager using a 32-byte key.
func NewFileManagerWithKey(path string, key []byte) (SecretsManager, error) {
	if len(key) != 32 {
		return nil, errors.New("secrets: key must be 32 bytes")
	}
	return &fileStore{path: path, key: key}, nil
}

type fileStore struct {
	path string
	key  []byte
}

func (f *fileStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	return fileNewGCM(block)
}

// load returns the stored map. A missing file is an empty map.
func (f *fileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets read: %w", err)
	}
	if len(data) < nonceSize {
		return nil, errCorrupt
	}
	aead, err := f.gcm()
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("secrets decrypt: %w", errCorrupt)
	}
	m := map[string]string{}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("secrets parse: %w", err)
	}
	return m, nil
}

func (f *fileStore) seal(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("secrets mkdir: %w", err)
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return err
	}
	aead, err := f.gcm()
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(fileRandReader, nonce); err != nil {
		return fmt.Errorf("secrets nonce: %w", err)
	}
	return fileWriteFile(f.path, aead.Seal(nonce, nonce, plain, nil), 0o600)
}

func (f *fileStore) Get(key string) (string, error) {
	m, err := f.load()
	if err != nil {
		return "", err
	}
	if v := m[key]; v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

// Set replaces a corrupt file rather than failing, so a machine whose key
// changed can be re-provisioned with "secrets set".
func (f *fileStore) Set(key, value string) error {
	m, err := f.load()
	if errors.Is(err, errCorrupt) {
		m = map[string]string{}
	} else if err != nil {
		return err
	}
	m[key] = value
	return f.seal(m)
}

func (f *fileStore) Delete(key string) error {
	m, err := f.load()
	switch {
	case errors.Is(err, errCorrupt):
		return f.seal(map[string]string{})
	case err != nil:
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return f.seal(m)
}
