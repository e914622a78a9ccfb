package credentials

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLength  = 16
	nonceLength = 24
	keyLength   = 32
)

// legacyFileNames are the historical plaintext credential files written by
// earlier clients. The first one found is migrated into the canonical
// encrypted file and then removed; any others are ignored.
var legacyFileNames = []string{"authToken.json", "token.json"}

// legacyPair matches the field names used by the historical files.
type legacyPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// FileStore persists the credential pair to a single file, encrypted at rest
// with a key derived from a passphrase. The file is replaced atomically on
// every Set so a crash never leaves a torn pair on disk.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
}

// NewFileStore creates a file-backed credential store at path. If the
// canonical file does not exist yet, a legacy plaintext credential file in the
// same directory is migrated into it.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("[NewFileStore] path is required")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("[NewFileStore] passphrase is required")
	}

	s := &FileStore{path: path, passphrase: []byte(passphrase)}
	if err := s.migrateLegacy(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get reads and decrypts the stored pair. A missing file yields an empty pair.
func (s *FileStore) Get() (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Set encrypts and writes the pair, replacing the file atomically.
func (s *FileStore) Set(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(pair)
}

// Clear removes the credential file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

func (s *FileStore) read() (Pair, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Pair{}, nil
	}
	if err != nil {
		return Pair{}, fmt.Errorf("failed to read credential file: %w", err)
	}

	if len(data) < saltLength+nonceLength+secretbox.Overhead {
		return Pair{}, fmt.Errorf("credential file is truncated")
	}

	salt := data[:saltLength]
	var nonce [nonceLength]byte
	copy(nonce[:], data[saltLength:saltLength+nonceLength])
	box := data[saltLength+nonceLength:]

	key, err := s.deriveKey(salt)
	if err != nil {
		return Pair{}, err
	}

	plaintext, ok := secretbox.Open(nil, box, &nonce, key)
	if !ok {
		return Pair{}, fmt.Errorf("failed to decrypt credential file (wrong passphrase?)")
	}

	var pair Pair
	if err := json.Unmarshal(plaintext, &pair); err != nil {
		return Pair{}, fmt.Errorf("failed to decode credential file: %w", err)
	}
	return pair, nil
}

func (s *FileStore) write(pair Pair) error {
	plaintext, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	key, err := s.deriveKey(salt)
	if err != nil {
		return err
	}

	data := make([]byte, 0, saltLength+nonceLength+len(plaintext)+secretbox.Overhead)
	data = append(data, salt...)
	data = append(data, nonce[:]...)
	data = secretbox.Seal(data, plaintext, &nonce, key)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

func (s *FileStore) deriveKey(salt []byte) (*[keyLength]byte, error) {
	derived, err := scrypt.Key(s.passphrase, salt, 1<<15, 8, 1, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	key := new([keyLength]byte)
	copy(key[:], derived)
	return key, nil
}

// migrateLegacy imports the first legacy plaintext file found next to the
// canonical path, then deletes it. Runs only when the canonical file is absent.
func (s *FileStore) migrateLegacy() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}

	dir := filepath.Dir(s.path)
	for _, name := range legacyFileNames {
		legacyPath := filepath.Join(dir, name)
		data, err := os.ReadFile(legacyPath)
		if err != nil {
			continue
		}

		var legacy legacyPair
		if err := json.Unmarshal(data, &legacy); err != nil {
			continue
		}
		if legacy.AccessToken == "" && legacy.RefreshToken == "" {
			continue
		}

		if err := s.write(Pair{AccessToken: legacy.AccessToken, RefreshToken: legacy.RefreshToken}); err != nil {
			return fmt.Errorf("failed to migrate legacy credential file %q: %w", name, err)
		}
		if err := os.Remove(legacyPath); err != nil {
			return fmt.Errorf("failed to remove legacy credential file %q: %w", name, err)
		}
		return nil
	}
	return nil
}
