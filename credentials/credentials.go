// Package credentials stores the OpenRouter API key used by the digest
// service, encrypted with AES-GCM in credentials.yaml inside the config
// directory.
//
// The encryption key lives in the system keyring (macOS Keychain, Windows
// Credential Manager, Linux Secret Service). For CI and containers set
// DIGEST_ENCRYPTION_KEY to a 64-character hex string (32 bytes).
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCredentialsFile = "credentials.yaml"

	// ProviderOpenRouter is the only provider the service talks to.
	ProviderOpenRouter = "openrouter"

	// APIKeyEnv overrides any stored key.
	APIKeyEnv = "OPENROUTER_API_KEY"
)

// Source says where an API key came from.
type Source string

const (
	SourceNone        Source = "none"
	SourceEnvironment Source = "environment"
	SourceStore       Source = "credential store"
)

var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials is the on-disk record. APIKey is ciphertext on disk and
// plaintext in memory.
type Credentials struct {
	Provider    string    `yaml:"provider"`
	APIKey      string    `yaml:"api_key"`
	LastUpdated time.Time `yaml:"last_updated"`
}

// Store manages credential storage operations.
type Store struct {
	dir           string
	encryptionKey []byte
	keyProvider   KeyProvider
}

// NewStore opens the store in dir using KeyProviderFor(dir).
func NewStore(dir string) (*Store, error) {
	keyProvider, err := KeyProviderFor(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(dir, keyProvider)
}

// NewStoreWithKeyProvider opens the store in dir with a custom key provider.
func NewStoreWithKeyProvider(dir string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return &Store{dir: dir, encryptionKey: key, keyProvider: keyProvider}, nil
}

// Path returns the credentials file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, DefaultCredentialsFile)
}

// KeyStorage describes where the encryption key is kept.
func (s *Store) KeyStorage() string {
	return s.keyProvider.Description()
}

// SaveAPIKey encrypts and stores apiKey, replacing any previous key.
func (s *Store) SaveAPIKey(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("api key is empty")
	}
	return s.Save(&Credentials{Provider: ProviderOpenRouter, APIKey: apiKey})
}

// Save stores credentials to the credentials file.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	stored := *creds
	stored.LastUpdated = time.Now().UTC()
	if stored.Provider == "" {
		stored.Provider = ProviderOpenRouter
	}

	encrypted, err := s.encrypt(stored.APIKey)
	if err != nil {
		return fmt.Errorf("encrypting API key: %w", err)
	}
	stored.APIKey = encrypted

	data, err := yaml.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// Load reads and decrypts the stored credentials.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if creds.APIKey == "" {
		return nil, ErrNoCredentials
	}

	decrypted, err := s.decrypt(creds.APIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting API key: %w", err)
	}
	creds.APIKey = decrypted
	return &creds, nil
}

// Delete removes stored credentials. A missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Rotate replaces the encryption key and re-encrypts the stored API key.
// An environment-provided key cannot be rotated.
func (s *Store) Rotate() error {
	creds, err := s.Load()
	if err != nil {
		return err
	}
	key, err := s.keyProvider.ResetKey()
	if err != nil {
		return fmt.Errorf("resetting encryption key: %w", err)
	}
	s.encryptionKey = key
	return s.Save(creds)
}

// Exists checks if the credentials file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// ResolveAPIKey returns the key from the environment if set, otherwise from
// store. store may be nil when no keyring is available.
func ResolveAPIKey(getenv func(string) string, store *Store) (string, Source, error) {
	if key := strings.TrimSpace(getenv(APIKeyEnv)); key != "" {
		return key, SourceEnvironment, nil
	}
	if store == nil {
		return "", SourceNone, ErrNoCredentials
	}
	creds, err := store.Load()
	if err != nil {
		return "", SourceNone, err
	}
	return creds.APIKey, SourceStore, nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// encrypt seals plaintext with AES-GCM; the nonce is prepended.
func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

// MaskAPIKey hides all but the provider prefix and the last four characters.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	prefix := apiKey[:4]
	if strings.HasPrefix(apiKey, "sk-or-") {
		prefix = "sk-or-"
	}
	return prefix + strings.Repeat("*", 8) + apiKey[len(apiKey)-4:]
}
