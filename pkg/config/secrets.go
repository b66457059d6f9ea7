package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"

	"figflow/pkg/logx"
)

// SecretsFileName is the encrypted secrets file inside the data directory.
const SecretsFileName = "secrets.json.enc"

const (
	saltSize  = 16
	nonceSize = 12
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keySize   = 32
)

// ErrSecretNotFound is returned when neither the secrets file nor the environment has a value.
var ErrSecretNotFound = errors.New("secret not found")

//nolint:gochecknoglobals // process-wide decrypted secrets
var (
	decryptedSecrets    map[string]string
	decryptedSecretsMux sync.RWMutex
)

// SetDecryptedSecrets replaces the in-memory secrets.
func SetDecryptedSecrets(secrets map[string]string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	decryptedSecrets = secrets
}

// GetSecret looks name up in the decrypted secrets first, then the environment.
func GetSecret(name string) (string, error) {
	decryptedSecretsMux.RLock()
	value := decryptedSecrets[name]
	decryptedSecretsMux.RUnlock()
	if value != "" {
		return value, nil
	}
	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s is not set in the secrets file or environment", ErrSecretNotFound, name)
}

// SetSecret stores a secret in memory.
func SetSecret(name, value string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	if decryptedSecrets == nil {
		decryptedSecrets = make(map[string]string)
	}
	decryptedSecrets[name] = value
}

// DeleteSecret removes a secret from memory. It reports whether it existed.
func DeleteSecret(name string) bool {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	_, ok := decryptedSecrets[name]
	delete(decryptedSecrets, name)
	return ok
}

// SecretNames lists stored secret names, sorted.
func SecretNames() []string {
	decryptedSecretsMux.RLock()
	defer decryptedSecretsMux.RUnlock()
	names := make([]string, 0, len(decryptedSecrets))
	for name := range decryptedSecrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SecretsFileExists reports whether dir holds an encrypted secrets file.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, SecretsFileName))
	return err == nil
}

// LoadSecrets decrypts the secrets file in dir into memory.
func LoadSecrets(dir, password string) error {
	secrets, err := DecryptSecretsFile(dir, password)
	if err != nil {
		return err
	}
	SetDecryptedSecrets(secrets)
	return nil
}

// SaveSecrets encrypts the in-memory secrets into dir.
func SaveSecrets(dir, password string) error {
	decryptedSecretsMux.RLock()
	secrets := make(map[string]string, len(decryptedSecrets))
	for k, v := range decryptedSecrets {
		secrets[k] = v
	}
	decryptedSecretsMux.RUnlock()
	return EncryptSecretsFile(dir, password, secrets)
}

func deriveGCM(password, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptSecretsFile writes secrets to dir as [salt][nonce][ciphertext+tag] with mode 0600.
func EncryptSecretsFile(dir, password string, secrets map[string]string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := deriveGCM([]byte(password), salt)
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	clear(plaintext)

	data := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	data = append(data, salt...)
	data = append(data, nonce...)
	data = append(data, ciphertext...)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, SecretsFileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile reads and decrypts the secrets file in dir.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	path := filepath.Join(dir, SecretsFileName)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		logx.NewLogger("config").Warn("secrets file has mode %04o, resetting to 0600", perm)
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(data) < saltSize+nonceSize+16 {
		return nil, fmt.Errorf("secrets file is corrupted (too small)")
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]

	gcm, err := deriveGCM([]byte(password), salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}
	defer clear(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}
