package keystore

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
	"strings"
	"sync"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"golang.org/x/crypto/argon2"
)

var (
	ErrLocked         = errors.New("keystore is locked")
	ErrInvalidKey     = errors.New("invalid public key")
	ErrSeedMismatch   = errors.New("secret seed does not match public key")
	ErrInvalidSeed    = errors.New("invalid secret seed")
	errMissingMaster  = errors.New("master key required")
	errCiphertextSize = errors.New("ciphertext too short")
)

const (
	keyFileExt   = ".key"
	saltFileName = ".salt"
	saltLength   = 16
)

// Config holds keystore configuration
type Config struct {
	MasterKey   string
	Salt        []byte // optional; when nil a salt is kept next to the key files
	Path        string // empty keeps credentials in memory only
	AuditLogger *AuditLogger
}

// storedCredential is the plaintext of a key file
type storedCredential struct {
	PublicKey string    `json:"public_key"`
	Seed      string    `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
}

// Keystore holds signing seeds encrypted at rest with an Argon2id-derived key.
// Decrypted keypairs live in memory until Clear.
type Keystore struct {
	mu        sync.RWMutex
	keys      map[string]*keypair.Full
	masterKey []byte
	path      string
	locked    bool
	audit     *AuditLogger
}

// Open derives the master key and loads every readable key file
func Open(cfg Config) (*Keystore, error) {
	if cfg.MasterKey == "" {
		return nil, errMissingMaster
	}

	audit := cfg.AuditLogger
	if audit == nil {
		audit = NewAuditLogger(nil)
	}

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("failed to create keystore directory: %w", err)
		}
	}

	salt := cfg.Salt
	if len(salt) == 0 {
		var err error
		if salt, err = loadOrCreateSalt(cfg.Path); err != nil {
			return nil, err
		}
	}

	ks := &Keystore{
		keys:      make(map[string]*keypair.Full),
		masterKey: deriveKey(cfg.MasterKey, salt),
		path:      cfg.Path,
		audit:     audit,
	}

	if err := ks.load(); err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}

	audit.LogOperation("KEYSTORE_OPEN", "system", fmt.Sprintf("keystore opened with %d credentials", len(ks.keys)))
	return ks, nil
}

// Store encrypts a seed for the given account. The seed must derive publicKey.
func (k *Keystore) Store(publicKey, seed string) error {
	if !strkey.IsValidEd25519PublicKey(publicKey) {
		return ErrInvalidKey
	}

	kp, err := keypair.ParseFull(strings.TrimSpace(seed))
	if err != nil {
		k.audit.LogError("KEY_STORE", publicKey, err)
		return fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if kp.Address() != publicKey {
		k.audit.LogError("KEY_STORE", publicKey, ErrSeedMismatch)
		return ErrSeedMismatch
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return ErrLocked
	}

	if err := k.saveToDisk(storedCredential{PublicKey: publicKey, Seed: kp.Seed(), CreatedAt: time.Now()}); err != nil {
		k.audit.LogError("KEY_STORE", publicKey, err)
		return fmt.Errorf("failed to save key to disk: %w", err)
	}
	k.keys[publicKey] = kp

	k.audit.LogOperation("KEY_STORED", publicKey, "credential stored")
	return nil
}

// Remove deletes a stored credential from memory and disk
func (k *Keystore) Remove(publicKey string) error {
	if !strkey.IsValidEd25519PublicKey(publicKey) {
		return ErrInvalidKey
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.keys, publicKey)

	if k.path != "" {
		if err := os.Remove(k.keyPath(publicKey)); err != nil && !os.IsNotExist(err) {
			k.audit.LogError("KEY_DELETE", publicKey, err)
			return fmt.Errorf("failed to delete key file: %w", err)
		}
	}

	k.audit.LogOperation("KEY_DELETED", publicKey, "credential removed")
	return nil
}

// Has reports whether a credential is stored for the account, locked or not
func (k *Keystore) Has(publicKey string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if _, ok := k.keys[publicKey]; ok {
		return true
	}
	if k.path == "" || !strkey.IsValidEd25519PublicKey(publicKey) {
		return false
	}
	_, err := os.Stat(k.keyPath(publicKey))
	return err == nil
}

// ResolveCredential returns the signing keypair for an account
func (k *Keystore) ResolveCredential(publicKey string) (*keypair.Full, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.locked {
		return nil, false
	}
	kp, ok := k.keys[publicKey]
	return kp, ok
}

// Clear wipes decrypted credentials from memory and locks the keystore.
// Key files on disk are untouched.
func (k *Keystore) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()

	n := len(k.keys)
	k.keys = make(map[string]*keypair.Full)
	k.locked = true

	k.audit.LogOperation("KEYSTORE_LOCKED", "system", fmt.Sprintf("cleared %d credentials from memory", n))
}

// Reload unlocks the keystore and reads the key files again
func (k *Keystore) Reload() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.keys = make(map[string]*keypair.Full)
	if err := k.loadLocked(); err != nil {
		return err
	}
	k.locked = false

	k.audit.LogOperation("KEYSTORE_UNLOCKED", "system", fmt.Sprintf("loaded %d credentials", len(k.keys)))
	return nil
}

func (k *Keystore) Locked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.locked
}

func (k *Keystore) load() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadLocked()
}

func (k *Keystore) loadLocked() error {
	if k.path == "" {
		return nil
	}

	files, err := os.ReadDir(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(k.path, 0700)
		}
		return err
	}

	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, keyFileExt) {
			continue
		}
		publicKey := strings.TrimSuffix(name, keyFileExt)

		data, err := os.ReadFile(filepath.Join(k.path, name))
		if err != nil {
			k.audit.LogError("KEY_LOAD", publicKey, err)
			continue
		}

		decrypted, err := k.decrypt(data)
		if err != nil {
			k.audit.LogError("KEY_LOAD", publicKey, err)
			continue
		}

		var cred storedCredential
		if err := json.Unmarshal(decrypted, &cred); err != nil {
			k.audit.LogError("KEY_LOAD", publicKey, err)
			continue
		}

		kp, err := keypair.ParseFull(cred.Seed)
		if err != nil || kp.Address() != publicKey {
			k.audit.LogError("KEY_LOAD", publicKey, ErrSeedMismatch)
			continue
		}
		k.keys[publicKey] = kp
	}
	return nil
}

func (k *Keystore) saveToDisk(cred storedCredential) error {
	if k.path == "" {
		return nil
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	encrypted, err := k.encrypt(data)
	if err != nil {
		return err
	}

	return os.WriteFile(k.keyPath(cred.PublicKey), encrypted, 0600)
}

// keyPath is only called with validated strkeys, which cannot contain separators
func (k *Keystore) keyPath(publicKey string) string {
	return filepath.Join(k.path, publicKey+keyFileExt)
}

func (k *Keystore) encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.masterKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (k *Keystore) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.masterKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errCiphertextSize
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 3, 32*1024, 4, 32)
}

// loadOrCreateSalt keeps the salt beside the key files so it survives restarts
func loadOrCreateSalt(dir string) ([]byte, error) {
	if dir == "" {
		salt := make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		return salt, nil
	}

	path := filepath.Join(dir, saltFileName)
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == saltLength {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	salt = make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to write salt: %w", err)
	}
	return salt, nil
}
