package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database holding the durable half of the gateway:
// device identities, the per-resource cache, directory records, logs, and the
// command queue. Biometric payloads are encrypted at rest with AES-GCM.
type Store struct {
	conn   *sql.DB
	cipher cipher.AEAD
}

// Config holds store configuration options
type Config struct {
	DatabasePath string
	// EncryptionKey is the 32-byte AES key for payload columns. When nil a
	// key is generated and persisted next to the database file.
	EncryptionKey []byte
}

// New opens the database, configures it and runs migrations
func New(config Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	key := config.EncryptionKey
	if key == nil {
		var err error
		key, err = loadOrCreateKey(filepath.Join(filepath.Dir(config.DatabasePath), "gateway.key"))
		if err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", config.DatabasePath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	s := &Store{conn: conn, cipher: gcm}

	if err := s.configurePragmas(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	if raw, err := os.ReadFile(path); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("key file %s is corrupt", path)
		}
		return key, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to persist encryption key: %w", err)
	}
	return key, nil
}

func (s *Store) configurePragmas() error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = memory",
	}
	for _, pragma := range pragmas {
		if _, err := s.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Encrypt encrypts a payload column value using AES-GCM
func (s *Store) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, s.cipher.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := s.cipher.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a payload column value
func (s *Store) Decrypt(ciphertext string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	nonceSize := s.cipher.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.cipher.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// encryptOpt encrypts a possibly-empty payload into a nullable column
func (s *Store) encryptOpt(value string) (sql.NullString, error) {
	if value == "" {
		return sql.NullString{}, nil
	}
	enc, err := s.Encrypt([]byte(value))
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: enc, Valid: true}, nil
}

// decryptOpt decrypts a nullable payload column
func (s *Store) decryptOpt(value sql.NullString) (string, error) {
	if !value.Valid {
		return "", nil
	}
	plain, err := s.Decrypt(value.String)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
