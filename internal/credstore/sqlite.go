package credstore

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is the persistent scope: a single-table SQLite database with
// values encrypted at rest.
type SQLiteBackend struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteBackend opens (or creates) the credential database at dbPath.
// Values are AES-GCM encrypted with a key derived from passphrase.
func NewSQLiteBackend(dbPath, passphrase string) (*SQLiteBackend, error) {
	// WAL mode and a busy timeout keep concurrent readers from tripping
	// over the writer.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	// Set file permissions (only effective once the file exists).
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		// Ignore error if file doesn't exist yet
	}

	b := &SQLiteBackend{
		db:            db,
		encryptionKey: DeriveKey(passphrase),
	}

	if err := b.init(); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

func (b *SQLiteBackend) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS credentials (
		key TEXT PRIMARY KEY,
		encrypted_value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := b.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Write(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	encrypted, err := Encrypt(value, b.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	_, err = b.db.Exec(
		`INSERT INTO credentials (key, encrypted_value, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET
		   encrypted_value = excluded.encrypted_value,
		   updated_at = CURRENT_TIMESTAMP`,
		key, encrypted,
	)
	if err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Read(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var encrypted string
	err := b.db.QueryRow(
		"SELECT encrypted_value FROM credentials WHERE key = ?", key,
	).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	value, err := Decrypt(encrypted, b.encryptionKey)
	if err != nil {
		// A value we can no longer decrypt (key rotation, corruption) is
		// indistinguishable from no value at all.
		return nil, fmt.Errorf("failed to decrypt credential %q: %w", key, err)
	}
	return value, nil
}

func (b *SQLiteBackend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.db.Exec("DELETE FROM credentials WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.db.Exec("DELETE FROM credentials"); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
