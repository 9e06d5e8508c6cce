package store

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	passphraseSaltKey     = "passphrase_salt"
	passphraseVerifierKey = "passphrase_verifier"
)

// GetConfig returns the value for a config key. The second result is
// false when the key was never set.
func (db *DB) GetConfig(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetConfig persists a config key/value pair. Idempotent.
func (db *DB) SetConfig(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// DeleteConfig removes a config key.
func (db *DB) DeleteConfig(key string) error {
	_, err := db.Exec(`DELETE FROM config WHERE key = ?`, key)
	return err
}

func deriveVerifier(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// HasPassphrase reports whether the account was locked with a
// passphrase.
func (db *DB) HasPassphrase() (bool, error) {
	_, ok, err := db.GetConfig(passphraseVerifierKey)
	return ok, err
}

// SetPassphrase installs or replaces the account passphrase verifier in
// a single transaction, so a failure leaves the prior verifier intact.
// An empty passphrase removes the lock.
func (db *DB) SetPassphrase(passphrase string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if passphrase == "" {
		if _, err := tx.Exec(`DELETE FROM config WHERE key IN (?, ?)`,
			passphraseSaltKey, passphraseVerifierKey); err != nil {
			return err
		}
		return tx.Commit()
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	verifier := deriveVerifier(passphrase, salt)

	for key, value := range map[string]string{
		passphraseSaltKey:     hex.EncodeToString(salt),
		passphraseVerifierKey: hex.EncodeToString(verifier),
	} {
		if _, err := tx.Exec(`
			INSERT INTO config (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CheckPassphrase verifies a passphrase against the stored verifier.
// Accounts without a verifier accept only the empty passphrase.
func (db *DB) CheckPassphrase(passphrase string) (bool, error) {
	saltHex, ok, err := db.GetConfig(passphraseSaltKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return passphrase == "", nil
	}
	verifierHex, _, err := db.GetConfig(passphraseVerifierKey)
	if err != nil {
		return false, err
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := hex.DecodeString(verifierHex)
	if err != nil {
		return false, fmt.Errorf("decode verifier: %w", err)
	}
	got := deriveVerifier(passphrase, salt)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
