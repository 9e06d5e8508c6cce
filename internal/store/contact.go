package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/axi-im/axicore/internal/id"
)

// CreateContact inserts a contact or updates the display name of an
// existing one with the same address. Returns the contact id either way.
func (db *DB) CreateContact(name, addr string) (id.Contact, error) {
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO contacts (name, addr, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(addr) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END`,
		name, addr, now)
	if err != nil {
		return 0, fmt.Errorf("upsert contact: %w", err)
	}
	return db.LookupContactIDByAddr(addr)
}

// CreateContactWithID seeds a reserved contact row (self, pseudo
// contacts) at a fixed id.
func (db *DB) CreateContactWithID(cid id.Contact, name, addr string) error {
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO contacts (id, name, addr, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, addr = excluded.addr`,
		cid, name, addr, now)
	return err
}

// GetContact returns a contact by id, or ErrNotFound.
func (db *DB) GetContact(cid id.Contact) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, name, addr, blocked FROM contacts WHERE id = ?`, cid).
		Scan(&c.ID, &c.Name, &c.Addr, &c.Blocked)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LookupContactIDByAddr returns the contact id for an address, or zero if
// the address is unknown.
func (db *DB) LookupContactIDByAddr(addr string) (id.Contact, error) {
	var cid id.Contact
	err := db.QueryRow(`SELECT id FROM contacts WHERE addr = ?`, addr).Scan(&cid)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cid, nil
}

// SetContactBlocked flips the blocked flag of a contact.
func (db *DB) SetContactBlocked(cid id.Contact, blocked bool) error {
	res, err := db.Exec(`UPDATE contacts SET blocked = ? WHERE id = ?`, blocked, cid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListContactIDs returns all non-reserved contact ids, insertion order.
func (db *DB) ListContactIDs() ([]id.Contact, error) {
	rows, err := db.Query(`SELECT id FROM contacts WHERE id > ? ORDER BY id ASC`, id.ContactLastSpecial)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []id.Contact
	for rows.Next() {
		var cid id.Contact
		if err := rows.Scan(&cid); err != nil {
			return nil, err
		}
		ids = append(ids, cid)
	}
	return ids, rows.Err()
}
