package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/axi-im/axicore/internal/id"
)

// Chatlist query flags.
const (
	ChatlistArchivedOnly = 1 << 0
	ChatlistNoSpecials   = 1 << 1
)

// CreateChat inserts a chat of the given type and returns its id.
func (db *DB) CreateChat(typ ChatType, name string, members ...id.Contact) (id.Chat, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`INSERT INTO chats (type, name, created_at) VALUES (?, ?, ?)`,
		typ, name, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert chat: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	chatID := id.Chat(rowID)

	for _, m := range members {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO chat_contacts (chat_id, contact_id) VALUES (?, ?)`,
			chatID, m); err != nil {
			return 0, fmt.Errorf("add member %d: %w", m, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return chatID, nil
}

// GetChat returns a chat by id, or ErrNotFound.
func (db *DB) GetChat(chatID id.Chat) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`SELECT id, type, name, visibility, mailinglist_addr FROM chats WHERE id = ?`, chatID).
		Scan(&c.ID, &c.Type, &c.Name, &c.Visibility, &c.MailinglistAddr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SingleChatWithContact returns the id of the single-chat whose only
// member is the given contact, or zero if none exists.
func (db *DB) SingleChatWithContact(cid id.Contact) (id.Chat, error) {
	var chatID id.Chat
	err := db.QueryRow(`
		SELECT c.id FROM chats c
		JOIN chat_contacts cc ON cc.chat_id = c.id
		WHERE c.type = ? AND cc.contact_id = ?`, ChatSingle, cid).Scan(&chatID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return chatID, nil
}

// ChatContacts returns the member contact ids of a chat, insertion order.
func (db *DB) ChatContacts(chatID id.Chat) ([]id.Contact, error) {
	rows, err := db.Query(`SELECT contact_id FROM chat_contacts WHERE chat_id = ? ORDER BY rowid ASC`, chatID)
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

// AddChatContact adds a member to a chat.
func (db *DB) AddChatContact(chatID id.Chat, cid id.Contact) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO chat_contacts (chat_id, contact_id) VALUES (?, ?)`, chatID, cid)
	return err
}

// SetChatVisibility updates where the chat shows up in the chatlist.
func (db *DB) SetChatVisibility(chatID id.Chat, v Visibility) error {
	res, err := db.Exec(`UPDATE chats SET visibility = ? WHERE id = ?`, v, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChatName renames a chat.
func (db *DB) SetChatName(chatID id.Chat, name string) error {
	res, err := db.Exec(`UPDATE chats SET name = ? WHERE id = ?`, name, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat removes a chat together with its messages and memberships.
func (db *DB) DeleteChat(chatID id.Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM msgs WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete msgs: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chat_contacts WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete members: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM chats WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Chatlist returns a snapshot of (chat id, newest message id) pairs.
// Pinned chats come first, then chats by latest activity. The query
// string, when non-empty, filters chat names case-insensitively.
func (db *DB) Chatlist(flags int, query string) ([]ChatlistItem, error) {
	q := `
		SELECT c.id,
			COALESCE((SELECT m.id FROM msgs m
				WHERE m.chat_id = c.id AND m.hidden = 0
				ORDER BY m.timestamp DESC, m.id DESC LIMIT 1), 0) AS msg_id,
			COALESCE((SELECT m.timestamp FROM msgs m
				WHERE m.chat_id = c.id AND m.hidden = 0
				ORDER BY m.timestamp DESC, m.id DESC LIMIT 1), c.created_at) AS sort_ts,
			c.visibility
		FROM chats c
		WHERE c.id > ?`
	args := []any{id.ChatLastSpecial}

	if flags&ChatlistArchivedOnly != 0 {
		q += ` AND c.visibility = ?`
		args = append(args, VisibilityArchived)
	} else {
		q += ` AND c.visibility != ?`
		args = append(args, VisibilityArchived)
	}
	if query != "" {
		q += ` AND lower(c.name) LIKE ?`
		args = append(args, "%"+strings.ToLower(query)+"%")
	}
	q += ` ORDER BY (c.visibility = ?) DESC, sort_ts DESC, c.id DESC`
	args = append(args, VisibilityPinned)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []ChatlistItem
	for rows.Next() {
		var it ChatlistItem
		var sortTs int64
		var vis Visibility
		if err := rows.Scan(&it.ChatID, &it.MsgID, &sortTs, &vis); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
