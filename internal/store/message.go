package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/axi-im/axicore/internal/id"
)

const msgColumns = `id, chat_id, from_id, rfc724_mid, outgoing, viewtype, state,
	download_state, download_bytes, timestamp, text, subject, html,
	file, file_name, file_mime, file_bytes, width, height,
	quoted_msg_id, info_type, hidden`

func scanMsg(row interface{ Scan(...any) error }) (*Msg, error) {
	var m Msg
	err := row.Scan(
		&m.ID, &m.ChatID, &m.FromID, &m.RemoteID, &m.Outgoing, &m.Viewtype, &m.State,
		&m.DownloadState, &m.DownloadBytes, &m.Timestamp, &m.Text, &m.Subject, &m.HTML,
		&m.File, &m.FileName, &m.FileMime, &m.FileBytes, &m.Width, &m.Height,
		&m.QuotedMsgID, &m.InfoType, &m.Hidden)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMsg stores a message row and returns its id. The caller fills
// chat id, state and timestamp.
func (db *DB) InsertMsg(m *Msg) (id.Msg, error) {
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().Unix()
	}
	res, err := db.Exec(`
		INSERT INTO msgs (chat_id, from_id, rfc724_mid, outgoing, viewtype, state,
			download_state, download_bytes, timestamp, text, subject, html,
			file, file_name, file_mime, file_bytes, width, height,
			quoted_msg_id, info_type, hidden, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.FromID, m.RemoteID, m.Outgoing, m.Viewtype, m.State,
		m.DownloadState, m.DownloadBytes, m.Timestamp, m.Text, m.Subject, m.HTML,
		m.File, m.FileName, m.FileMime, m.FileBytes, m.Width, m.Height,
		m.QuotedMsgID, m.InfoType, m.Hidden, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert msg: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id.Msg(rowID)
	return m.ID, nil
}

// GetMsg returns a message by id, or ErrNotFound.
func (db *DB) GetMsg(mid id.Msg) (*Msg, error) {
	m, err := scanMsg(db.QueryRow(`SELECT `+msgColumns+` FROM msgs WHERE id = ?`, mid))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMsgByRemoteID returns the message carrying the given wire id, or
// ErrNotFound.
func (db *DB) GetMsgByRemoteID(remoteID string) (*Msg, error) {
	m, err := scanMsg(db.QueryRow(`SELECT `+msgColumns+` FROM msgs WHERE rfc724_mid = ? AND hidden = 0`, remoteID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ChatMsgIDs returns the visible message ids of a chat ordered by
// timestamp then id.
func (db *DB) ChatMsgIDs(chatID id.Chat) ([]id.Msg, error) {
	rows, err := db.Query(`
		SELECT id FROM msgs WHERE chat_id = ? AND hidden = 0
		ORDER BY timestamp ASC, id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []id.Msg
	for rows.Next() {
		var mid id.Msg
		if err := rows.Scan(&mid); err != nil {
			return nil, err
		}
		ids = append(ids, mid)
	}
	return ids, rows.Err()
}

// MsgCount returns the number of visible messages in a chat.
func (db *DB) MsgCount(chatID id.Chat) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM msgs WHERE chat_id = ? AND hidden = 0`, chatID).Scan(&n)
	return n, err
}

// FreshMsgCount returns the number of incoming messages still in the
// fresh state.
func (db *DB) FreshMsgCount(chatID id.Chat) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM msgs WHERE chat_id = ? AND hidden = 0 AND state = ?`,
		chatID, StateInFresh).Scan(&n)
	return n, err
}

// AdvanceMsgState moves a message forward along its delivery state
// machine. Regressions are silently ignored so a late ack can never undo
// a later state. Returns whether the state actually changed.
func (db *DB) AdvanceMsgState(mid id.Msg, state MsgState) (bool, error) {
	res, err := db.Exec(`UPDATE msgs SET state = ? WHERE id = ? AND state < ?`, state, mid, state)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AdvanceMsgStateByRemoteID is AdvanceMsgState keyed by wire id, used by
// delivery acks and MDNs coming back from the transport.
func (db *DB) AdvanceMsgStateByRemoteID(remoteID string, state MsgState) (*Msg, error) {
	m, err := db.GetMsgByRemoteID(remoteID)
	if err != nil {
		return nil, err
	}
	changed, err := db.AdvanceMsgState(m.ID, state)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	m.State = state
	return m, nil
}

// ResendMsg re-enters the pending state from the terminal failure state.
// Any other state is left untouched; returns whether the message was
// requeued.
func (db *DB) ResendMsg(mid id.Msg) (bool, error) {
	res, err := db.Exec(`UPDATE msgs SET state = ? WHERE id = ? AND state = ?`,
		StateOutPending, mid, StateOutFailed)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkSeen advances the given incoming messages to seen. Returns the
// messages that actually changed state.
func (db *DB) MarkSeen(ids []id.Msg) ([]Msg, error) {
	var changed []Msg
	for _, mid := range ids {
		m, err := db.GetMsg(mid)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.Outgoing || m.State >= StateInSeen {
			continue
		}
		if _, err := db.Exec(`UPDATE msgs SET state = ? WHERE id = ?`, StateInSeen, mid); err != nil {
			return nil, err
		}
		m.State = StateInSeen
		changed = append(changed, *m)
	}
	return changed, nil
}

// MarkNoticed moves all fresh messages of a chat to noticed in one bulk
// update. Returns how many messages changed.
func (db *DB) MarkNoticed(chatID id.Chat) (int64, error) {
	res, err := db.Exec(`UPDATE msgs SET state = ? WHERE chat_id = ? AND state = ?`,
		StateInNoticed, chatID, StateInFresh)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutgoing returns outgoing messages waiting in the send queue,
// oldest first.
func (db *DB) PendingOutgoing() ([]Msg, error) {
	rows, err := db.Query(`SELECT `+msgColumns+` FROM msgs
		WHERE outgoing = 1 AND state = ? AND hidden = 0
		ORDER BY timestamp ASC, id ASC`, StateOutPending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Msg
	for rows.Next() {
		m, err := scanMsg(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// DeleteMsgs removes messages by id. Unknown ids are ignored. Quotes
// pointing at deleted messages are left dangling on purpose.
func (db *DB) DeleteMsgs(ids []id.Msg) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, mid := range ids {
		if _, err := tx.Exec(`DELETE FROM msgs WHERE id = ?`, mid); err != nil {
			return fmt.Errorf("delete msg %d: %w", mid, err)
		}
	}
	return tx.Commit()
}

// SetDraft replaces the chat's draft with the given message, stored as a
// hidden row. A nil msg just clears the draft.
func (db *DB) SetDraft(chatID id.Chat, m *Msg) (id.Msg, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM msgs WHERE chat_id = ? AND hidden = 1 AND state = ?`,
		chatID, StateOutDraft); err != nil {
		return 0, fmt.Errorf("clear draft: %w", err)
	}
	if m == nil {
		return 0, tx.Commit()
	}

	res, err := tx.Exec(`
		INSERT INTO msgs (chat_id, from_id, outgoing, viewtype, state, timestamp, text, subject, html,
			file, file_name, file_mime, file_bytes, width, height, quoted_msg_id, hidden, created_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		chatID, id.ContactSelf, m.Viewtype, StateOutDraft, time.Now().Unix(),
		m.Text, m.Subject, m.HTML, m.File, m.FileName, m.FileMime, m.FileBytes,
		m.Width, m.Height, m.QuotedMsgID, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert draft: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id.Msg(rowID), nil
}

// GetDraft returns the chat's draft, or nil when none is set.
func (db *DB) GetDraft(chatID id.Chat) (*Msg, error) {
	m, err := scanMsg(db.QueryRow(`SELECT `+msgColumns+` FROM msgs
		WHERE chat_id = ? AND hidden = 1 AND state = ?`, chatID, StateOutDraft))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SetDownloadState moves a message's download state from one value to
// another. The update applies only when the current state matches from,
// making concurrent download attempts idempotent.
func (db *DB) SetDownloadState(mid id.Msg, from, to DownloadState) (bool, error) {
	res, err := db.Exec(`UPDATE msgs SET download_state = ? WHERE id = ? AND download_state = ?`,
		to, mid, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResolveDownload stores the fully fetched body and marks the download
// terminal.
func (db *DB) ResolveDownload(mid id.Msg, text string, state DownloadState) error {
	_, err := db.Exec(`UPDATE msgs SET text = ?, download_state = ?, download_bytes = 0 WHERE id = ?`,
		text, state, mid)
	return err
}
