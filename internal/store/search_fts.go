//go:build sqlite_fts5

package store

import "github.com/axi-im/axicore/internal/id"

// schemaVersion is the last migration applied by Migrate.
const schemaVersion = 2

// SearchMsgs performs a full-text search on message bodies. A zero chat
// id searches across all chats.
func (db *DB) SearchMsgs(query string, chatID id.Chat, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + prefixedMsgColumns + `,
		       snippet(msgs_fts, 0, '<<', '>>', '...', 32)
		FROM msgs_fts f
		JOIN msgs m ON m.id = f.rowid
		WHERE msgs_fts MATCH ? AND m.hidden = 0`

	args := []any{query}
	if chatID != 0 {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	return db.querySearch(q, args...)
}
