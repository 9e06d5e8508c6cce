//go:build !sqlite_fts5

package store

import (
	"strings"

	"github.com/axi-im/axicore/internal/id"
)

// schemaVersion is the last migration applied by Migrate.
const schemaVersion = 1

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMsgs scans message text for the query substring. Builds without
// fts5 support carry no full-text index; the snippet is the full text.
// A zero chat id searches across all chats.
func (db *DB) SearchMsgs(query string, chatID id.Chat, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + prefixedMsgColumns + `, m.text
		FROM msgs m
		WHERE m.text LIKE ? ESCAPE '\' AND m.hidden = 0`

	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if chatID != 0 {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY m.timestamp DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	return db.querySearch(q, args...)
}
