package store

import "database/sql"

func (db *DB) querySearch(q string, args ...any) ([]SearchResult, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := scanSearchResult(rows, &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanSearchResult(rows *sql.Rows, r *SearchResult) error {
	return rows.Scan(
		&r.Msg.ID, &r.Msg.ChatID, &r.Msg.FromID, &r.Msg.RemoteID, &r.Msg.Outgoing,
		&r.Msg.Viewtype, &r.Msg.State, &r.Msg.DownloadState, &r.Msg.DownloadBytes,
		&r.Msg.Timestamp, &r.Msg.Text, &r.Msg.Subject, &r.Msg.HTML,
		&r.Msg.File, &r.Msg.FileName, &r.Msg.FileMime, &r.Msg.FileBytes,
		&r.Msg.Width, &r.Msg.Height, &r.Msg.QuotedMsgID, &r.Msg.InfoType, &r.Msg.Hidden,
		&r.Snippet,
	)
}

const prefixedMsgColumns = `m.id, m.chat_id, m.from_id, m.rfc724_mid, m.outgoing, m.viewtype, m.state,
	m.download_state, m.download_bytes, m.timestamp, m.text, m.subject, m.html,
	m.file, m.file_name, m.file_mime, m.file_bytes, m.width, m.height,
	m.quoted_msg_id, m.info_type, m.hidden`
