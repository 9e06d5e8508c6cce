// Package migrations embeds the account database schema. The full-text
// index migration applies only when the sqlite driver is built with
// fts5 support (go build -tags sqlite_fts5); without the tag the schema
// stops before it and message search scans message text directly.
package migrations
