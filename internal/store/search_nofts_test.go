//go:build !sqlite_fts5

package store

import "testing"

func TestSearchMsgsEscapesLikeWildcards(t *testing.T) {
	db := testDB(t)

	cid, _ := db.CreateContact("Alice", "alice@example.org")
	chat, _ := db.CreateChat(ChatSingle, "Alice", cid)

	_, _ = db.InsertMsg(&Msg{ChatID: chat, FromID: cid, Text: "sale: 100% off", Viewtype: ViewtypeText, State: StateInSeen, Timestamp: 1})
	_, _ = db.InsertMsg(&Msg{ChatID: chat, FromID: cid, Text: "no discounts here", Viewtype: ViewtypeText, State: StateInSeen, Timestamp: 2})

	res, err := db.SearchMsgs("100%", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Msg.Text != "sale: 100% off" {
		t.Fatalf("hits = %d, want the literal percent match only", len(res))
	}
	if res[0].Snippet == "" {
		t.Error("snippet should not be empty")
	}
}
