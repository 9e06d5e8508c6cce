package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/axi-im/axicore/internal/crypto"
	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/id"
	"github.com/axi-im/axicore/internal/store"
)

// NewMsg returns a detached draft of the given viewtype. It becomes
// chat-resident only once handed to SendMsg or SetDraft.
func (c *Context) NewMsg(viewtype store.Viewtype) *store.Msg {
	return &store.Msg{Viewtype: viewtype}
}

// AttachFile imports a file into the blob directory, deduplicated by
// content, and attaches it to the detached message.
func (c *Context) AttachFile(m *store.Msg, path, name, mime string) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	stored, err := db.AddBlobDeduplicated(path)
	if err != nil {
		c.setLastErr(err)
		return fmt.Errorf("import attachment: %w", err)
	}
	info, err := os.Stat(stored)
	if err != nil {
		return err
	}
	m.File = stored
	m.FileName = name
	m.FileMime = mime
	m.FileBytes = info.Size()
	return nil
}

// SendMsg queues a detached message for delivery in the given chat and
// returns its id. The message enters the pending state; the sender queue
// advances it from there.
func (c *Context) SendMsg(chatID id.Chat, m *store.Msg) (id.Msg, error) {
	db, err := c.store()
	if err != nil {
		return 0, err
	}
	if chatID.IsSpecial() || chatID == id.ChatNone {
		return 0, fmt.Errorf("%w: chat %d", ErrSpecialID, chatID)
	}
	if _, err := db.GetChat(chatID); err != nil {
		c.setLastErr(err)
		return 0, err
	}

	addr, _, _ := db.GetConfig("addr")

	m.ChatID = chatID
	m.FromID = id.ContactSelf
	m.Outgoing = true
	m.State = store.StateOutPending
	m.RemoteID = mintRemoteID(uuid.NewString(), addr)
	m.Timestamp = time.Now().Unix()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	mid, err := db.InsertMsg(m)
	if err != nil {
		c.setLastErr(err)
		return 0, err
	}
	c.emit(event.KindMsgsChanged, event.MsgInfo{ChatID: chatID, MsgID: mid})
	return mid, nil
}

// SendTextMsg queues a plain text message.
func (c *Context) SendTextMsg(chatID id.Chat, text string) (id.Msg, error) {
	m := c.NewMsg(store.ViewtypeText)
	m.Text = text
	return c.SendMsg(chatID, m)
}

// GetMsg returns a message by id.
func (c *Context) GetMsg(mid id.Msg) (*store.Msg, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	m, err := db.GetMsg(mid)
	if err != nil {
		c.setLastErr(err)
		return nil, err
	}
	return m, nil
}

// GetChatMsgs returns the chat's message ids ordered by timestamp then
// id.
func (c *Context) GetChatMsgs(chatID id.Chat) ([]id.Msg, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	return db.ChatMsgIDs(chatID)
}

// GetMsgCnt returns how many messages a chat holds.
func (c *Context) GetMsgCnt(chatID id.Chat) (int, error) {
	db, err := c.store()
	if err != nil {
		return 0, err
	}
	return db.MsgCount(chatID)
}

// GetFreshMsgCnt returns how many incoming messages are still fresh.
func (c *Context) GetFreshMsgCnt(chatID id.Chat) (int, error) {
	db, err := c.store()
	if err != nil {
		return 0, err
	}
	return db.FreshMsgCount(chatID)
}

// MarkseenMsgs marks specific incoming messages seen and reports each
// affected chat once.
func (c *Context) MarkseenMsgs(ids []id.Msg) error {
	db, err := c.store()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	changed, err := db.MarkSeen(ids)
	if err != nil {
		c.setLastErr(err)
		return err
	}
	seenChats := make(map[id.Chat]bool)
	for _, m := range changed {
		if !seenChats[m.ChatID] {
			seenChats[m.ChatID] = true
			c.emit(event.KindMsgsNoticed, event.ChatInfo{ChatID: m.ChatID})
		}
	}
	return nil
}

// MarkNoticedChat moves the whole chat's fresh messages to noticed in
// bulk.
func (c *Context) MarkNoticedChat(chatID id.Chat) error {
	db, err := c.store()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := db.MarkNoticed(chatID)
	if err != nil {
		c.setLastErr(err)
		return err
	}
	if n > 0 {
		c.emit(event.KindMsgsNoticed, event.ChatInfo{ChatID: chatID})
	}
	return nil
}

// DeleteMsgs removes messages. Unknown ids are ignored; quotes keep
// dangling references by design of the data model.
func (c *Context) DeleteMsgs(ids []id.Msg) error {
	db, err := c.store()
	if err != nil {
		return err
	}

	chats := make(map[id.Chat]bool)
	for _, mid := range ids {
		if m, err := db.GetMsg(mid); err == nil {
			chats[m.ChatID] = true
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := db.DeleteMsgs(ids); err != nil {
		c.setLastErr(err)
		return err
	}
	for chatID := range chats {
		c.emit(event.KindMsgsChanged, event.MsgInfo{ChatID: chatID})
	}
	return nil
}

// ForwardMsgs copies messages into the target chat as new pending
// entities. The originals are never mutated or moved.
func (c *Context) ForwardMsgs(ids []id.Msg, chatID id.Chat) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	if _, err := db.GetChat(chatID); err != nil {
		c.setLastErr(err)
		return err
	}
	addr, _, _ := db.GetConfig("addr")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, mid := range ids {
		orig, err := db.GetMsg(mid)
		if err != nil {
			continue
		}
		fwd := *orig
		fwd.ID = 0
		fwd.ChatID = chatID
		fwd.FromID = id.ContactSelf
		fwd.Outgoing = true
		fwd.State = store.StateOutPending
		fwd.RemoteID = mintRemoteID(uuid.NewString(), addr)
		fwd.Timestamp = time.Now().Unix()
		fwd.QuotedMsgID = 0

		newID, err := db.InsertMsg(&fwd)
		if err != nil {
			c.setLastErr(err)
			return err
		}
		c.emit(event.KindMsgsChanged, event.MsgInfo{ChatID: chatID, MsgID: newID})
	}
	return nil
}

// ResendMsgs re-enters the pending state for explicitly failed
// messages. Messages in any other state are left untouched.
func (c *Context) ResendMsgs(ids []id.Msg) error {
	db, err := c.store()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, mid := range ids {
		requeued, err := db.ResendMsg(mid)
		if err != nil {
			c.setLastErr(err)
			return err
		}
		if requeued {
			if m, err := db.GetMsg(mid); err == nil {
				c.emit(event.KindMsgsChanged, event.MsgInfo{ChatID: m.ChatID, MsgID: mid})
			}
		}
	}
	return nil
}

// SetDraft replaces the chat's draft; a nil message clears it.
func (c *Context) SetDraft(chatID id.Chat, m *store.Msg) error {
	db, err := c.store()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := db.SetDraft(chatID, m); err != nil {
		c.setLastErr(err)
		return err
	}
	c.emit(event.KindChatModified, event.ChatInfo{ChatID: chatID})
	return nil
}

// GetDraft returns the chat's draft, or nil.
func (c *Context) GetDraft(chatID id.Chat) (*store.Msg, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	return db.GetDraft(chatID)
}

// SearchMsgs runs a full-text search over message bodies; a zero chat id
// searches everywhere.
func (c *Context) SearchMsgs(query string, chatID id.Chat) ([]store.SearchResult, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	return db.SearchMsgs(query, chatID, 0)
}

// DownloadFullMsg starts fetching the full body of a partially
// downloaded message. No-op unless the message's download state is
// available. Completion is reported via a chat-modified event.
func (c *Context) DownloadFullMsg(mid id.Msg) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	m, err := db.GetMsg(mid)
	if err != nil {
		c.setLastErr(err)
		return err
	}

	c.writeMu.Lock()
	started, err := db.SetDownloadState(mid, store.DownloadAvailable, store.DownloadInProgress)
	c.writeMu.Unlock()
	if err != nil {
		c.setLastErr(err)
		return err
	}
	if !started {
		return nil
	}

	go c.runDownload(m)
	return nil
}

func (c *Context) runDownload(m *store.Msg) {
	db, err := c.store()
	if err != nil {
		return
	}

	finish := func(text string, state store.DownloadState) {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if err := db.ResolveDownload(m.ID, text, state); err != nil {
			c.setLastErr(err)
			return
		}
		c.emit(event.KindChatModified, event.ChatInfo{ChatID: m.ChatID})
	}

	c.io.ioMu.Lock()
	tr := c.io.tr
	c.io.ioMu.Unlock()
	if tr == nil {
		c.setLastErr(fmt.Errorf("download msg %d: io not running", m.ID))
		finish(m.Text, store.DownloadFailure)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	body, err := tr.FetchFull(ctx, m.RemoteID)
	if err != nil {
		c.setLastErr(err)
		finish(m.Text, store.DownloadFailure)
		return
	}
	plain, err := c.cipher.Decrypt(body)
	if errors.Is(err, crypto.ErrUndecipherable) {
		finish(m.Text, store.DownloadUndecipherable)
		return
	}
	if err != nil {
		c.setLastErr(err)
		finish(m.Text, store.DownloadFailure)
		return
	}
	finish(string(plain), store.DownloadDone)
}
