package engine

import (
	"fmt"

	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/id"
	"github.com/axi-im/axicore/internal/store"
)

// CreateChatByContactID returns the single-chat with the given contact,
// creating it if needed. Blocked contacts and reserved ids (other than
// self) are rejected.
func (c *Context) CreateChatByContactID(cid id.Contact) (id.Chat, error) {
	db, err := c.store()
	if err != nil {
		return 0, err
	}
	if cid.IsSpecial() && cid != id.ContactSelf {
		return 0, fmt.Errorf("%w: contact %d", ErrSpecialID, cid)
	}

	contact, err := db.GetContact(cid)
	if err != nil {
		c.setLastErr(err)
		return 0, err
	}
	if contact.Blocked {
		return 0, fmt.Errorf("%w: contact %d", ErrBlocked, cid)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	chatID, err := db.SingleChatWithContact(cid)
	if err != nil {
		return 0, err
	}
	if chatID != 0 {
		return chatID, nil
	}
	chatID, err = db.CreateChat(store.ChatSingle, contact.Name, cid)
	if err != nil {
		c.setLastErr(err)
		return 0, err
	}
	return chatID, nil
}

// CreateGroupChat creates a group with self as the only member.
func (c *Context) CreateGroupChat(name string) (id.Chat, error) {
	db, err := c.store()
	if err != nil {
		return 0, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	chatID, err := db.CreateChat(store.ChatGroup, name, id.ContactSelf)
	if err != nil {
		c.setLastErr(err)
		return 0, err
	}
	return chatID, nil
}

// AddContactToChat adds a member to a group or broadcast chat and drops
// an info notice into the chat.
func (c *Context) AddContactToChat(chatID id.Chat, cid id.Contact) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	if cid.IsSpecial() {
		return fmt.Errorf("%w: contact %d", ErrSpecialID, cid)
	}

	chat, err := db.GetChat(chatID)
	if err != nil {
		c.setLastErr(err)
		return err
	}
	if chat.Type != store.ChatGroup && chat.Type != store.ChatBroadcast {
		return fmt.Errorf("%w: chat %d is not a group", ErrState, chatID)
	}
	contact, err := db.GetContact(cid)
	if err != nil {
		c.setLastErr(err)
		return err
	}
	if contact.Blocked {
		return fmt.Errorf("%w: contact %d", ErrBlocked, cid)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := db.AddChatContact(chatID, cid); err != nil {
		c.setLastErr(err)
		return err
	}
	mid, err := db.InsertMsg(&store.Msg{
		ChatID:   chatID,
		FromID:   id.ContactSelf,
		Viewtype: store.ViewtypeText,
		State:    store.StateInNoticed,
		InfoType: store.InfoMemberAdded,
		Text:     fmt.Sprintf("Member %s added", contact.Addr),
	})
	if err != nil {
		return err
	}
	c.emit(event.KindMsgsChanged, event.MsgInfo{ChatID: chatID, MsgID: mid})
	return nil
}

// GetChat returns a chat by id.
func (c *Context) GetChat(chatID id.Chat) (*store.Chat, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	chat, err := db.GetChat(chatID)
	if err != nil {
		c.setLastErr(err)
		return nil, err
	}
	return chat, nil
}

// GetChatContacts returns the member contact ids of a chat.
func (c *Context) GetChatContacts(chatID id.Chat) ([]id.Contact, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	return db.ChatContacts(chatID)
}

// Chatlist returns a position-ordered snapshot of (chat id, newest
// message id) pairs; it does not change under later mutations.
func (c *Context) Chatlist(flags int, query string) ([]store.ChatlistItem, error) {
	db, err := c.store()
	if err != nil {
		return nil, err
	}
	items, err := db.Chatlist(flags, query)
	if err != nil {
		c.setLastErr(err)
		return nil, err
	}
	return items, nil
}

// SetChatVisibility moves a chat between normal, archived and pinned.
func (c *Context) SetChatVisibility(chatID id.Chat, v store.Visibility) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	if chatID.IsSpecial() {
		return fmt.Errorf("%w: chat %d", ErrSpecialID, chatID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := db.SetChatVisibility(chatID, v); err != nil {
		c.setLastErr(err)
		return err
	}
	c.emit(event.KindChatModified, event.ChatInfo{ChatID: chatID})
	return nil
}

// SetChatName renames a group chat and drops an info notice.
func (c *Context) SetChatName(chatID id.Chat, name string) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty chat name", ErrConfigValue)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := db.SetChatName(chatID, name); err != nil {
		c.setLastErr(err)
		return err
	}
	mid, err := db.InsertMsg(&store.Msg{
		ChatID:   chatID,
		FromID:   id.ContactSelf,
		Viewtype: store.ViewtypeText,
		State:    store.StateInNoticed,
		InfoType: store.InfoGroupNameChanged,
		Text:     fmt.Sprintf("Group name changed to %q", name),
	})
	if err != nil {
		return err
	}
	c.emit(event.KindChatModified, event.ChatInfo{ChatID: chatID})
	c.emit(event.KindMsgsChanged, event.MsgInfo{ChatID: chatID, MsgID: mid})
	return nil
}

// DeleteChat removes a chat and cascades to its messages.
func (c *Context) DeleteChat(chatID id.Chat) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	if chatID.IsSpecial() {
		return fmt.Errorf("%w: chat %d", ErrSpecialID, chatID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := db.DeleteChat(chatID); err != nil {
		c.setLastErr(err)
		return err
	}
	c.emit(event.KindMsgsChanged, event.MsgInfo{ChatID: chatID})
	return nil
}
