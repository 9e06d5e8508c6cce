// Package id defines the typed 32-bit identifier spaces used across the
// engine. The zero value of every id type means "no/none".
package id

// Account identifies one isolated account within an accounts manager.
type Account uint32

// Chat identifies a conversation within one account.
type Chat uint32

// Contact identifies an addressable peer within one account.
type Contact uint32

// Msg identifies a message within one account.
type Msg uint32

// Reserved chat ids. Ids at or below ChatLastSpecial never denote real
// conversations.
const (
	ChatNone         Chat = 0
	ChatTrash        Chat = 3
	ChatArchivedLink Chat = 6
	ChatAllDoneHint  Chat = 7
	ChatLastSpecial  Chat = 9
)

// Reserved contact ids. Self, the info pseudo-contact and the device
// pseudo-contact must never be treated as real correspondents.
const (
	ContactNone        Contact = 0
	ContactSelf        Contact = 1
	ContactInfo        Contact = 2
	ContactDevice      Contact = 5
	ContactLastSpecial Contact = 9
)

// IsSpecial reports whether the chat id is a reserved pseudo-chat.
func (c Chat) IsSpecial() bool { return c != ChatNone && c <= ChatLastSpecial }

// IsSpecial reports whether the contact id is reserved.
func (c Contact) IsSpecial() bool { return c != ContactNone && c <= ContactLastSpecial }
