package store

import (
	"errors"

	"github.com/axi-im/axicore/internal/id"
)

// ErrNotFound is returned by accessors when the id names no entity.
// Distinct from legitimately empty query results, which come back as
// empty slices with a nil error.
var ErrNotFound = errors.New("store: not found")

// ChatType tells how a conversation is addressed. Fixed at creation.
type ChatType int32

const (
	ChatUndefined   ChatType = 0
	ChatSingle      ChatType = 100
	ChatGroup       ChatType = 200
	ChatMailinglist ChatType = 300
	ChatBroadcast   ChatType = 400
)

// Visibility controls where a chat shows up in the chatlist.
type Visibility int32

const (
	VisibilityNormal   Visibility = 0
	VisibilityArchived Visibility = 1
	VisibilityPinned   Visibility = 2
)

// MsgState is a message's delivery state. Values only advance within a
// branch; OutFailed may re-enter OutPending via explicit resend.
type MsgState int32

const (
	StateUndefined    MsgState = 0
	StateInFresh      MsgState = 10
	StateInNoticed    MsgState = 13
	StateInSeen       MsgState = 16
	StateOutPreparing MsgState = 18
	StateOutDraft     MsgState = 19
	StateOutPending   MsgState = 20
	StateOutFailed    MsgState = 24
	StateOutDelivered MsgState = 26
	StateOutMdnRcvd   MsgState = 28
)

// DownloadState is the independent axis for large attachments that were
// not fetched eagerly.
type DownloadState int32

const (
	DownloadDone           DownloadState = 0
	DownloadAvailable      DownloadState = 10
	DownloadFailure        DownloadState = 20
	DownloadUndecipherable DownloadState = 30
	DownloadInProgress     DownloadState = 1000
)

// Viewtype tells how a message body is rendered.
type Viewtype int32

const (
	ViewtypeText    Viewtype = 10
	ViewtypeImage   Viewtype = 20
	ViewtypeGif     Viewtype = 21
	ViewtypeSticker Viewtype = 23
	ViewtypeAudio   Viewtype = 40
	ViewtypeVoice   Viewtype = 41
	ViewtypeVideo   Viewtype = 50
	ViewtypeFile    Viewtype = 60
	ViewtypeWebxdc  Viewtype = 80
	ViewtypeVcard   Viewtype = 90
)

// InfoType marks system notices inside a chat (group name changed and
// the like). Zero means a regular message.
type InfoType int32

const (
	InfoNone             InfoType = 0
	InfoGroupNameChanged InfoType = 2
	InfoMemberAdded      InfoType = 4
	InfoMemberRemoved    InfoType = 5
)

// Chat is a conversation container.
type Chat struct {
	ID              id.Chat
	Type            ChatType
	Name            string
	Visibility      Visibility
	MailinglistAddr string
}

// Contact is an addressable peer.
type Contact struct {
	ID      id.Contact
	Name    string
	Addr    string
	Blocked bool
}

// Msg is one message row. A zero ChatID means the message is a detached
// draft that has not been handed to a send or draft operation yet.
type Msg struct {
	ID            id.Msg
	ChatID        id.Chat
	FromID        id.Contact
	RemoteID      string
	Outgoing      bool
	Viewtype      Viewtype
	State         MsgState
	DownloadState DownloadState
	DownloadBytes int64
	Timestamp     int64
	Text          string
	Subject       string
	HTML          string
	File          string
	FileName      string
	FileMime      string
	FileBytes     int64
	Width         int32
	Height        int32
	QuotedMsgID   id.Msg
	InfoType      InfoType
	Hidden        bool
}

// ChatlistItem is one row of a chatlist snapshot: a chat paired with its
// newest message (zero when the chat is empty).
type ChatlistItem struct {
	ChatID id.Chat
	MsgID  id.Msg
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Msg     Msg
	Snippet string
}
