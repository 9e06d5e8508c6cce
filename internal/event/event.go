// Package event defines the engine's state-change notifications and the
// bounded emitter that delivers them to a consumer.
package event

import (
	"time"

	"github.com/axi-im/axicore/internal/id"
)

// Kind identifies what happened. The numeric values are part of the
// engine's public surface and stay stable across releases.
type Kind int32

const (
	KindError               Kind = 400
	KindErrorSelfNotInGrp   Kind = 410
	KindMsgsChanged         Kind = 2000
	KindIncomingMsg         Kind = 2005
	KindIncomingMsgBunch    Kind = 2006
	KindMsgsNoticed         Kind = 2008
	KindMsgDelivered        Kind = 2010
	KindMsgFailed           Kind = 2012
	KindMsgRead             Kind = 2015
	KindChatModified        Kind = 2020
	KindConfigureProgress   Kind = 2041
	KindImexProgress        Kind = 2051
	KindSecurejoinInviter   Kind = 2060
	KindSecurejoinJoiner    Kind = 2061
	KindConnectivity        Kind = 2100
	KindBackgroundFetchDone Kind = 2200
	KindChannelOverflow     Kind = 2400
)

// Event is an immutable record of one state change. Payload is one of the
// typed payload structs below, keyed by Kind; invalid kind/payload
// combinations are unrepresentable by construction.
type Event struct {
	Kind      Kind
	AccountID id.Account
	Timestamp time.Time
	Payload   any
}

// ErrorMsg carries a human-readable failure description.
type ErrorMsg struct {
	Msg string
}

// MsgInfo refers to one message in one chat. Used by MSGS_CHANGED,
// INCOMING_MSG, MSG_DELIVERED, MSG_FAILED and MSG_READ.
type MsgInfo struct {
	ChatID id.Chat
	MsgID  id.Msg
}

// ChatInfo refers to one chat. Used by MSGS_NOTICED and CHAT_MODIFIED.
type ChatInfo struct {
	ChatID id.Chat
}

// Progress reports a 0..1000 permille value for long-running background
// jobs (configure, imex, secure-join). 0 means failed, 1000 means done.
type Progress struct {
	Permille int
	Comment  string
}

// Connectivity signals that the aggregate connectivity band changed.
type Connectivity struct{}

// Overflow replaces events dropped by a full emitter. Dropped counts the
// events that were discarded.
type Overflow struct {
	Dropped int
}

// New builds an event stamped with the current time.
func New(kind Kind, account id.Account, payload any) Event {
	return Event{
		Kind:      kind,
		AccountID: account,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
