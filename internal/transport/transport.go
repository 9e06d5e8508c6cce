// Package transport declares the engine's boundary to the store-and-forward
// mail collaborator. The core never speaks the wire protocol itself; it
// tells a Transport to start, stop and retry, hands it outbound envelopes,
// and consumes its update stream.
package transport

import (
	"context"
	"time"

	"github.com/axi-im/axicore/internal/connectivity"
	"github.com/axi-im/axicore/internal/id"
)

// Envelope is one outbound message as the transport sees it: opaque body,
// addressing, and the minted wire message-id used for correlation.
type Envelope struct {
	MsgID    id.Msg
	RemoteID string
	From     string
	To       []string
	Subject  string
	Body     []byte
}

// Update is a tagged variant reported by a transport. The concrete types
// are TaskStatus, Inbound and MDN.
type Update interface {
	_isUpdate()
}

// TaskStatus reports the connectivity band of one background task.
type TaskStatus struct {
	Task connectivity.Task
	Band connectivity.Band
}

func (TaskStatus) _isUpdate() {}

// Inbound is one delivered message. Partial marks a large message whose
// body was not fetched eagerly; Bytes then carries the full size.
type Inbound struct {
	RemoteID  string
	From      string
	Subject   string
	Body      []byte
	Timestamp time.Time
	Partial   bool
	Bytes     int64
}

func (Inbound) _isUpdate() {}

// MDN is a disposition notification for a previously sent message.
type MDN struct {
	RemoteID string
}

func (MDN) _isUpdate() {}

// Transport is the mail collaborator owned by one account's I/O lifecycle.
type Transport interface {
	// Start brings up the transport's connections. Updates begin flowing
	// after Start returns; they stop after Stop.
	Start(ctx context.Context) error

	// Stop tears down all connections. In-flight operations complete or
	// are cancelled before Stop returns.
	Stop()

	// RetryNow asks all backed-off connections to retry immediately.
	// Non-blocking hint; may do nothing.
	RetryNow()

	// FetchOnce drives a single fetch-and-idle cycle and returns once the
	// mailbox is drained or ctx expires.
	FetchOnce(ctx context.Context) error

	// Send delivers one envelope. A nil error means the relay accepted
	// the message.
	Send(ctx context.Context, env Envelope) error

	// FetchFull retrieves the complete body of a partially fetched
	// message.
	FetchFull(ctx context.Context, remoteID string) ([]byte, error)

	// Updates returns the transport's update stream. The channel is
	// closed by Stop.
	Updates() <-chan Update
}

// Factory builds the transport for one account once its address is
// configured.
type Factory func(account id.Account, addr string) Transport
