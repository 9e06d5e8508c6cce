// Package loopback provides an in-memory transport. It accepts every send
// immediately and delivers scripted inbound messages, which makes it the
// default for offline operation and the fixture for engine tests.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/axi-im/axicore/internal/connectivity"
	"github.com/axi-im/axicore/internal/id"
	"github.com/axi-im/axicore/internal/transport"
)

// Transport is an in-memory transport.Transport.
type Transport struct {
	mu      sync.Mutex
	started bool
	updates chan transport.Update
	pending []transport.Inbound
	full    map[string][]byte
	sent    []transport.Envelope
}

// New creates a stopped loopback transport.
func New() *Transport {
	return &Transport{
		full: make(map[string][]byte),
	}
}

// Factory returns a transport.Factory minting one loopback per account.
func Factory() transport.Factory {
	return func(id.Account, string) transport.Transport { return New() }
}

// Start opens the update stream and reports every task connected.
func (t *Transport) Start(_ context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.updates = make(chan transport.Update, 64)
	ch := t.updates
	t.mu.Unlock()

	for _, task := range []connectivity.Task{
		connectivity.TaskInbox,
		connectivity.TaskSender,
		connectivity.TaskScheduler,
	} {
		ch <- transport.TaskStatus{Task: task, Band: connectivity.Connecting}
		ch <- transport.TaskStatus{Task: task, Band: connectivity.Connected}
	}
	return nil
}

// Stop closes the update stream.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.started = false
	close(t.updates)
}

// RetryNow is a no-op: a loopback is never backed off.
func (t *Transport) RetryNow() {}

// FetchOnce drains all scripted inbound messages into the update stream.
func (t *Transport) FetchOnce(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return fmt.Errorf("loopback: not started")
	}
	for _, in := range t.pending {
		t.updates <- in
	}
	t.pending = nil
	return nil
}

// Send records the envelope and accepts it.
func (t *Transport) Send(_ context.Context, env transport.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return fmt.Errorf("loopback: not started")
	}
	t.sent = append(t.sent, env)
	return nil
}

// FetchFull returns the body scripted for remoteID.
func (t *Transport) FetchFull(_ context.Context, remoteID string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	body, ok := t.full[remoteID]
	if !ok {
		return nil, fmt.Errorf("loopback: no full body for %q", remoteID)
	}
	return body, nil
}

// Updates returns the update stream. After Stop it returns the closed
// channel, so a late reader drains and exits instead of blocking; it is
// nil only before the first Start.
func (t *Transport) Updates() <-chan transport.Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updates
}

// Inject queues an inbound message for the next FetchOnce, or pushes it
// straight into the update stream when running.
func (t *Transport) Inject(in transport.Inbound) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		t.updates <- in
		return
	}
	t.pending = append(t.pending, in)
}

// InjectMDN pushes a read notification into the update stream.
func (t *Transport) InjectMDN(remoteID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		t.updates <- transport.MDN{RemoteID: remoteID}
	}
}

// ScriptFull registers the body FetchFull returns for remoteID.
func (t *Transport) ScriptFull(remoteID string, body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.full[remoteID] = body
}

// Sent returns a copy of all accepted envelopes, oldest first.
func (t *Transport) Sent() []transport.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}
