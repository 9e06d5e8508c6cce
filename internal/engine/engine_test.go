package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axi-im/axicore/internal/connectivity"
	"github.com/axi-im/axicore/internal/crypto"
	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/id"
	"github.com/axi-im/axicore/internal/store"
	"github.com/axi-im/axicore/internal/transport"
	"github.com/axi-im/axicore/internal/transport/loopback"
)

const waitTimeout = 5 * time.Second

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", desc)
}

// recorder drains a context's emitter into memory so tests can assert on
// emitted events after the fact.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func record(c *Context) *recorder {
	r := &recorder{}
	go func() {
		for {
			ev, ok := c.Emitter().Next(context.Background())
			if !ok {
				return
			}
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) find(pred func(event.Event) bool) (event.Event, bool) {
	r.mu.Lock()
	events := make([]event.Event, len(r.events))
	copy(events, r.events)
	r.mu.Unlock()
	for _, ev := range events {
		if pred(ev) {
			return ev, true
		}
	}
	return event.Event{}, false
}

func (r *recorder) wait(t *testing.T, desc string, pred func(event.Event) bool) event.Event {
	t.Helper()
	var got event.Event
	waitFor(t, desc, func() bool {
		ev, ok := r.find(pred)
		if ok {
			got = ev
		}
		return ok
	})
	return got
}

func (r *recorder) waitKind(t *testing.T, kind event.Kind) event.Event {
	t.Helper()
	return r.wait(t, fmt.Sprintf("event %d", kind), func(ev event.Event) bool { return ev.Kind == kind })
}

func kindCount(r *recorder, kind event.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	ctx *Context
	tr  *loopback.Transport
	rec *recorder
}

// newFixture returns a configured context wired to a single shared
// loopback transport. I/O is not started.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	lt := loopback.New()
	c, err := New(Params{
		AccountID:    1,
		DBPath:       filepath.Join(t.TempDir(), "axi.db"),
		NewTransport: func(id.Account, string) transport.Transport { return lt },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	rec := record(c)
	if err := c.SetConfig("addr", "self@example.org"); err != nil {
		t.Fatal(err)
	}
	c.Configure()
	waitFor(t, "configure to finish", c.IsConfigured)
	return &fixture{ctx: c, tr: lt, rec: rec}
}

func TestConfigureSeedsSelfContact(t *testing.T) {
	f := newFixture(t)

	self, err := f.ctx.GetContact(id.ContactSelf)
	if err != nil {
		t.Fatal(err)
	}
	if self.Addr != "self@example.org" {
		t.Errorf("self addr = %q, want self@example.org", self.Addr)
	}

	f.rec.wait(t, "configure success progress", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.Progress)
		return ev.Kind == event.KindConfigureProgress && ok && p.Permille == 1000
	})
}

func TestConfigureWithoutAddrFails(t *testing.T) {
	c, err := New(Params{AccountID: 1, DBPath: filepath.Join(t.TempDir(), "axi.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	rec := record(c)

	c.Configure()
	rec.wait(t, "configure failure progress", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.Progress)
		return ev.Kind == event.KindConfigureProgress && ok && p.Permille == 0
	})
	if c.IsConfigured() {
		t.Error("IsConfigured = true after failed configure")
	}
	if c.LastError() == "" {
		t.Error("LastError empty after failed configure")
	}
}

func TestConfigureOnClosedContextReportsFailure(t *testing.T) {
	c := NewClosed(Params{AccountID: 1, DBPath: filepath.Join(t.TempDir(), "axi.db")})
	t.Cleanup(c.Close)
	rec := record(c)

	c.Configure()
	rec.wait(t, "configure failure progress", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.Progress)
		return ev.Kind == event.KindConfigureProgress && ok && p.Permille == 0
	})
}

func TestSetConfigValidation(t *testing.T) {
	f := newFixture(t)

	if err := f.ctx.SetConfig("no_such_key", "x"); !errors.Is(err, ErrConfigKey) {
		t.Errorf("unknown key err = %v, want ErrConfigKey", err)
	}
	if err := f.ctx.SetConfig("mdns_enabled", "yes"); !errors.Is(err, ErrConfigValue) {
		t.Errorf("bad bool err = %v, want ErrConfigValue", err)
	}
	if err := f.ctx.SetConfig("download_limit", "many"); !errors.Is(err, ErrConfigValue) {
		t.Errorf("bad number err = %v, want ErrConfigValue", err)
	}

	if err := f.ctx.SetConfig("displayname", "Alice"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := f.ctx.GetConfig("displayname")
	if err != nil || !ok || v != "Alice" {
		t.Errorf("GetConfig(displayname) = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := f.ctx.GetConfig("selfstatus"); ok {
		t.Error("never-set key reported as set")
	}
}

func TestSetConfigRejectedWhileIORunning(t *testing.T) {
	f := newFixture(t)

	f.ctx.StartIO()
	if err := f.ctx.SetConfig("addr", "other@example.org"); !errors.Is(err, ErrIORunning) {
		t.Errorf("err = %v, want ErrIORunning", err)
	}
	// Non-transport keys stay settable.
	if err := f.ctx.SetConfig("displayname", "Alice"); err != nil {
		t.Errorf("displayname while io runs: %v", err)
	}

	f.ctx.StopIO()
	if err := f.ctx.SetConfig("addr", "other@example.org"); err != nil {
		t.Errorf("addr after StopIO: %v", err)
	}
}

func TestStartIOUnconfiguredIsNoop(t *testing.T) {
	c, err := New(Params{
		AccountID:    1,
		DBPath:       filepath.Join(t.TempDir(), "axi.db"),
		NewTransport: loopback.Factory(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	c.StartIO()
	if c.ioRunning() {
		t.Error("io running on unconfigured context")
	}
}

func TestConnectivityLifecycle(t *testing.T) {
	f := newFixture(t)

	if got := f.ctx.Connectivity(); got != connectivity.NotConnected {
		t.Fatalf("initial connectivity = %v, want not-connected", got)
	}

	f.ctx.StartIO()
	waitFor(t, "connected", func() bool {
		return f.ctx.Connectivity().Basic() == connectivity.Connected
	})
	f.rec.waitKind(t, event.KindConnectivity)

	f.ctx.StopIO()
	if got := f.ctx.Connectivity(); got != connectivity.NotConnected {
		t.Errorf("connectivity after StopIO = %v, want not-connected", got)
	}

	f.ctx.MaybeNetworkLost()
	// Not running, so the hint must not resurrect any state.
	if got := f.ctx.Connectivity(); got != connectivity.NotConnected {
		t.Errorf("connectivity after hint = %v, want not-connected", got)
	}
}

func TestStartStopIOCyclesTerminate(t *testing.T) {
	f := newFixture(t)

	// An immediate stop must join the watcher even when it has not yet
	// begun consuming the update stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			f.ctx.StartIO()
			f.ctx.StopIO()
		}
	}()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("start/stop cycles did not terminate")
	}
}

func TestSendTextMsgDeliveryFlow(t *testing.T) {
	f := newFixture(t)

	cid, err := f.ctx.CreateContact("Bob", "bob@example.org")
	if err != nil {
		t.Fatal(err)
	}
	chatID, err := f.ctx.CreateChatByContactID(cid)
	if err != nil {
		t.Fatal(err)
	}

	f.ctx.StartIO()
	mid, err := f.ctx.SendTextMsg(chatID, "hello bob")
	if err != nil {
		t.Fatal(err)
	}

	// Queued as pending first, then the sender advances it.
	m, err := f.ctx.GetMsg(mid)
	if err != nil {
		t.Fatal(err)
	}
	if m.State != store.StateOutPending && m.State != store.StateOutDelivered {
		t.Errorf("state right after send = %d", m.State)
	}
	if !m.Outgoing || m.FromID != id.ContactSelf {
		t.Errorf("msg = %+v, want outgoing from self", m)
	}
	if m.RemoteID == "" {
		t.Error("no wire id minted")
	}

	f.rec.wait(t, "msgs-changed for sent msg", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.MsgInfo)
		return ev.Kind == event.KindMsgsChanged && ok && p.MsgID == mid
	})
	f.rec.wait(t, "delivery", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.MsgInfo)
		return ev.Kind == event.KindMsgDelivered && ok && p.MsgID == mid
	})

	m, _ = f.ctx.GetMsg(mid)
	if m.State != store.StateOutDelivered {
		t.Errorf("state = %d, want delivered", m.State)
	}

	sent := f.tr.Sent()
	if len(sent) != 1 {
		t.Fatalf("transport accepted %d envelopes, want 1", len(sent))
	}
	env := sent[0]
	if len(env.To) != 1 || env.To[0] != "bob@example.org" {
		t.Errorf("env.To = %v", env.To)
	}
	if env.From != "self@example.org" {
		t.Errorf("env.From = %q", env.From)
	}
	if string(env.Body) != "hello bob" {
		t.Errorf("env.Body = %q", env.Body)
	}
}

func TestMDNAdvancesToRead(t *testing.T) {
	f := newFixture(t)

	cid, _ := f.ctx.CreateContact("Bob", "bob@example.org")
	chatID, _ := f.ctx.CreateChatByContactID(cid)

	f.ctx.StartIO()
	mid, err := f.ctx.SendTextMsg(chatID, "read me")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delivery", func() bool {
		m, err := f.ctx.GetMsg(mid)
		return err == nil && m.State == store.StateOutDelivered
	})

	m, _ := f.ctx.GetMsg(mid)
	f.tr.InjectMDN(m.RemoteID)

	f.rec.wait(t, "read notification", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.MsgInfo)
		return ev.Kind == event.KindMsgRead && ok && p.MsgID == mid
	})
	m, _ = f.ctx.GetMsg(mid)
	if m.State != store.StateOutMdnRcvd {
		t.Errorf("state = %d, want mdn-received", m.State)
	}
}

func TestIncomingMessageCreatesContactAndChat(t *testing.T) {
	f := newFixture(t)
	f.ctx.StartIO()

	f.tr.Inject(transport.Inbound{
		RemoteID:  "in-1@peer.org",
		From:      "carol@peer.org",
		Body:      []byte("hi there"),
		Timestamp: time.Now(),
	})

	ev := f.rec.waitKind(t, event.KindIncomingMsg)
	info := ev.Payload.(event.MsgInfo)

	cid, err := f.ctx.LookupContactIDByAddr("carol@peer.org")
	if err != nil || cid == 0 {
		t.Fatalf("sender contact not created: (%d, %v)", cid, err)
	}
	m, err := f.ctx.GetMsg(info.MsgID)
	if err != nil {
		t.Fatal(err)
	}
	if m.State != store.StateInFresh || m.Text != "hi there" || m.FromID != cid {
		t.Errorf("msg = %+v", m)
	}
	chat, err := f.ctx.GetChat(info.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if chat.Type != store.ChatSingle {
		t.Errorf("chat type = %d, want single", chat.Type)
	}

	// Redelivery of the same wire id must not duplicate.
	f.tr.Inject(transport.Inbound{
		RemoteID:  "in-1@peer.org",
		From:      "carol@peer.org",
		Body:      []byte("hi there"),
		Timestamp: time.Now(),
	})
	f.tr.Inject(transport.Inbound{
		RemoteID:  "in-2@peer.org",
		From:      "carol@peer.org",
		Body:      []byte("second"),
		Timestamp: time.Now(),
	})
	f.rec.wait(t, "second distinct msg", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.MsgInfo)
		return ev.Kind == event.KindIncomingMsg && ok && p.MsgID != info.MsgID
	})

	n, err := f.ctx.GetMsgCnt(info.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("msg count = %d, want 2 (redelivery dropped)", n)
	}
}

func TestIncomingWithoutRemoteIDNeverDeduplicated(t *testing.T) {
	f := newFixture(t)
	f.ctx.StartIO()

	for _, text := range []string{"first", "second"} {
		f.tr.Inject(transport.Inbound{
			From:      "dave@peer.org",
			Body:      []byte(text),
			Timestamp: time.Now(),
		})
	}

	var chatID id.Chat
	f.rec.wait(t, "both messages stored", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.MsgInfo)
		if ev.Kind == event.KindIncomingMsg && ok {
			chatID = p.ChatID
		}
		return kindCount(f.rec, event.KindIncomingMsg) == 2
	})

	n, err := f.ctx.GetMsgCnt(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("msg count = %d, want 2 (empty wire id must not dedupe)", n)
	}
}

func TestIncomingFromBlockedContactDropped(t *testing.T) {
	f := newFixture(t)

	cid, _ := f.ctx.CreateContact("Mallory", "mallory@peer.org")
	if err := f.ctx.BlockContact(cid); err != nil {
		t.Fatal(err)
	}

	f.ctx.StartIO()
	f.tr.Inject(transport.Inbound{
		RemoteID:  "spam-1@peer.org",
		From:      "mallory@peer.org",
		Body:      []byte("buy now"),
		Timestamp: time.Now(),
	})
	// Deliver an unblocked message afterwards as a fence.
	f.tr.Inject(transport.Inbound{
		RemoteID:  "ok-1@peer.org",
		From:      "carol@peer.org",
		Body:      []byte("legit"),
		Timestamp: time.Now(),
	})
	f.rec.waitKind(t, event.KindIncomingMsg)

	if n := kindCount(f.rec, event.KindIncomingMsg); n != 1 {
		t.Errorf("incoming events = %d, want 1 (blocked dropped)", n)
	}
	if chatID := singleChatWith(t, f.ctx, cid); chatID != 0 {
		t.Errorf("chat %d created for blocked sender", chatID)
	}
}

// singleChatWith looks up the single-chat for a contact without going
// through the creating API.
func singleChatWith(t *testing.T, c *Context, cid id.Contact) id.Chat {
	t.Helper()
	db, err := c.store()
	if err != nil {
		t.Fatal(err)
	}
	chatID, err := db.SingleChatWithContact(cid)
	if err != nil {
		t.Fatal(err)
	}
	return chatID
}

func TestMarkseenDecrementsFreshCount(t *testing.T) {
	f := newFixture(t)
	f.ctx.StartIO()

	for _, rid := range []string{"f-1@p", "f-2@p", "f-3@p"} {
		f.tr.Inject(transport.Inbound{
			RemoteID: rid, From: "carol@peer.org", Body: []byte("m"), Timestamp: time.Now(),
		})
	}
	waitFor(t, "three incoming events", func() bool {
		return kindCount(f.rec, event.KindIncomingMsg) == 3
	})

	cid, _ := f.ctx.LookupContactIDByAddr("carol@peer.org")
	chatID := singleChatWith(t, f.ctx, cid)
	fresh, _ := f.ctx.GetFreshMsgCnt(chatID)
	if fresh != 3 {
		t.Fatalf("fresh = %d, want 3", fresh)
	}

	ids, _ := f.ctx.GetChatMsgs(chatID)
	if err := f.ctx.MarkseenMsgs(ids[:2]); err != nil {
		t.Fatal(err)
	}
	f.rec.waitKind(t, event.KindMsgsNoticed)
	fresh, _ = f.ctx.GetFreshMsgCnt(chatID)
	if fresh != 1 {
		t.Errorf("fresh = %d after markseen, want 1", fresh)
	}

	if err := f.ctx.MarkNoticedChat(chatID); err != nil {
		t.Fatal(err)
	}
	fresh, _ = f.ctx.GetFreshMsgCnt(chatID)
	if fresh != 0 {
		t.Errorf("fresh = %d after mark-noticed, want 0", fresh)
	}
}

func TestDownloadFullMsg(t *testing.T) {
	f := newFixture(t)
	f.ctx.StartIO()

	f.tr.ScriptFull("big-1@peer.org", []byte("the entire large body"))
	f.tr.Inject(transport.Inbound{
		RemoteID:  "big-1@peer.org",
		From:      "carol@peer.org",
		Timestamp: time.Now(),
		Partial:   true,
		Bytes:     1 << 20,
	})
	ev := f.rec.waitKind(t, event.KindIncomingMsg)
	info := ev.Payload.(event.MsgInfo)

	m, _ := f.ctx.GetMsg(info.MsgID)
	if m.DownloadState != store.DownloadAvailable || m.DownloadBytes != 1<<20 {
		t.Fatalf("partial msg = %+v, want available with size", m)
	}

	if err := f.ctx.DownloadFullMsg(info.MsgID); err != nil {
		t.Fatal(err)
	}
	// Starting it again while in progress must not double-fetch.
	if err := f.ctx.DownloadFullMsg(info.MsgID); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "download done", func() bool {
		m, err := f.ctx.GetMsg(info.MsgID)
		return err == nil && m.DownloadState == store.DownloadDone
	})
	m, _ = f.ctx.GetMsg(info.MsgID)
	if m.Text != "the entire large body" {
		t.Errorf("text = %q", m.Text)
	}
	f.rec.wait(t, "chat-modified after download", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.ChatInfo)
		return ev.Kind == event.KindChatModified && ok && p.ChatID == info.ChatID
	})
}

func TestUndecipherableIncoming(t *testing.T) {
	lt := loopback.New()
	c, err := New(Params{
		AccountID:    1,
		DBPath:       filepath.Join(t.TempDir(), "axi.db"),
		NewTransport: func(id.Account, string) transport.Transport { return lt },
		Cipher:       rejectCipher{},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	rec := record(c)
	_ = c.SetConfig("addr", "self@example.org")
	c.Configure()
	waitFor(t, "configure", c.IsConfigured)

	c.StartIO()
	lt.Inject(transport.Inbound{
		RemoteID:  "enc-1@peer.org",
		From:      "carol@peer.org",
		Body:      []byte("garbled"),
		Timestamp: time.Now(),
	})
	ev := rec.waitKind(t, event.KindIncomingMsg)
	info := ev.Payload.(event.MsgInfo)

	m, err := c.GetMsg(info.MsgID)
	if err != nil {
		t.Fatal(err)
	}
	if m.DownloadState != store.DownloadUndecipherable {
		t.Errorf("download state = %d, want undecipherable", m.DownloadState)
	}
	if m.Text != "" {
		t.Errorf("text = %q, want empty for undecipherable msg", m.Text)
	}
}

func TestFailedSendAndResend(t *testing.T) {
	ft := &failingSend{Transport: loopback.New()}
	ft.setFail(true)
	c, err := New(Params{
		AccountID:    1,
		DBPath:       filepath.Join(t.TempDir(), "axi.db"),
		NewTransport: func(id.Account, string) transport.Transport { return ft },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	rec := record(c)
	_ = c.SetConfig("addr", "self@example.org")
	c.Configure()
	waitFor(t, "configure", c.IsConfigured)

	cid, _ := c.CreateContact("Bob", "bob@example.org")
	chatID, _ := c.CreateChatByContactID(cid)

	c.StartIO()
	mid, err := c.SendTextMsg(chatID, "doomed")
	if err != nil {
		t.Fatal(err)
	}

	rec.wait(t, "send failure", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.MsgInfo)
		return ev.Kind == event.KindMsgFailed && ok && p.MsgID == mid
	})
	rec.waitKind(t, event.KindError)
	m, _ := c.GetMsg(mid)
	if m.State != store.StateOutFailed {
		t.Fatalf("state = %d, want failed", m.State)
	}
	if c.LastError() == "" {
		t.Error("LastError empty after send failure")
	}

	// Explicit resend re-enters pending and delivers once the relay
	// accepts again.
	ft.setFail(false)
	if err := c.ResendMsgs([]id.Msg{mid}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delivery after resend", func() bool {
		m, err := c.GetMsg(mid)
		return err == nil && m.State == store.StateOutDelivered
	})

	// Resending a delivered message changes nothing.
	if err := c.ResendMsgs([]id.Msg{mid}); err != nil {
		t.Fatal(err)
	}
	m, _ = c.GetMsg(mid)
	if m.State != store.StateOutDelivered {
		t.Errorf("state = %d after no-op resend", m.State)
	}
}

type failingSend struct {
	*loopback.Transport
	mu   sync.Mutex
	fail bool
}

func (f *failingSend) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingSend) Send(ctx context.Context, env transport.Envelope) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("relay rejected message")
	}
	return f.Transport.Send(ctx, env)
}

func TestSendMsgRejectsSpecialChat(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ctx.SendTextMsg(id.ChatTrash, "x"); !errors.Is(err, ErrSpecialID) {
		t.Errorf("send to trash err = %v, want ErrSpecialID", err)
	}
	if _, err := f.ctx.SendTextMsg(id.ChatNone, "x"); !errors.Is(err, ErrSpecialID) {
		t.Errorf("send to zero chat err = %v, want ErrSpecialID", err)
	}
}

func TestCreateChatByContactIDIdempotent(t *testing.T) {
	f := newFixture(t)

	cid, _ := f.ctx.CreateContact("Bob", "bob@example.org")
	chat1, err := f.ctx.CreateChatByContactID(cid)
	if err != nil {
		t.Fatal(err)
	}
	chat2, err := f.ctx.CreateChatByContactID(cid)
	if err != nil {
		t.Fatal(err)
	}
	if chat1 != chat2 {
		t.Errorf("two chats %d and %d for one contact", chat1, chat2)
	}

	mallory, _ := f.ctx.CreateContact("", "mallory@peer.org")
	_ = f.ctx.BlockContact(mallory)
	if _, err := f.ctx.CreateChatByContactID(mallory); !errors.Is(err, ErrBlocked) {
		t.Errorf("chat with blocked contact err = %v, want ErrBlocked", err)
	}

	if _, err := f.ctx.CreateChatByContactID(id.ContactInfo); !errors.Is(err, ErrSpecialID) {
		t.Errorf("chat with info pseudo-contact err = %v, want ErrSpecialID", err)
	}
}

func TestGroupChatMembership(t *testing.T) {
	f := newFixture(t)

	chatID, err := f.ctx.CreateGroupChat("Friends")
	if err != nil {
		t.Fatal(err)
	}
	members, _ := f.ctx.GetChatContacts(chatID)
	if len(members) != 1 || members[0] != id.ContactSelf {
		t.Fatalf("new group members = %v, want just self", members)
	}

	bob, _ := f.ctx.CreateContact("Bob", "bob@example.org")
	if err := f.ctx.AddContactToChat(chatID, bob); err != nil {
		t.Fatal(err)
	}
	members, _ = f.ctx.GetChatContacts(chatID)
	if len(members) != 2 {
		t.Errorf("members = %v, want self+bob", members)
	}

	// Adding drops an info notice into the chat.
	msgs, _ := f.ctx.GetChatMsgs(chatID)
	if len(msgs) != 1 {
		t.Fatalf("group msgs = %d, want 1 info notice", len(msgs))
	}
	m, _ := f.ctx.GetMsg(msgs[0])
	if m.InfoType != store.InfoMemberAdded {
		t.Errorf("info type = %d, want member-added", m.InfoType)
	}

	// Members can only be added to groups and broadcasts.
	single, _ := f.ctx.CreateChatByContactID(bob)
	carol, _ := f.ctx.CreateContact("Carol", "carol@example.org")
	if err := f.ctx.AddContactToChat(single, carol); !errors.Is(err, ErrState) {
		t.Errorf("add to single chat err = %v, want ErrState", err)
	}
}

func TestSetChatNameEmitsBothEvents(t *testing.T) {
	f := newFixture(t)

	chatID, _ := f.ctx.CreateGroupChat("Old Name")
	if err := f.ctx.SetChatName(chatID, "New Name"); err != nil {
		t.Fatal(err)
	}
	if err := f.ctx.SetChatName(chatID, ""); !errors.Is(err, ErrConfigValue) {
		t.Errorf("empty name err = %v, want ErrConfigValue", err)
	}

	chat, _ := f.ctx.GetChat(chatID)
	if chat.Name != "New Name" {
		t.Errorf("name = %q", chat.Name)
	}
	f.rec.wait(t, "chat-modified", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.ChatInfo)
		return ev.Kind == event.KindChatModified && ok && p.ChatID == chatID
	})
	f.rec.wait(t, "msgs-changed for info notice", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.MsgInfo)
		return ev.Kind == event.KindMsgsChanged && ok && p.ChatID == chatID
	})
}

func TestForwardMsgs(t *testing.T) {
	f := newFixture(t)
	f.ctx.StartIO()

	f.tr.Inject(transport.Inbound{
		RemoteID: "orig-1@p", From: "carol@peer.org", Body: []byte("forward me"), Timestamp: time.Now(),
	})
	ev := f.rec.waitKind(t, event.KindIncomingMsg)
	info := ev.Payload.(event.MsgInfo)

	bob, _ := f.ctx.CreateContact("Bob", "bob@example.org")
	target, _ := f.ctx.CreateChatByContactID(bob)

	if err := f.ctx.ForwardMsgs([]id.Msg{info.MsgID}, target); err != nil {
		t.Fatal(err)
	}
	msgs, _ := f.ctx.GetChatMsgs(target)
	if len(msgs) != 1 {
		t.Fatalf("target msgs = %d, want 1", len(msgs))
	}
	fwd, _ := f.ctx.GetMsg(msgs[0])
	if fwd.ID == info.MsgID {
		t.Error("forward reused the original entity")
	}
	if fwd.Text != "forward me" || !fwd.Outgoing || fwd.FromID != id.ContactSelf {
		t.Errorf("fwd = %+v", fwd)
	}
	if fwd.RemoteID == "" {
		t.Error("forward has no fresh wire id")
	}

	// Original untouched.
	orig, _ := f.ctx.GetMsg(info.MsgID)
	if orig.ChatID == target {
		t.Error("original moved instead of copied")
	}
}

func TestDeleteMsgsEmitsPerChat(t *testing.T) {
	f := newFixture(t)

	bob, _ := f.ctx.CreateContact("Bob", "bob@example.org")
	chatID, _ := f.ctx.CreateChatByContactID(bob)
	mid, err := f.ctx.SendTextMsg(chatID, "remove me")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.ctx.DeleteMsgs([]id.Msg{mid, 9999}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctx.GetMsg(mid); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted msg err = %v, want ErrNotFound", err)
	}
	n, _ := f.ctx.GetMsgCnt(chatID)
	if n != 0 {
		t.Errorf("msg count = %d, want 0", n)
	}
}

func TestDraftLifecycle(t *testing.T) {
	f := newFixture(t)

	bob, _ := f.ctx.CreateContact("Bob", "bob@example.org")
	chatID, _ := f.ctx.CreateChatByContactID(bob)

	m := f.ctx.NewMsg(store.ViewtypeText)
	m.Text = "unfinished thought"
	if err := f.ctx.SetDraft(chatID, m); err != nil {
		t.Fatal(err)
	}
	d, err := f.ctx.GetDraft(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Text != "unfinished thought" {
		t.Fatalf("draft = %+v", d)
	}

	if err := f.ctx.SetDraft(chatID, nil); err != nil {
		t.Fatal(err)
	}
	if d, _ := f.ctx.GetDraft(chatID); d != nil {
		t.Errorf("draft after clear = %+v", d)
	}
}

func TestSearchMsgsScoped(t *testing.T) {
	f := newFixture(t)
	f.ctx.StartIO()

	f.tr.Inject(transport.Inbound{
		RemoteID: "s-1@p", From: "carol@peer.org", Body: []byte("budget meeting notes"), Timestamp: time.Now(),
	})
	f.rec.waitKind(t, event.KindIncomingMsg)

	res, err := f.ctx.SearchMsgs("budget", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("hits = %d, want 1", len(res))
	}
	if res[0].Msg.Text != "budget meeting notes" {
		t.Errorf("hit = %+v", res[0].Msg)
	}
}

func TestPassphraseLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "axi.db")

	c := NewClosed(Params{AccountID: 1, DBPath: dbPath})
	if c.IsOpen() {
		t.Fatal("closed context reports open")
	}
	if _, err := c.CreateContact("x", "x@example.org"); !errors.Is(err, ErrClosed) {
		t.Errorf("op on closed context err = %v, want ErrClosed", err)
	}
	if err := c.Open("hunter2"); err != nil {
		t.Fatal(err)
	}
	if !c.IsOpen() {
		t.Fatal("context not open after Open")
	}
	c.Close()

	c = NewClosed(Params{AccountID: 1, DBPath: dbPath})
	if err := c.Open("wrong"); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("wrong passphrase err = %v, want ErrBadPassphrase", err)
	}
	if err := c.Open(""); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("empty passphrase err = %v, want ErrBadPassphrase", err)
	}
	if err := c.Open("hunter2"); err != nil {
		t.Fatal(err)
	}

	if err := c.ChangePassphrase("correct horse"); err != nil {
		t.Fatal(err)
	}
	c.Close()

	c = NewClosed(Params{AccountID: 1, DBPath: dbPath})
	defer c.Close()
	if err := c.Open("hunter2"); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("old passphrase still works: %v", err)
	}
	if err := c.Open("correct horse"); err != nil {
		t.Fatal(err)
	}
}

func TestImexExportBackup(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	f.ctx.ImexExportBackup(dir)
	ev := f.rec.wait(t, "backup success", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.Progress)
		return ev.Kind == event.KindImexProgress && ok && p.Permille == 1000
	})

	path := ev.Payload.(event.Progress).Comment
	if filepath.Dir(path) != dir {
		t.Errorf("backup path = %q, want inside %q", path, dir)
	}
	src, err := New(Params{AccountID: 2, DBPath: path})
	if err != nil {
		t.Fatalf("backup is not a usable account db: %v", err)
	}
	if !src.IsConfigured() {
		t.Error("backup lost the configured flag")
	}
	src.Close()
}

func TestSecurejoinTokens(t *testing.T) {
	f := newFixture(t)

	chatID, _ := f.ctx.CreateGroupChat("Secret Club")
	token, err := f.ctx.SecurejoinQR(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if token == "" {
		t.Fatal("empty invite token")
	}
	f.rec.waitKind(t, event.KindSecurejoinInviter)

	if err := f.ctx.JoinSecurejoin("https://not-an-invite"); !errors.Is(err, ErrState) {
		t.Errorf("bad token err = %v, want ErrState", err)
	}
	if err := f.ctx.JoinSecurejoin(token); err != nil {
		t.Fatal(err)
	}
	f.rec.wait(t, "joiner success", func(ev event.Event) bool {
		p, ok := ev.Payload.(event.Progress)
		return ev.Kind == event.KindSecurejoinJoiner && ok && p.Permille == 1000
	})
}

func TestBackgroundFetchWithoutRunningIO(t *testing.T) {
	f := newFixture(t)

	f.tr.Inject(transport.Inbound{
		RemoteID: "bg-1@p", From: "carol@peer.org", Body: []byte("fetched in background"), Timestamp: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := f.ctx.BackgroundFetch(ctx); err != nil {
		t.Fatal(err)
	}

	f.rec.waitKind(t, event.KindIncomingMsg)
	if f.ctx.ioRunning() {
		t.Error("background fetch left io running")
	}
}

// rejectCipher refuses every body, standing in for payloads the
// decryption layer cannot open.
type rejectCipher struct{}

func (rejectCipher) Encrypt(plain []byte) ([]byte, error) { return plain, nil }
func (rejectCipher) Decrypt([]byte) ([]byte, error)       { return nil, crypto.ErrUndecipherable }
