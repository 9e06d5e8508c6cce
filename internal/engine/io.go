package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/axi-im/axicore/internal/connectivity"
	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/store"
	"github.com/axi-im/axicore/internal/transport"
)

// ioState is the supervised background task set of one context. ioMu
// serializes StartIO/StopIO so a stop during a start waits for the start
// to settle, then stops.
type ioState struct {
	ioMu    sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	tr      transport.Transport
}

// StartIO starts the background task set: a transport watcher, the
// sender queue and a scheduler tick. No-op on an unconfigured or closed
// context, or when I/O already runs.
func (c *Context) StartIO() {
	c.io.ioMu.Lock()
	defer c.io.ioMu.Unlock()

	if c.io.running {
		return
	}
	if c.factory == nil || !c.IsConfigured() {
		c.logger.Debug("start io skipped: not configured")
		return
	}
	db, err := c.store()
	if err != nil {
		return
	}
	addr, _, err := db.GetConfig("addr")
	if err != nil {
		c.reportError(err)
		return
	}

	tr := c.factory(c.accountID, addr)
	ctx, cancel := context.WithCancel(context.Background())
	if err := tr.Start(ctx); err != nil {
		cancel()
		c.reportError(err)
		return
	}

	c.io.tr = tr
	c.io.cancel = cancel
	c.io.running = true

	// Capture the stream before spawning: a StopIO racing the watcher
	// must see the same channel the transport closes.
	updates := tr.Updates()

	c.io.wg.Add(3)
	go func() {
		defer c.io.wg.Done()
		c.watchTransport(updates)
	}()
	go func() {
		defer c.io.wg.Done()
		c.senderLoop(ctx, tr)
	}()
	go func() {
		defer c.io.wg.Done()
		c.schedulerLoop(ctx, tr)
	}()

	c.logger.Info("io started")
}

// StopIO cancels the background task set and joins every task. In-flight
// sends complete or stay durably queued. It never waits on the emitter
// being drained, so it is safe to call from the event-consumer thread.
func (c *Context) StopIO() {
	c.io.ioMu.Lock()
	defer c.io.ioMu.Unlock()

	if !c.io.running {
		return
	}
	c.io.cancel()
	c.io.tr.Stop()
	c.io.wg.Wait()

	c.io.running = false
	c.io.tr = nil
	c.io.cancel = nil
	c.conn.Reset()
	c.logger.Info("io stopped")
}

func (c *Context) ioRunning() bool {
	c.io.ioMu.Lock()
	defer c.io.ioMu.Unlock()
	return c.io.running
}

// MaybeNetwork hints that network reachability may have returned and
// asks backed-off connections to retry now. Non-blocking.
func (c *Context) MaybeNetwork() {
	c.io.ioMu.Lock()
	tr := c.io.tr
	c.io.ioMu.Unlock()
	if tr != nil {
		tr.RetryNow()
	}
}

// MaybeNetworkLost hints that the network went away.
func (c *Context) MaybeNetworkLost() {
	c.io.ioMu.Lock()
	running := c.io.running
	c.io.ioMu.Unlock()
	if running {
		c.conn.Report(connectivity.TaskInbox, connectivity.NotConnected)
	}
}

// BackgroundFetch drives one fetch-and-idle cycle. When I/O is running
// the live transport is used; otherwise a transport is brought up just
// for the cycle.
func (c *Context) BackgroundFetch(ctx context.Context) error {
	c.io.ioMu.Lock()
	tr := c.io.tr
	c.io.ioMu.Unlock()

	if tr != nil {
		return tr.FetchOnce(ctx)
	}
	if c.factory == nil || !c.IsConfigured() {
		return nil
	}
	db, err := c.store()
	if err != nil {
		return nil
	}
	addr, _, err := db.GetConfig("addr")
	if err != nil {
		return err
	}

	tr = c.factory(c.accountID, addr)
	if err := tr.Start(ctx); err != nil {
		return err
	}
	updates := tr.Updates()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for upd := range updates {
			c.handleUpdate(upd)
		}
	}()
	err = tr.FetchOnce(ctx)
	tr.Stop()
	<-done
	return err
}

// watchTransport consumes the transport's update stream until Stop
// closes it.
func (c *Context) watchTransport(updates <-chan transport.Update) {
	for upd := range updates {
		c.handleUpdate(upd)
	}
}

func (c *Context) handleUpdate(upd transport.Update) {
	switch u := upd.(type) {
	case transport.TaskStatus:
		c.conn.Report(u.Task, u.Band)
	case transport.Inbound:
		if err := c.receiveInbound(u); err != nil {
			c.reportError(err)
		}
	case transport.MDN:
		c.receiveMDN(u)
	}
}

// receiveInbound stores one delivered message, creating the sender
// contact and its single-chat on demand. Messages from blocked contacts
// are dropped.
func (c *Context) receiveInbound(in transport.Inbound) error {
	db, err := c.store()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cid, err := db.LookupContactIDByAddr(in.From)
	if err != nil {
		return err
	}
	if cid == 0 {
		cid, err = db.CreateContact("", in.From)
		if err != nil {
			return err
		}
	}
	contact, err := db.GetContact(cid)
	if err != nil {
		return err
	}
	if contact.Blocked {
		c.logger.Debug("dropping message from blocked contact", zap.String("addr", in.From))
		return nil
	}

	chatID, err := db.SingleChatWithContact(cid)
	if err != nil {
		return err
	}
	if chatID == 0 {
		chatID, err = db.CreateChat(store.ChatSingle, contact.Name, cid)
		if err != nil {
			return err
		}
	}

	msg := &store.Msg{
		ChatID:    chatID,
		FromID:    cid,
		RemoteID:  in.RemoteID,
		Viewtype:  store.ViewtypeText,
		State:     store.StateInFresh,
		Subject:   in.Subject,
		Timestamp: in.Timestamp.Unix(),
	}

	if in.Partial {
		msg.DownloadState = store.DownloadAvailable
		msg.DownloadBytes = in.Bytes
	} else {
		plain, err := c.cipher.Decrypt(in.Body)
		if err != nil {
			msg.DownloadState = store.DownloadUndecipherable
		} else {
			msg.Text = string(plain)
		}
	}

	// Idempotent on the wire id: redelivery must not duplicate rows. A
	// message without one cannot be correlated and is always stored.
	if in.RemoteID != "" {
		if existing, err := db.GetMsgByRemoteID(in.RemoteID); err == nil && existing != nil {
			return nil
		}
	}

	mid, err := db.InsertMsg(msg)
	if err != nil {
		return err
	}
	c.emit(event.KindIncomingMsg, event.MsgInfo{ChatID: chatID, MsgID: mid})
	return nil
}

// receiveMDN advances the delivered message to mdn-received and reports
// it as read.
func (c *Context) receiveMDN(mdn transport.MDN) {
	db, err := c.store()
	if err != nil {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	m, err := db.AdvanceMsgStateByRemoteID(mdn.RemoteID, store.StateOutMdnRcvd)
	if err != nil || m == nil {
		return
	}
	c.emit(event.KindMsgRead, event.MsgInfo{ChatID: m.ChatID, MsgID: m.ID})
}

// schedulerLoop periodically drives a fetch cycle while I/O runs.
func (c *Context) schedulerLoop(ctx context.Context, tr transport.Transport) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := tr.FetchOnce(ctx); err != nil && ctx.Err() == nil {
				c.setLastErr(err)
			}
		case <-ctx.Done():
			return
		}
	}
}
