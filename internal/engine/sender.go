package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/id"
	"github.com/axi-im/axicore/internal/store"
	"github.com/axi-im/axicore/internal/transport"
)

// senderLoop drains pending outgoing messages while I/O runs. Messages
// stay durably queued in the store; a restart resumes where the previous
// run stopped.
func (c *Context) senderLoop(ctx context.Context, tr transport.Transport) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.processPending(ctx, tr)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Context) processPending(ctx context.Context, tr transport.Transport) {
	db, err := c.store()
	if err != nil {
		return
	}
	pending, err := db.PendingOutgoing()
	if err != nil {
		c.setLastErr(err)
		return
	}

	for _, msg := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := c.sendOne(ctx, tr, db, msg); err != nil {
			c.writeMu.Lock()
			if changed, uerr := db.AdvanceMsgState(msg.ID, store.StateOutFailed); uerr == nil && changed {
				c.emit(event.KindMsgFailed, event.MsgInfo{ChatID: msg.ChatID, MsgID: msg.ID})
			}
			c.writeMu.Unlock()
			c.reportError(fmt.Errorf("send msg %d: %w", msg.ID, err))
			continue
		}

		c.writeMu.Lock()
		if changed, uerr := db.AdvanceMsgState(msg.ID, store.StateOutDelivered); uerr == nil && changed {
			c.emit(event.KindMsgDelivered, event.MsgInfo{ChatID: msg.ChatID, MsgID: msg.ID})
		}
		c.writeMu.Unlock()
		c.logger.Info("message delivered",
			zap.Uint32("msg_id", uint32(msg.ID)),
			zap.String("remote_id", msg.RemoteID))
	}
}

func (c *Context) sendOne(ctx context.Context, tr transport.Transport, db *store.DB, msg store.Msg) error {
	members, err := db.ChatContacts(msg.ChatID)
	if err != nil {
		return err
	}
	var to []string
	for _, cid := range members {
		if cid == id.ContactSelf {
			continue
		}
		contact, err := db.GetContact(cid)
		if err != nil {
			continue
		}
		to = append(to, contact.Addr)
	}

	from := ""
	if addr, ok, _ := db.GetConfig("addr"); ok {
		from = addr
	}

	body, err := c.cipher.Encrypt([]byte(msg.Text))
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	return tr.Send(ctx, transport.Envelope{
		MsgID:    msg.ID,
		RemoteID: msg.RemoteID,
		From:     from,
		To:       to,
		Subject:  msg.Subject,
		Body:     body,
	})
}

// mintRemoteID builds an RFC-724-style wire message-id scoped to the
// account's address domain.
func mintRemoteID(uuidStr, addr string) string {
	domain := "localhost"
	if i := strings.LastIndex(addr, "@"); i >= 0 && i+1 < len(addr) {
		domain = addr[i+1:]
	}
	return fmt.Sprintf("%s@%s", uuidStr, domain)
}
