// Package engine implements the per-account Context: the runtime handle
// owning one account's store, connectivity state and background I/O
// lifecycle, and bridging store mutations to emitted events.
package engine

import (
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/axi-im/axicore/internal/connectivity"
	"github.com/axi-im/axicore/internal/crypto"
	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/id"
	"github.com/axi-im/axicore/internal/store"
	"github.com/axi-im/axicore/internal/transport"
)

// Config keys understood by SetConfig. The bool marks keys that affect
// background I/O and therefore cannot change while I/O is running.
var configKeys = map[string]bool{
	"addr":                true,
	"mail_server":         true,
	"mail_port":           true,
	"send_server":         true,
	"send_port":           true,
	"displayname":         false,
	"selfstatus":          false,
	"mdns_enabled":        false,
	"e2ee_enabled":        false,
	"bcc_self":            false,
	"download_limit":      false,
	"delete_server_after": false,
}

var boolConfigKeys = map[string]bool{
	"mdns_enabled": true,
	"e2ee_enabled": true,
	"bcc_self":     true,
}

const configuredKey = "configured"

// Params carries everything a Context needs at creation.
type Params struct {
	AccountID    id.Account
	DBPath       string
	Logger       *zap.Logger
	Emitter      *event.Emitter    // shared fan-in emitter; nil means own one
	NewTransport transport.Factory // nil means no transport (I/O stays off)
	Cipher       crypto.Cipher     // nil means passthrough
}

// Context is the runtime handle for one account. It is shared by
// reference across holders; Close tears it down.
type Context struct {
	accountID  id.Account
	dbPath     string
	logger     *zap.Logger
	emitter    *event.Emitter
	ownEmitter bool
	factory    transport.Factory
	cipher     crypto.Cipher
	conn       *connectivity.Tracker

	mu          sync.Mutex // guards db, configuring and io state below
	db          *store.DB
	configuring bool

	// writeMu serializes store mutations and their event emission so
	// events leave in commit order.
	writeMu sync.Mutex

	errMu   sync.Mutex
	lastErr string

	io ioState
}

// New creates and immediately opens an unencrypted context.
func New(p Params) (*Context, error) {
	c := newContext(p)
	if err := c.Open(""); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// NewClosed creates a context whose store stays closed until Open
// succeeds with the correct passphrase.
func NewClosed(p Params) *Context {
	return newContext(p)
}

func newContext(p Params) *Context {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Uint32("account_id", uint32(p.AccountID)))

	cipher := p.Cipher
	if cipher == nil {
		cipher = crypto.Passthrough{}
	}

	emitter := p.Emitter
	own := false
	if emitter == nil {
		emitter = event.NewEmitter(event.DefaultCapacity)
		own = true
	}

	c := &Context{
		accountID:  p.AccountID,
		dbPath:     p.DBPath,
		logger:     logger,
		emitter:    emitter,
		ownEmitter: own,
		factory:    p.NewTransport,
		cipher:     cipher,
	}
	c.conn = connectivity.NewTracker(func(connectivity.Band) {
		c.emit(event.KindConnectivity, event.Connectivity{})
	})
	return c
}

// AccountID returns the account this context belongs to.
func (c *Context) AccountID() id.Account { return c.accountID }

// Emitter returns the context's event emitter.
func (c *Context) Emitter() *event.Emitter { return c.emitter }

// IsOpen reports whether the store is accessible.
func (c *Context) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db != nil
}

// Open unlocks the context. On a fresh closed account a non-empty
// passphrase installs the lock; afterwards the same passphrase is
// required. Opening an already-open context is a no-op success.
func (c *Context) Open(passphrase string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	db, err := store.Open(c.dbPath)
	if err != nil {
		c.setLastErr(err)
		return fmt.Errorf("open account db: %w", err)
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		c.setLastErr(err)
		return fmt.Errorf("migrate account db: %w", err)
	}

	locked, err := db.HasPassphrase()
	if err != nil {
		_ = db.Close()
		return err
	}
	if locked {
		ok, err := db.CheckPassphrase(passphrase)
		if err != nil {
			_ = db.Close()
			return err
		}
		if !ok {
			_ = db.Close()
			c.setLastErr(ErrBadPassphrase)
			return ErrBadPassphrase
		}
	} else if passphrase != "" {
		if err := db.SetPassphrase(passphrase); err != nil {
			_ = db.Close()
			return fmt.Errorf("install passphrase: %w", err)
		}
	}

	c.db = db
	c.logger.Info("context opened", zap.String("db", c.dbPath))
	return nil
}

// ChangePassphrase replaces the account passphrase. All-or-nothing: on
// failure the prior passphrase keeps working.
func (c *Context) ChangePassphrase(passphrase string) error {
	db, err := c.store()
	if err != nil {
		return err
	}
	if err := db.SetPassphrase(passphrase); err != nil {
		c.setLastErr(err)
		return fmt.Errorf("change passphrase: %w", err)
	}
	return nil
}

// IsConfigured reports whether account setup has completed.
func (c *Context) IsConfigured() bool {
	db, err := c.store()
	if err != nil {
		return false
	}
	v, ok, err := db.GetConfig(configuredKey)
	return err == nil && ok && v == "1"
}

// SetConfig validates and persists a configuration entry. Keys that
// affect background I/O are rejected while I/O runs.
func (c *Context) SetConfig(key, value string) error {
	db, err := c.store()
	if err != nil {
		return err
	}

	ioAffecting, known := configKeys[key]
	if !known {
		c.setLastErr(fmt.Errorf("%w: %q", ErrConfigKey, key))
		return fmt.Errorf("%w: %q", ErrConfigKey, key)
	}
	if ioAffecting && c.ioRunning() {
		return fmt.Errorf("%w: %q", ErrIORunning, key)
	}
	if boolConfigKeys[key] && value != "0" && value != "1" {
		return fmt.Errorf("%w: %q must be 0 or 1", ErrConfigValue, key)
	}
	if key == "download_limit" || key == "mail_port" || key == "send_port" || key == "delete_server_after" {
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("%w: %q must be numeric", ErrConfigValue, key)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := db.SetConfig(key, value); err != nil {
		c.setLastErr(err)
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// GetConfig returns a configuration value; ok is false when the key was
// never set.
func (c *Context) GetConfig(key string) (value string, ok bool, err error) {
	db, err := c.store()
	if err != nil {
		return "", false, err
	}
	return db.GetConfig(key)
}

// Configure triggers account setup asynchronously. Progress arrives only
// via CONFIGURE_PROGRESS events: 0 failed, 1..999 in progress, 1000
// success. Concurrent calls while a configure is running are coalesced.
func (c *Context) Configure() {
	c.mu.Lock()
	if c.configuring {
		c.mu.Unlock()
		return
	}
	if c.db == nil {
		c.mu.Unlock()
		c.setLastErr(ErrClosed)
		c.emit(event.KindConfigureProgress, event.Progress{Permille: 0, Comment: ErrClosed.Error()})
		return
	}
	c.configuring = true
	c.mu.Unlock()

	go c.runConfigure()
}

func (c *Context) runConfigure() {
	defer func() {
		c.mu.Lock()
		c.configuring = false
		c.mu.Unlock()
	}()

	progress := func(permille int, comment string) {
		c.emit(event.KindConfigureProgress, event.Progress{Permille: permille, Comment: comment})
	}

	db, err := c.store()
	if err != nil {
		progress(0, err.Error())
		return
	}

	progress(100, "reading configuration")
	addr, ok, err := db.GetConfig("addr")
	if err != nil || !ok || addr == "" {
		c.setLastErr(fmt.Errorf("configure: addr not set"))
		progress(0, "addr not set")
		return
	}

	progress(600, "provisioning account")
	name, _, _ := db.GetConfig("displayname")

	c.writeMu.Lock()
	err = db.CreateContactWithID(id.ContactSelf, name, addr)
	if err == nil {
		err = db.SetConfig(configuredKey, "1")
	}
	c.writeMu.Unlock()
	if err != nil {
		c.setLastErr(err)
		progress(0, err.Error())
		return
	}

	c.logger.Info("account configured", zap.String("addr", addr))
	progress(1000, "")
}

// Connectivity returns the current aggregate band.
func (c *Context) Connectivity() connectivity.Band {
	return c.conn.Aggregate()
}

// LastError returns the most recent failure description. Overwritten on
// each failure, never accumulated.
func (c *Context) LastError() string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Context) setLastErr(err error) {
	c.errMu.Lock()
	c.lastErr = err.Error()
	c.errMu.Unlock()
}

// Close stops I/O, closes the store and, when the context owns its
// emitter, tears it down. Idempotent.
func (c *Context) Close() {
	c.StopIO()

	c.mu.Lock()
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("closing account db", zap.Error(err))
		}
		c.db = nil
	}
	c.mu.Unlock()

	if c.ownEmitter {
		c.emitter.Close()
	}
}

// store returns the open database or ErrClosed.
func (c *Context) store() (*store.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, ErrClosed
	}
	return c.db, nil
}

func (c *Context) emit(kind event.Kind, payload any) {
	c.emitter.Enqueue(event.New(kind, c.accountID, payload))
}

// reportError records a background failure and reports it via an ERROR
// event, never as a synchronous error.
func (c *Context) reportError(err error) {
	c.setLastErr(err)
	c.logger.Error("background failure", zap.Error(err))
	c.emit(event.KindError, event.ErrorMsg{Msg: err.Error()})
}
