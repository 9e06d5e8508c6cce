// Package accounts implements the multi-account registry: it creates,
// opens, closes and destroys isolated account contexts and multiplexes
// their lifecycle and event streams.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/axi-im/axicore/internal/config"
	"github.com/axi-im/axicore/internal/crypto"
	"github.com/axi-im/axicore/internal/engine"
	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/id"
	"github.com/axi-im/axicore/internal/lock"
	"github.com/axi-im/axicore/internal/transport"
)

// ErrMigration is returned when a source database cannot be imported.
var ErrMigration = errors.New("accounts: cannot migrate database")

// ErrReadOnly is returned by mutating operations on a read-only manager.
var ErrReadOnly = errors.New("accounts: manager is read-only")

// Params carries the manager's collaborators.
type Params struct {
	Dir          string
	Writable     bool
	Logger       *zap.Logger
	NewTransport transport.Factory
	Cipher       crypto.Cipher
}

// Manager owns a directory of contexts keyed by account id. One shared
// emitter fans in events from every child context.
type Manager struct {
	dir      string
	writable bool
	logger   *zap.Logger
	lk       *lock.Lock
	emitter  *event.Emitter
	factory  transport.Factory
	cipher   crypto.Cipher

	mu       sync.Mutex
	registry *config.Registry
	contexts map[id.Account]*engine.Context
	order    []id.Account

	// startStopMu coalesces concurrent StartIO/StopIO: a stop issued
	// while a start runs waits for the start to settle, then stops.
	startStopMu sync.Mutex
}

// New creates a manager rooted at dir, reopening every account recorded
// in the registry. With writable=false no locks are taken and all
// mutating operations fail.
func New(p Params) (*Manager, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(p.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create accounts dir: %w", err)
	}

	var lk *lock.Lock
	if p.Writable {
		var err error
		lk, err = lock.Acquire(p.Dir)
		if err != nil {
			return nil, err
		}
	}

	reg, err := config.LoadRegistry(p.Dir)
	if err != nil {
		_ = lk.Release()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	m := &Manager{
		dir:      p.Dir,
		writable: p.Writable,
		logger:   logger,
		lk:       lk,
		emitter:  event.NewEmitter(event.DefaultCapacity),
		factory:  p.NewTransport,
		cipher:   p.Cipher,
		registry: reg,
		contexts: make(map[id.Account]*engine.Context),
	}

	for _, entry := range reg.Accounts {
		accID := id.Account(entry.ID)
		params := m.contextParams(accID, entry.Dir)
		if entry.Closed {
			m.contexts[accID] = engine.NewClosed(params)
		} else {
			ctx, err := engine.New(params)
			if err != nil {
				logger.Error("reopening account", zap.Uint32("account_id", entry.ID), zap.Error(err))
				m.contexts[accID] = engine.NewClosed(params)
			} else {
				m.contexts[accID] = ctx
			}
		}
		m.order = append(m.order, accID)
	}

	return m, nil
}

func (m *Manager) contextParams(accID id.Account, subdir string) engine.Params {
	return engine.Params{
		AccountID:    accID,
		DBPath:       filepath.Join(m.dir, subdir, "axi.db"),
		Logger:       m.logger,
		Emitter:      m.emitter,
		NewTransport: m.factory,
		Cipher:       m.cipher,
	}
}

// AddAccount allocates a fresh account id with an empty open context.
func (m *Manager) AddAccount() (id.Account, error) {
	return m.addAccount(false)
}

// AddClosedAccount allocates a fresh account id whose context stays
// closed until Open succeeds.
func (m *Manager) AddClosedAccount() (id.Account, error) {
	return m.addAccount(true)
}

func (m *Manager) addAccount(closed bool) (id.Account, error) {
	if !m.writable {
		return 0, ErrReadOnly
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	accID := id.Account(m.registry.NextID)
	subdir := fmt.Sprintf("acc%d", accID)
	dstDir := filepath.Join(m.dir, subdir)
	if err := os.MkdirAll(dstDir, 0700); err != nil {
		return 0, fmt.Errorf("create account dir: %w", err)
	}

	params := m.contextParams(accID, subdir)
	var ctx *engine.Context
	if closed {
		ctx = engine.NewClosed(params)
	} else {
		var err error
		ctx, err = engine.New(params)
		if err != nil {
			_ = os.RemoveAll(dstDir)
			return 0, err
		}
	}

	m.registry.NextID++
	m.registry.Accounts = append(m.registry.Accounts, config.Entry{
		ID: uint32(accID), Dir: subdir, Closed: closed,
	})
	if err := config.SaveRegistry(m.dir, m.registry); err != nil {
		ctx.Close()
		m.registry.Remove(uint32(accID))
		_ = os.RemoveAll(dstDir)
		return 0, fmt.Errorf("save registry: %w", err)
	}

	m.contexts[accID] = ctx
	m.order = append(m.order, accID)
	m.logger.Info("account added", zap.Uint32("account_id", uint32(accID)), zap.Bool("closed", closed))
	return accID, nil
}

// MigrateAccount imports an existing single-account database into the
// manager's directory and returns its new account id.
func (m *Manager) MigrateAccount(dbFile string) (id.Account, error) {
	if !m.writable {
		return 0, ErrReadOnly
	}
	abs, err := filepath.Abs(dbFile)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMigration, err)
	}
	absDir, _ := filepath.Abs(m.dir)
	if strings.HasPrefix(abs, absDir+string(filepath.Separator)) {
		return 0, fmt.Errorf("%w: %q is already tracked by this manager", ErrMigration, dbFile)
	}
	if err := validateAccountDB(abs); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMigration, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accID := id.Account(m.registry.NextID)
	subdir := fmt.Sprintf("acc%d", accID)
	dstDir := filepath.Join(m.dir, subdir)
	if err := os.MkdirAll(dstDir, 0700); err != nil {
		return 0, fmt.Errorf("create account dir: %w", err)
	}
	if err := copyFile(abs, filepath.Join(dstDir, "axi.db")); err != nil {
		_ = os.RemoveAll(dstDir)
		return 0, fmt.Errorf("copy database: %w", err)
	}

	// A copy that cannot be opened (locked, corrupted past the schema
	// check) must not leave its database squatting on the next free
	// account slot.
	ctx, err := engine.New(m.contextParams(accID, subdir))
	if err != nil {
		_ = os.RemoveAll(dstDir)
		return 0, fmt.Errorf("%w: %v", ErrMigration, err)
	}

	m.registry.NextID++
	m.registry.Accounts = append(m.registry.Accounts, config.Entry{ID: uint32(accID), Dir: subdir})
	if err := config.SaveRegistry(m.dir, m.registry); err != nil {
		ctx.Close()
		m.registry.Remove(uint32(accID))
		_ = os.RemoveAll(dstDir)
		return 0, fmt.Errorf("save registry: %w", err)
	}

	m.contexts[accID] = ctx
	m.order = append(m.order, accID)
	m.logger.Info("account migrated", zap.Uint32("account_id", uint32(accID)), zap.String("source", dbFile))
	return accID, nil
}

// validateAccountDB opens the candidate read-only and checks it carries
// an account schema.
func validateAccountDB(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name IN ('config', 'chats', 'msgs', 'contacts')`).Scan(&n)
	if err != nil {
		return err
	}
	if n != 4 {
		return fmt.Errorf("%q is not an account database", path)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}

// RemoveAccount stops the account's I/O, releases its context and
// deletes its storage. An unknown id is reported but never crashes the
// manager; other accounts stay untouched.
func (m *Manager) RemoveAccount(accID id.Account) error {
	if !m.writable {
		return ErrReadOnly
	}
	m.mu.Lock()
	ctx, ok := m.contexts[accID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("remove of unknown account", zap.Uint32("account_id", uint32(accID)))
		return nil
	}
	subdir := fmt.Sprintf("acc%d", accID)
	if entry := m.registry.Find(uint32(accID)); entry != nil {
		subdir = entry.Dir
	}
	delete(m.contexts, accID)
	for i, a := range m.order {
		if a == accID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.registry.Remove(uint32(accID))
	saveErr := config.SaveRegistry(m.dir, m.registry)
	m.mu.Unlock()

	ctx.Close()
	if err := os.RemoveAll(filepath.Join(m.dir, subdir)); err != nil {
		m.logger.Warn("deleting account storage", zap.Error(err))
	}
	if saveErr != nil {
		return fmt.Errorf("save registry: %w", saveErr)
	}
	m.logger.Info("account removed", zap.Uint32("account_id", uint32(accID)))
	return nil
}

// GetAll returns all known account ids in insertion order.
func (m *Manager) GetAll() []id.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]id.Account, len(m.order))
	copy(out, m.order)
	return out
}

// GetAccount returns the shared context handle for an account id, or
// nil when unknown.
func (m *Manager) GetAccount(accID id.Account) *engine.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[accID]
}

// StartIO starts background I/O for every managed context. Idempotent.
func (m *Manager) StartIO() {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()
	for _, ctx := range m.snapshot() {
		ctx.StartIO()
	}
}

// StopIO stops background I/O for every managed context. Idempotent and
// safe to call concurrently with StartIO.
func (m *Manager) StopIO() {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()
	for _, ctx := range m.snapshot() {
		ctx.StopIO()
	}
}

// MaybeNetwork hints that network reachability returned. Never blocks.
func (m *Manager) MaybeNetwork() {
	for _, ctx := range m.snapshot() {
		ctx.MaybeNetwork()
	}
}

// MaybeNetworkLost hints that network reachability went away.
func (m *Manager) MaybeNetworkLost() {
	for _, ctx := range m.snapshot() {
		ctx.MaybeNetworkLost()
	}
}

// BackgroundFetch drives one fetch-and-idle cycle across all accounts
// and blocks until all are idle or the timeout elapses. Reports whether
// every account finished in time. Completion is also reported via an
// ACCOUNTS_BACKGROUND_FETCH_DONE event.
func (m *Manager) BackgroundFetch(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, c := range m.snapshot() {
		wg.Add(1)
		go func(c *engine.Context) {
			defer wg.Done()
			if err := c.BackgroundFetch(ctx); err != nil {
				m.logger.Warn("background fetch",
					zap.Uint32("account_id", uint32(c.AccountID())), zap.Error(err))
			}
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	completed := false
	select {
	case <-done:
		completed = true
	case <-ctx.Done():
	}
	m.emitter.Enqueue(event.New(event.KindBackgroundFetchDone, 0, nil))
	return completed
}

// SetPushDeviceToken records the device token handed to the external
// push relay.
func (m *Manager) SetPushDeviceToken(token string) error {
	if !m.writable {
		return ErrReadOnly
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.PushDeviceToken = token
	return config.SaveRegistry(m.dir, m.registry)
}

// EventEmitter returns the manager-wide emitter fanning in events from
// every managed context, each tagged with its originating account id.
func (m *Manager) EventEmitter() *event.Emitter {
	return m.emitter
}

// Close stops all I/O, closes every context and tears down the emitter.
func (m *Manager) Close() {
	m.StopIO()

	m.mu.Lock()
	ctxs := make([]*engine.Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		ctxs = append(ctxs, c)
	}
	m.contexts = make(map[id.Account]*engine.Context)
	m.order = nil
	m.mu.Unlock()

	for _, c := range ctxs {
		c.Close()
	}
	m.emitter.Close()
	if err := m.lk.Release(); err != nil {
		m.logger.Warn("releasing accounts lock", zap.Error(err))
	}
}

func (m *Manager) snapshot() []*engine.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*engine.Context, 0, len(m.order))
	for _, accID := range m.order {
		out = append(out, m.contexts[accID])
	}
	return out
}
