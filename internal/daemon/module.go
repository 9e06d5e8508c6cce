// Package daemon composes the engine into a long-running process: one
// accounts manager, background I/O for every account, and an event pump
// draining the shared emitter.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/axi-im/axicore/internal/accounts"
	"github.com/axi-im/axicore/internal/crypto"
	"github.com/axi-im/axicore/internal/event"
	"github.com/axi-im/axicore/internal/logging"
	"github.com/axi-im/axicore/internal/transport"
	"github.com/axi-im/axicore/internal/transport/loopback"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	AccountsDir  string
	NewTransport transport.Factory // optional; defaults to loopback
	Cipher       crypto.Cipher     // optional; defaults to passthrough
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideManager,
			NewPump,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.AccountsDir)
}

func provideManager(p Params, logger *zap.Logger) (*accounts.Manager, error) {
	factory := p.NewTransport
	if factory == nil {
		factory = loopback.Factory()
	}
	cipher := p.Cipher
	if cipher == nil {
		cipher = crypto.Passthrough{}
	}
	logger.Info("opening accounts", zap.String("dir", p.AccountsDir))
	m, err := accounts.New(accounts.Params{
		Dir:          p.AccountsDir,
		Writable:     true,
		Logger:       logger,
		NewTransport: factory,
		Cipher:       cipher,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("accounts opened", zap.Int("count", len(m.GetAll())))
	return m, nil
}

func registerLifecycle(lc fx.Lifecycle, m *accounts.Manager, pump *Pump, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			pump.Start()
			m.StartIO()
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			m.StopIO()
			m.Close()
			pump.Wait()
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// Pump drains the manager's shared emitter and logs every event. UIs
// replace this with their own consumer; the daemon itself only needs
// the queue to keep moving.
type Pump struct {
	emitter *event.Emitter
	logger  *zap.Logger
	done    chan struct{}
}

// NewPump creates an event pump over the manager's emitter.
func NewPump(m *accounts.Manager, logger *zap.Logger) *Pump {
	return &Pump{
		emitter: m.EventEmitter(),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start begins draining events in a background goroutine. The goroutine
// exits when the emitter closes.
func (p *Pump) Start() {
	go func() {
		defer close(p.done)
		for {
			ev, ok := p.emitter.Next(context.Background())
			if !ok {
				return
			}
			p.logEvent(ev)
		}
	}()
}

// Wait blocks until the pump goroutine has exited.
func (p *Pump) Wait() {
	<-p.done
}

func (p *Pump) logEvent(ev event.Event) {
	fields := []zap.Field{
		zap.Int("kind", int(ev.Kind)),
		zap.Uint32("account_id", uint32(ev.AccountID)),
	}
	switch pl := ev.Payload.(type) {
	case event.ErrorMsg:
		p.logger.Warn("engine error event", append(fields, zap.String("msg", pl.Msg))...)
		return
	case event.Overflow:
		p.logger.Warn("event queue overflowed", append(fields, zap.Int("dropped", pl.Dropped))...)
		return
	case event.MsgInfo:
		fields = append(fields,
			zap.Uint32("chat_id", uint32(pl.ChatID)),
			zap.Uint32("msg_id", uint32(pl.MsgID)))
	case event.ChatInfo:
		fields = append(fields, zap.Uint32("chat_id", uint32(pl.ChatID)))
	case event.Progress:
		fields = append(fields, zap.Int("permille", pl.Permille))
	}
	p.logger.Info("event", fields...)
}
