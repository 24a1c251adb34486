// Package mailbox watches the support mailbox and feeds new messages to a
// Handler, reconnecting after every failure until stopped.
package mailbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/config"
	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/observability"
)

type dialFunc func(ctx context.Context) (session, error)

// Listener supervises one mailbox connection at a time.
type Listener struct {
	cfg     config.MailboxConfig
	handler Handler
	logger  *zap.Logger
	metrics *observability.Metrics
	backoff Backoff
	dial    dialFunc
	sleep   func(ctx context.Context, d time.Duration) error

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Listener.
type Option func(*Listener)

// WithBackoff overrides the reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(l *Listener) {
		l.backoff = b
	}
}

// WithMetrics records listener state and reconnects.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Listener) {
		l.metrics = m
	}
}

func withDialer(d dialFunc) Option {
	return func(l *Listener) {
		l.dial = d
	}
}

func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Listener) {
		l.sleep = sleep
	}
}

// NewListener builds a listener for cfg. Nothing connects until Start.
func NewListener(cfg config.MailboxConfig, handler Handler, logger *zap.Logger, opts ...Option) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(zap.String("component", "mailbox"), zap.String("folder", cfg.Folder)),
		backoff: BackoffFromConfig(cfg),
		sleep:   sleepCtx,
	}
	l.dial = func(ctx context.Context) (session, error) {
		return dialIMAP(ctx, l.cfg, l.logger)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State reports the current connection state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.metrics.SetListenerState(s.String())
		l.logger.Debug("listener state", zap.String("state", s.String()))
	}
}

// Start launches the supervisor loop. Calling Start while running first tears
// down the previous connection.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go func() {
		defer close(done)
		l.run(runCtx)
	}()
}

// Stop cancels the loop and waits for the connection to close.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *Listener) stopLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
}

// Run starts the listener and blocks until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	l.Start(ctx)
	<-ctx.Done()
	l.Stop()
	return nil
}

func (l *Listener) run(ctx context.Context) {
	defer l.setState(StateDisconnected)
	attempt := 0
	for {
		l.setState(StateConnecting)
		sess, err := l.dial(ctx)
		if err == nil {
			l.logger.Info("mailbox connected", zap.String("addr", l.cfg.Addr()))
			attempt = 0
			err = l.serve(ctx, sess)
			if cerr := sess.Close(); cerr != nil {
				l.logger.Debug("mailbox close", zap.Error(cerr))
			}
		}
		l.setState(StateDisconnected)
		if ctx.Err() != nil {
			l.logger.Info("mailbox listener stopped")
			return
		}

		delay := l.backoff.Next(attempt)
		attempt++
		l.metrics.RecordReconnect()
		l.logger.Warn("mailbox connection lost, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := l.sleep(ctx, delay); err != nil {
			l.logger.Info("mailbox listener stopped")
			return
		}
	}
}

func (l *Listener) serve(ctx context.Context, sess session) error {
	l.setState(StateReady)
	handler := HandlerFunc(l.handle)
	for {
		if err := sess.Drain(ctx, handler); err != nil {
			return err
		}
		if err := sess.Wait(ctx); err != nil {
			return err
		}
	}
}

// handle runs the handler for one message. A panicking handler consumes the
// message so it cannot stall the mailbox.
func (l *Listener) handle(ctx context.Context, msg *domain.InboundMessage) (disposition Disposition) {
	l.setState(StateProcessing)
	defer l.setState(StateReady)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("message handler panicked",
				zap.Uint32("uid", msg.UID),
				zap.String("message_id", msg.MessageID),
				zap.Error(fmt.Errorf("%v", r)))
			disposition = Consume
		}
	}()
	if l.handler == nil {
		return Retain
	}
	return l.handler.Handle(ctx, msg)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
