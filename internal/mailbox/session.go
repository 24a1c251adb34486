package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/config"
	"github.com/zacode/consultation-service/internal/domain"
)

var (
	errIdleTimeout  = errors.New("imap: no mailbox activity within idle timeout")
	errServerClosed = errors.New("imap: server ended the session")
)

// session is one authenticated connection with the folder selected.
type session interface {
	// Drain hands every unseen message to handle in UID order.
	Drain(ctx context.Context, handle Handler) error
	// Wait blocks until new mail may be available. A non-nil error ends the session.
	Wait(ctx context.Context) error
	Close() error
}

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Caps() imap.CapSet
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	Idle() (idleCommand, error)
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type idleCommand interface {
	Close() error
	Wait() error
}

type imapSession struct {
	client  imapClient
	cfg     config.MailboxConfig
	logger  *zap.Logger
	now     func() time.Time
	newMail chan struct{}
	idle    bool

	mu           sync.Mutex
	lastActivity time.Time
	stopWatch    func() bool
}

func newIMAPSession(client imapClient, cfg config.MailboxConfig, logger *zap.Logger) *imapSession {
	return &imapSession{
		client:       client,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		newMail:      make(chan struct{}, 1),
		lastActivity: time.Now(),
	}
}

// dialIMAP connects, authenticates and selects the configured folder. The
// connection is closed when ctx is done so blocked commands return.
func dialIMAP(ctx context.Context, cfg config.MailboxConfig, logger *zap.Logger) (session, error) {
	s := newIMAPSession(nil, cfg, logger)
	opts := &imapclient.Options{
		Dialer: &net.Dialer{Timeout: cfg.DialTimeout},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					s.signal()
				}
			},
		},
	}

	var (
		client *imapclient.Client
		err    error
	)
	addr := cfg.Addr()
	switch cfg.Security {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}
	s.client = &imapClientWrapper{Client: client}
	if err := s.open(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *imapSession) open(ctx context.Context) error {
	s.stopWatch = context.AfterFunc(ctx, func() { _ = s.client.Close() })

	if err := s.guard(func() error { return s.client.Login(s.cfg.Username, s.cfg.Password).Wait() }); err != nil {
		return fmt.Errorf("imap auth: %w", err)
	}
	folder := s.cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if err := s.guard(func() error {
		_, err := s.client.Select(folder, nil).Wait()
		return err
	}); err != nil {
		return fmt.Errorf("imap select %s: %w", folder, err)
	}
	s.idle = s.client.Caps().Has(imap.CapIdle)
	s.touch()
	return nil
}

// guard closes the connection when fn outlives the command timeout.
func (s *imapSession) guard(fn func() error) error {
	if s.cfg.CommandTimeout <= 0 {
		return fn()
	}
	timer := time.AfterFunc(s.cfg.CommandTimeout, func() {
		s.logger.Warn("imap command timed out, closing connection", zap.Duration("timeout", s.cfg.CommandTimeout))
		_ = s.client.Close()
	})
	defer timer.Stop()
	return fn()
}

func (s *imapSession) signal() {
	s.touch()
	select {
	case s.newMail <- struct{}{}:
	default:
	}
}

func (s *imapSession) touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

func (s *imapSession) idleDeadline() <-chan time.Time {
	if s.cfg.IdleTimeout <= 0 {
		return nil
	}
	s.mu.Lock()
	remaining := s.cfg.IdleTimeout - s.now().Sub(s.lastActivity)
	s.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	return time.After(remaining)
}

func (s *imapSession) Drain(ctx context.Context, handle Handler) error {
	// A signal raised from here on triggers another drain.
	select {
	case <-s.newMail:
	default:
	}

	var data *imap.SearchData
	err := s.guard(func() error {
		var err error
		data, err = s.client.UIDSearch(&imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}, nil).Wait()
		return err
	})
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := s.fetch(uid)
		if err != nil {
			return err
		}
		disposition := Consume
		if msg != nil {
			disposition = handle.Handle(ctx, msg)
		}
		if disposition == Retain {
			continue
		}
		if err := s.markSeen(uid); err != nil {
			return err
		}
	}
	return nil
}

// fetch returns nil without error for messages that cannot be decoded; the
// caller marks them seen so they do not come back.
func (s *imapSession) fetch(uid imap.UID) (*domain.InboundMessage, error) {
	var buffers []*imapclient.FetchMessageBuffer
	err := s.guard(func() error {
		var err error
		buffers, err = s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
			UID:          true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{{Peek: true}},
		}).Collect()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("imap fetch %d: %w", uid, err)
	}

	for _, buf := range buffers {
		var raw []byte
		for _, section := range buf.BodySection {
			if len(section.Bytes) > 0 {
				raw = section.Bytes
				break
			}
		}
		if raw == nil {
			continue
		}
		msg, err := Decode(raw, s.cfg.MaxBodyBytes)
		if err != nil {
			s.logger.Warn("undecodable message skipped", zap.Uint32("uid", uint32(uid)), zap.Error(err))
			return nil, nil
		}
		msg.UID = uint32(uid)
		msg.ReceivedAt = receivedAt(msg, buf.InternalDate, s.now)
		return msg, nil
	}
	s.logger.Warn("message vanished before fetch", zap.Uint32("uid", uint32(uid)))
	return nil, nil
}

func (s *imapSession) markSeen(uid imap.UID) error {
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	if err := s.guard(func() error { return s.client.Store(imap.UIDSetNum(uid), store, nil).Close() }); err != nil {
		return fmt.Errorf("imap store seen %d: %w", uid, err)
	}
	return nil
}

func (s *imapSession) Wait(ctx context.Context) error {
	if !s.idle {
		return s.poll(ctx)
	}

	cmd, err := s.client.Idle()
	if err != nil {
		return fmt.Errorf("imap idle: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	refresh := time.NewTimer(s.refreshInterval())
	defer refresh.Stop()

	var result error
	select {
	case <-s.newMail:
	case <-refresh.C:
	case <-s.idleDeadline():
		result = errIdleTimeout
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err == nil {
			err = errServerClosed
		}
		return fmt.Errorf("imap idle: %w", err)
	}

	if err := s.guard(func() error {
		if err := cmd.Close(); err != nil {
			return err
		}
		return <-done
	}); err != nil && result == nil {
		result = fmt.Errorf("imap idle done: %w", err)
	}
	return result
}

func (s *imapSession) poll(ctx context.Context) error {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.newMail:
		return nil
	case <-timer.C:
		return nil
	}
}

func (s *imapSession) refreshInterval() time.Duration {
	if s.cfg.IdleRefresh > 0 {
		return s.cfg.IdleRefresh
	}
	return 25 * time.Minute
}

func (s *imapSession) Close() error {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.client == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.client.Logout().Wait()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	return s.client.Close()
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
func (w *imapClientWrapper) Idle() (idleCommand, error) {
	return w.Client.Idle()
}
