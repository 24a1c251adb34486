package mailbox

import (
	"errors"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

type fakeIMAPClient struct {
	mu sync.Mutex

	uids         []imap.UID
	bodies       map[imap.UID][]byte
	internalDate map[imap.UID]time.Time
	caps         imap.CapSet

	loginErr  error
	selectErr error
	searchErr error
	fetchErr  error
	storeErr  error
	idleErr   error

	seen   []imap.UID
	idles  []*fakeIdle
	closed bool
}

func firstUID(set imap.NumSet) imap.UID {
	if uids, ok := set.(imap.UIDSet); ok && len(uids) > 0 {
		return uids[0].Start
	}
	return 0
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter          { return &fakeCommand{} }
func (c *fakeIMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
func (c *fakeIMAPClient) Caps() imap.CapSet { return c.caps }
func (c *fakeIMAPClient) Select(_ string, _ *imap.SelectOptions) selectWaiter {
	return &fakeSelect{err: c.selectErr}
}
func (c *fakeIMAPClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	var unseen []imap.UID
	for _, uid := range c.uids {
		if !c.isSeen(uid) {
			unseen = append(unseen, uid)
		}
	}
	return &fakeSearch{err: c.searchErr, data: &imap.SearchData{All: imap.UIDSetNum(unseen...)}}
}
func (c *fakeIMAPClient) Fetch(set imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	if c.fetchErr != nil {
		return &fakeFetch{err: c.fetchErr}
	}
	uid := firstUID(set)
	body, ok := c.bodies[uid]
	if !ok {
		return &fakeFetch{}
	}
	return &fakeFetch{bufs: []*imapclient.FetchMessageBuffer{{
		UID:          uid,
		InternalDate: c.internalDate[uid],
		BodySection: []imapclient.FetchBodySectionBuffer{{
			Section: &imap.FetchItemBodySection{Peek: true},
			Bytes:   append([]byte(nil), body...),
		}},
	}}}
}
func (c *fakeIMAPClient) Store(set imap.NumSet, store *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeErr == nil && store != nil && store.Op == imap.StoreFlagsAdd {
		c.seen = append(c.seen, firstUID(set))
	}
	return &fakeFetch{err: c.storeErr}
}
func (c *fakeIMAPClient) Idle() (idleCommand, error) {
	if c.idleErr != nil {
		return nil, c.idleErr
	}
	idle := &fakeIdle{done: make(chan struct{})}
	c.mu.Lock()
	c.idles = append(c.idles, idle)
	c.mu.Unlock()
	return idle, nil
}

func (c *fakeIMAPClient) isSeen(uid imap.UID) bool {
	for _, s := range c.seen {
		if s == uid {
			return true
		}
	}
	return false
}

func (c *fakeIMAPClient) seenUIDs() []imap.UID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]imap.UID(nil), c.seen...)
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct{ err error }

func (s *fakeSelect) Wait() (*imap.SelectData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &imap.SelectData{}, nil
}

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }

type fakeIdle struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (i *fakeIdle) Close() error {
	i.once.Do(func() { close(i.done) })
	return nil
}

func (i *fakeIdle) Wait() error {
	<-i.done
	return i.err
}

// drop simulates the server terminating IDLE.
func (i *fakeIdle) drop(err error) {
	i.err = err
	i.once.Do(func() { close(i.done) })
}

var errDropped = errors.New("connection reset by peer")
