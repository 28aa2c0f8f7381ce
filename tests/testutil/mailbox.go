package testutil

import (
	"context"
	"sync"

	"github.com/nhle/mailwatch/internal/source"
)

// FakeMailbox is an in-memory source.Dialer holding a single mailbox.
// It is safe for concurrent use.
type FakeMailbox struct {
	mu       sync.Mutex
	account  string
	secret   string
	uids     []string
	headers  map[string]source.Header
	vanished map[string]bool
	openErr  error
	hang     bool
	opens    int
	closes   int
}

var _ source.Dialer = (*FakeMailbox)(nil)

// NewFakeMailbox returns an empty mailbox that accepts only the given
// credentials.
func NewFakeMailbox(account, secret string) *FakeMailbox {
	return &FakeMailbox{
		account:  account,
		secret:   secret,
		headers:  make(map[string]source.Header),
		vanished: make(map[string]bool),
	}
}

// Append adds a message with the given UID and subject as the newest.
func (m *FakeMailbox) Append(uid, subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uids = append(m.uids, uid)
	m.headers[uid] = source.Header{
		UID:     uid,
		Subject: subject,
		From:    "sender@example.com",
		Date:    "Mon, 01 Jan 2024 12:00:00 +0000",
	}
}

// Vanish keeps uid in listings but makes header fetches for it report
// the message as gone.
func (m *FakeMailbox) Vanish(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vanished[uid] = true
}

// FailOpen makes every Open return err until it is called with nil.
func (m *FakeMailbox) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// Hang makes Open block until its context ends.
func (m *FakeMailbox) Hang(hang bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang = hang
}

// Opens returns the number of Open calls that produced a session.
func (m *FakeMailbox) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// OpenSessions returns the number of sessions not yet closed.
func (m *FakeMailbox) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens - m.closes
}

// Open implements source.Dialer.
func (m *FakeMailbox) Open(
	ctx context.Context, account, secret string,
) (source.Session, error) {
	m.mu.Lock()
	hang, openErr := m.hang, m.openErr
	m.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, &source.NetworkError{Op: "dial", Err: ctx.Err()}
	}
	if openErr != nil {
		return nil, openErr
	}
	if account != m.account || secret != m.secret {
		return nil, &source.AuthError{
			Account: account,
			Message: "Invalid credentials. Use a Gmail App Password.",
		}
	}

	m.mu.Lock()
	m.opens++
	m.mu.Unlock()
	return &fakeSession{mailbox: m}, nil
}

type fakeSession struct {
	mailbox *FakeMailbox
	once    sync.Once
}

func (s *fakeSession) ListUIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &source.NetworkError{Op: "search", Err: err}
	}
	s.mailbox.mu.Lock()
	defer s.mailbox.mu.Unlock()
	return append([]string(nil), s.mailbox.uids...), nil
}

func (s *fakeSession) FetchHeader(
	ctx context.Context, uid string,
) (*source.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, &source.NetworkError{Op: "fetch", Err: err}
	}
	s.mailbox.mu.Lock()
	defer s.mailbox.mu.Unlock()

	if s.mailbox.vanished[uid] {
		return nil, nil
	}
	h, ok := s.mailbox.headers[uid]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.mailbox.mu.Lock()
		s.mailbox.closes++
		s.mailbox.mu.Unlock()
	})
	return nil
}
