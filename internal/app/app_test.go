package app

import (
	"errors"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/logging"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/store"
	appsync "github.com/nhle/mailwatch/internal/sync"
	"github.com/nhle/mailwatch/tests/testutil"
)

type fakeAlert struct {
	mu    gosync.Mutex
	plays int
	stops int
	err   error
}

func (a *fakeAlert) Play() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plays++
	return a.err
}

func (a *fakeAlert) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
}

func (a *fakeAlert) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plays, a.stops
}

func newDeps(t *testing.T, mb *testutil.FakeMailbox) (Deps, *fakeAlert) {
	t.Helper()
	dir := t.TempDir()
	cfg := model.DefaultAppConfig()
	cfg.Monitor.PollIntervalSec = 3600
	cfg.State.Path = filepath.Join(dir, "watcher_state.json")

	alert := &fakeAlert{}
	return Deps{
		Config:      cfg,
		ConfigPath:  filepath.Join(dir, "config.yaml"),
		Dialer:      mb,
		State:       store.NewFileStore(cfg.State.Path, logging.Discard()),
		Credentials: credential.NewFileStore(filepath.Join(dir, "credentials.json")),
		Alert:       alert,
		Logger:      logging.Discard(),
	}, alert
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	got, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return got, cmd
}

func TestNewMailNotifier(t *testing.T) {
	ch := make(chan source.Header, 1)
	alert := &fakeAlert{}
	cb := newMailNotifier(ch, alert, logging.Discard())

	if err := cb(source.Header{UID: "1"}); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	// The queue is full; the notice is dropped without blocking.
	if err := cb(source.Header{UID: "2"}); err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if h := <-ch; h.UID != "1" {
		t.Fatalf("queued UID = %s, want 1", h.UID)
	}
	if plays, _ := alert.counts(); plays != 2 {
		t.Fatalf("plays = %d, want 2", plays)
	}

	alert.err = errors.New("no player")
	if err := cb(source.Header{UID: "3"}); err == nil || !strings.Contains(err.Error(), "no player") {
		t.Fatalf("callback error = %v, want the player failure", err)
	}
}

func TestWaitForNewMail(t *testing.T) {
	s := &session{gen: 7, newMail: make(chan source.Header, 1), done: make(chan struct{})}
	s.newMail <- source.Header{UID: "9"}

	msg, ok := waitForNewMail(s)().(newMailMsg)
	if !ok || msg.gen != 7 || msg.header.UID != "9" {
		t.Fatalf("waitForNewMail() = %+v", msg)
	}

	close(s.done)
	if msg := waitForNewMail(s)(); msg != nil {
		t.Fatalf("waitForNewMail() after the session ended = %v, want nil", msg)
	}
}

func TestNoSavedLoginShowsLoginScreen(t *testing.T) {
	deps, _ := newDeps(t, testutil.NewFakeMailbox("me@example.com", "pw"))
	m := New(deps)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	msg := loadCredentials(deps.Credentials)()
	m, _ = update(t, m, msg)

	if m.currentView != ViewLogin || m.checking {
		t.Fatalf("view = %v checking = %v, want the login form", m.currentView, m.checking)
	}
	if !strings.Contains(m.View(), "App Password") {
		t.Fatalf("login form not rendered:\n%s", m.View())
	}
}

func TestRejectedSavedLogin(t *testing.T) {
	mb := testutil.NewFakeMailbox("me@example.com", "new-password")
	deps, _ := newDeps(t, mb)
	m := New(deps)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	msg := checkSavedLogin(mb, credential.Credentials{Email: "me@example.com", Password: "old"})()
	m, _ = update(t, m, msg)

	if m.currentView != ViewLogin || m.session != nil {
		t.Fatalf("expected the login screen without a session, got view %v", m.currentView)
	}
	if !strings.Contains(m.View(), "Saved login was rejected") {
		t.Fatalf("rejection not shown:\n%s", m.View())
	}
}

func TestSavedLoginUnreachableStillStarts(t *testing.T) {
	mb := testutil.NewFakeMailbox("me@example.com", "pw")
	mb.FailOpen(&source.NetworkError{Op: "dial", Err: errors.New("offline")})

	msg, ok := checkSavedLogin(mb, credential.Credentials{Email: "me@example.com", Password: "pw"})().(autoLoginCheckedMsg)
	if !ok || msg.err != nil {
		t.Fatalf("checkSavedLogin() = %+v, want no rejection", msg)
	}
}

func TestSessionLifecycle(t *testing.T) {
	mb := testutil.NewFakeMailbox("me@example.com", "pw")
	mb.Append("1", "hello")
	deps, alert := newDeps(t, mb)
	creds := credential.Credentials{Email: "me@example.com", Password: "pw"}
	if err := deps.Credentials.Save(creds); err != nil {
		t.Fatalf("saving credentials: %v", err)
	}

	m := New(deps)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = update(t, m, autoLoginCheckedMsg{creds: creds})

	if m.currentView != ViewWatch || m.session == nil {
		t.Fatalf("expected the watch screen with a session, got view %v", m.currentView)
	}
	s := m.session

	m, _ = update(t, m, startMonitor(s)())
	if !s.monitor.IsRunning() {
		t.Fatal("monitor should be running")
	}
	m, _ = update(t, m, loadRecent(s, 5)())
	if got := m.watch.Messages(); len(got) != 1 || got[0].Subject != "hello" {
		t.Fatalf("watch list = %+v", got)
	}
	if !strings.Contains(m.View(), "Monitoring: me@example.com") {
		t.Fatalf("header missing account:\n%s", m.View())
	}

	m, _ = update(t, m, newMailMsg{gen: s.gen, header: source.Header{UID: "2", From: "bob", Subject: "ping"}})
	if m.banner != "New mail from bob: ping" {
		t.Fatalf("banner = %q", m.banner)
	}
	m, _ = update(t, m, bannerExpiredMsg{seq: m.bannerSeq})
	if m.banner != "" {
		t.Fatalf("banner = %q after expiry, want empty", m.banner)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	if _, stops := alert.counts(); stops != 1 {
		t.Fatalf("alert stops = %d, want 1", stops)
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'L'}})
	if m.session != nil || cmd == nil {
		t.Fatal("logout should detach the session and return a command")
	}
	m, _ = update(t, m, cmd())

	if s.monitor.State() != appsync.StateStopped {
		t.Fatalf("monitor state = %s after logout, want stopped", s.monitor.State())
	}
	if _, err := deps.Credentials.Load(); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("saved login after logout: %v, want ErrNotFound", err)
	}
	if m.currentView != ViewLogin {
		t.Fatalf("view = %v after logout, want login", m.currentView)
	}
}

func TestStaleSessionMessagesAreIgnored(t *testing.T) {
	mb := testutil.NewFakeMailbox("me@example.com", "pw")
	deps, _ := newDeps(t, mb)
	m := New(deps)
	m, _ = update(t, m, autoLoginCheckedMsg{creds: credential.Credentials{Email: "me@example.com", Password: "pw"}})
	gen := m.session.gen

	m, _ = update(t, m, recentLoadedMsg{gen: gen + 1, headers: []source.Header{{UID: "1", Subject: "stale"}}})
	if len(m.watch.Messages()) != 0 {
		t.Fatal("a stale reload changed the list")
	}
	m, _ = update(t, m, newMailMsg{gen: gen + 1, header: source.Header{Subject: "stale"}})
	if m.banner != "" {
		t.Fatal("a stale notice raised a banner")
	}
}
