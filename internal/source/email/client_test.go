package email

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/gologme/log"
	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailwatch/internal/source"
)

const (
	testUser     = "watcher@example.com"
	testPassword = "app-password"
)

// newTestServer starts an in-memory IMAP server on a loopback port and
// returns a Config pointing at it.
func newTestServer(t *testing.T) Config {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatalf("creating INBOX: %v", err)
	}
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("splitting listener address: %v", err)
	}
	return Config{Host: host, Port: port, Security: SecurityNone, Mailbox: "INBOX"}
}

// appendMessage stores a minimal message with the given subject.
func appendMessage(t *testing.T, cfg Config, subject string) {
	t.Helper()

	c, err := imapclient.DialInsecure(net.JoinHostPort(cfg.Host, cfg.Port), nil)
	if err != nil {
		t.Fatalf("dialing test server: %v", err)
	}
	defer c.Close()

	if err := c.Login(testUser, testPassword).Wait(); err != nil {
		t.Fatalf("login: %v", err)
	}

	msg := fmt.Sprintf("From: Sender <sender@example.com>\r\n"+
		"Subject: %s\r\n"+
		"Date: Mon, 01 Jan 2024 12:00:00 +0000\r\n"+
		"\r\n"+
		"body\r\n", subject)

	appendCmd := c.Append("INBOX", int64(len(msg)), nil)
	if _, err := appendCmd.Write([]byte(msg)); err != nil {
		t.Fatalf("writing message: %v", err)
	}
	if err := appendCmd.Close(); err != nil {
		t.Fatalf("closing append: %v", err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = c.Logout().Wait()
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIMAPClientListAndFetch(t *testing.T) {
	cfg := newTestServer(t)
	appendMessage(t, cfg, "first")
	appendMessage(t, cfg, "=?utf-8?q?second_caf=C3=A9?=")

	ctx := testContext(t)
	sess, err := NewIMAPClient(cfg, testLogger()).Open(ctx, testUser, testPassword)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	uids, err := sess.ListUIDs(ctx)
	if err != nil {
		t.Fatalf("ListUIDs: %v", err)
	}
	if diff := cmp.Diff([]string{"1", "2"}, uids); diff != "" {
		t.Fatalf("ListUIDs mismatch (-want +got):\n%s", diff)
	}

	h, err := sess.FetchHeader(ctx, "2")
	if err != nil {
		t.Fatalf("FetchHeader: %v", err)
	}
	want := &source.Header{
		UID:     "2",
		Subject: "second café",
		From:    "Sender <sender@example.com>",
		Date:    "Mon, 01 Jan 2024 12:00:00 +0000",
	}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Fatalf("FetchHeader mismatch (-want +got):\n%s", diff)
	}
}

func TestIMAPClientFetchVanished(t *testing.T) {
	cfg := newTestServer(t)
	appendMessage(t, cfg, "only")

	ctx := testContext(t)
	sess, err := NewIMAPClient(cfg, testLogger()).Open(ctx, testUser, testPassword)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	h, err := sess.FetchHeader(ctx, "999")
	if err != nil {
		t.Fatalf("FetchHeader: %v", err)
	}
	if h != nil {
		t.Fatalf("expected no header for a missing UID, got %+v", h)
	}

	if _, err := sess.FetchHeader(ctx, "not-a-uid"); !source.IsNetworkError(err) {
		t.Fatalf("expected NetworkError for a malformed UID, got %v", err)
	}
}

func TestIMAPClientEmptyMailbox(t *testing.T) {
	cfg := newTestServer(t)

	ctx := testContext(t)
	sess, err := NewIMAPClient(cfg, testLogger()).Open(ctx, testUser, testPassword)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	uids, err := sess.ListUIDs(ctx)
	if err != nil {
		t.Fatalf("ListUIDs: %v", err)
	}
	if len(uids) != 0 {
		t.Fatalf("expected no UIDs, got %v", uids)
	}
}

func TestIMAPClientRejectsBadPassword(t *testing.T) {
	cfg := newTestServer(t)

	_, err := NewIMAPClient(cfg, testLogger()).Open(testContext(t), testUser, "wrong")
	if !source.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}

	res := source.Probe(testContext(t), NewIMAPClient(cfg, testLogger()), testUser, "wrong")
	if res.OK {
		t.Fatal("expected probe to fail")
	}
	if res.Message != InvalidCredentialsHint {
		t.Fatalf("probe message = %q, want %q", res.Message, InvalidCredentialsHint)
	}
}

func TestIMAPClientProbeSucceeds(t *testing.T) {
	cfg := newTestServer(t)

	res := source.Probe(testContext(t), NewIMAPClient(cfg, testLogger()), testUser, testPassword)
	if !res.OK {
		t.Fatalf("expected probe to succeed, got %q", res.Message)
	}
}

func TestIMAPClientDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	_ = ln.Close()

	cfg := Config{Host: host, Port: port, Security: SecurityNone}
	_, err = NewIMAPClient(cfg, testLogger()).Open(testContext(t), testUser, testPassword)
	if !source.IsNetworkError(err) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestNormalizeAuthMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "response code",
			err: &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeAuthenticationFailed,
				Text: "nope",
			},
			want: InvalidCredentialsHint,
		},
		{
			name: "gmail text",
			err: &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Text: "[AUTHENTICATIONFAILED] Invalid credentials (Failure)",
			},
			want: InvalidCredentialsHint,
		},
		{
			name: "other rejection",
			err: &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Text: " Account disabled ",
			},
			want: "Account disabled",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizeAuthMessage(tc.err); got != tc.want {
				t.Errorf("normalizeAuthMessage() = %q, want %q", got, tc.want)
			}
		})
	}
}
