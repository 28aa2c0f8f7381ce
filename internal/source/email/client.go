package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/gologme/log"

	"github.com/nhle/mailwatch/internal/source"
)

// InvalidCredentialsHint replaces the server's text when it signals that
// the credentials were rejected.
const InvalidCredentialsHint = "Invalid credentials. Use a Gmail App Password."

// logoutTimeout bounds how long Close waits for the server to answer
// LOGOUT before dropping the connection.
const logoutTimeout = 3 * time.Second

// IMAPClient opens sessions against one IMAP endpoint using go-imap v2.
// It implements source.Dialer.
type IMAPClient struct {
	cfg Config
	log *log.Logger
}

var _ source.Dialer = (*IMAPClient)(nil)

// NewIMAPClient creates a new IMAP client configuration. Empty fields of
// cfg fall back to DefaultConfig.
func NewIMAPClient(cfg Config, logger *log.Logger) *IMAPClient {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.Security == "" {
		cfg.Security = def.Security
	}
	if cfg.Auth == "" {
		cfg.Auth = def.Auth
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = def.Mailbox
	}
	return &IMAPClient{cfg: cfg, log: logger}
}

// Open connects to the IMAP server, authenticates, and selects the
// monitored mailbox read-only. The caller must Close the returned session.
// Cancelling ctx while Open is blocked drops the connection.
func (c *IMAPClient) Open(
	ctx context.Context, account, secret string,
) (source.Session, error) {
	addr := net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	c.log.Debugf("Connecting to IMAP %s (%s)", addr, c.cfg.Security)

	client, err := c.dial(ctx, addr)
	if err != nil {
		return nil, &source.NetworkError{
			Op:  "dial",
			Err: fmt.Errorf("connecting to IMAP %s: %w", addr, err),
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := c.authenticate(client, account, secret); err != nil {
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, &source.NetworkError{Op: "login", Err: ctx.Err()}
		}
		if isRejection(err) {
			return nil, &source.AuthError{
				Account: account,
				Message: normalizeAuthMessage(err),
				Err:     err,
			}
		}
		return nil, &source.NetworkError{Op: "login", Err: err}
	}

	selectOpts := &imap.SelectOptions{ReadOnly: true}
	if _, err := client.Select(c.cfg.Mailbox, selectOpts).Wait(); err != nil {
		_ = client.Close()
		return nil, &source.NetworkError{
			Op:  "select",
			Err: fmt.Errorf("selecting %s: %w", c.cfg.Mailbox, contextErr(ctx, err)),
		}
	}

	return &session{client: client}, nil
}

func (c *IMAPClient) dial(
	ctx context.Context, addr string,
) (*imapclient.Client, error) {
	tlsConfig := c.tlsConfig()
	netDialer := &net.Dialer{}

	switch c.cfg.Security {
	case SecurityTLS:
		d := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, nil), nil
	case SecurityStartTLS:
		conn, err := netDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		client, err := imapclient.NewStartTLS(conn, &imapclient.Options{
			TLSConfig: tlsConfig,
		})
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return client, nil
	case SecurityNone:
		conn, err := netDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, nil), nil
	default:
		return nil, fmt.Errorf("unknown IMAP security mode %q", c.cfg.Security)
	}
}

func (c *IMAPClient) tlsConfig() *tls.Config {
	if c.cfg.TLSConfig != nil {
		cfg := c.cfg.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = c.cfg.Host
		}
		return cfg
	}
	return &tls.Config{ServerName: c.cfg.Host}
}

func (c *IMAPClient) authenticate(
	client *imapclient.Client, account, secret string,
) error {
	if c.cfg.Auth == AuthPlain {
		return client.Authenticate(sasl.NewPlainClient("", account, secret))
	}
	return client.Login(account, secret).Wait()
}

// isRejection reports whether the server answered the authentication
// attempt with a NO response.
func isRejection(err error) bool {
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) {
		return false
	}
	return imapErr.Type == imap.StatusResponseTypeNo
}

// normalizeAuthMessage turns the server's rejection text into a hint the
// user can act on.
func normalizeAuthMessage(err error) string {
	text := err.Error()
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		if imapErr.Code == imap.ResponseCodeAuthenticationFailed {
			return InvalidCredentialsHint
		}
		if imapErr.Text != "" {
			text = imapErr.Text
		}
	}

	if strings.Contains(text, "Invalid credentials") ||
		strings.Contains(strings.ToUpper(text), "AUTHENTICATIONFAILED") {
		return InvalidCredentialsHint
	}
	return strings.TrimSpace(text)
}

// contextErr prefers the context's error when the connection was dropped
// because ctx ended.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}

// session implements source.Session over a selected imapclient.Client.
type session struct {
	client *imapclient.Client
}

// ListUIDs runs UID SEARCH ALL and returns the UIDs in ascending order.
func (s *session) ListUIDs(ctx context.Context) ([]string, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.client.Close() })
	defer stop()

	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, &source.NetworkError{
			Op:  "search",
			Err: fmt.Errorf("searching messages: %w", contextErr(ctx, err)),
		}
	}

	uids := searchData.AllUIDs()
	slices.Sort(uids)

	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		out = append(out, strconv.FormatUint(uint64(uid), 10))
	}
	return out, nil
}

// FetchHeader fetches BODY.PEEK[HEADER] for one UID without setting the
// \Seen flag.
func (s *session) FetchHeader(
	ctx context.Context, uid string,
) (*source.Header, error) {
	n, err := strconv.ParseUint(uid, 10, 32)
	if err != nil || n == 0 {
		return nil, &source.NetworkError{
			Op:  "fetch",
			Err: fmt.Errorf("invalid message UID %q", uid),
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = s.client.Close() })
	defer stop()

	section := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierHeader,
		Peek:      true,
	}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(n)), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, &source.NetworkError{
				Op:  "fetch",
				Err: fmt.Errorf("fetching UID %s: %w", uid, contextErr(ctx, err)),
			}
		}
		return nil, nil
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, &source.NetworkError{
			Op:  "fetch",
			Err: fmt.Errorf("collecting UID %s: %w", uid, contextErr(ctx, err)),
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, &source.NetworkError{
			Op:  "fetch",
			Err: fmt.Errorf("fetching UID %s: %w", uid, contextErr(ctx, err)),
		}
	}

	return parseHeader(uid, buf.FindBodySection(section)), nil
}

// Close logs out and drops the connection. Errors are ignored since the
// session may already be broken.
func (s *session) Close() error {
	t := time.AfterFunc(logoutTimeout, func() { _ = s.client.Close() })
	defer t.Stop()

	_ = s.client.Logout().Wait()
	_ = s.client.Close()
	return nil
}
