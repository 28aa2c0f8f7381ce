package app

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gologme/log"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/source"
	appsync "github.com/nhle/mailwatch/internal/sync"
)

// newMailBuffer is how many unseen notices may queue for the UI.
const newMailBuffer = 16

// session is one logged-in account: its monitor and the channel that
// carries new-mail notices to the UI.
type session struct {
	gen     int
	creds   credential.Credentials
	monitor *appsync.Monitor
	newMail chan source.Header
	done    chan struct{}
}

// credentialsLoadedMsg carries the saved login, if any.
type credentialsLoadedMsg struct {
	creds credential.Credentials
	err   error
}

// autoLoginCheckedMsg carries the result of trying saved credentials.
type autoLoginCheckedMsg struct {
	creds credential.Credentials
	err   error
}

// monitorStartedMsg is sent once the monitor's cold start finished.
type monitorStartedMsg struct {
	gen     int
	monitor *appsync.Monitor
	err     error
}

// recentLoadedMsg carries the headers for the watch list.
type recentLoadedMsg struct {
	gen     int
	headers []source.Header
	err     error
}

// newMailMsg is sent for each message the monitor reported.
type newMailMsg struct {
	gen    int
	header source.Header
}

// pollTickMsg reloads the list periodically.
type pollTickMsg struct {
	gen int
}

// ipLookedUpMsg carries the public address.
type ipLookedUpMsg struct {
	ip string
}

// bannerExpiredMsg clears the banner if no newer notice replaced it.
type bannerExpiredMsg struct {
	seq int
}

// loggedOutMsg is sent once the session is torn down.
type loggedOutMsg struct {
	err error
}

// credentialsSavedMsg reports the result of remembering a login.
type credentialsSavedMsg struct {
	err error
}

// newMailNotifier returns the monitor callback: it hands the header to
// the UI without blocking and sounds the alert. A full queue drops the
// notice, the list reload still shows the message.
func newMailNotifier(ch chan<- source.Header, player Alerter, logger *log.Logger) appsync.Callback {
	return func(h source.Header) error {
		select {
		case ch <- h:
		default:
			logger.Warnf("UI busy; dropping notice for UID %s", h.UID)
		}
		if player == nil {
			return nil
		}
		if err := player.Play(); err != nil {
			return fmt.Errorf("playing alert: %w", err)
		}
		return nil
	}
}

// waitForNewMail blocks until the monitor reports a message or the
// session ends. It is re-issued after every notice.
func waitForNewMail(s *session) tea.Cmd {
	return func() tea.Msg {
		select {
		case h := <-s.newMail:
			return newMailMsg{gen: s.gen, header: h}
		case <-s.done:
			return nil
		}
	}
}

// loadCredentials reads the saved login.
func loadCredentials(store credential.Store) tea.Cmd {
	return func() tea.Msg {
		creds, err := store.Load()
		return credentialsLoadedMsg{creds: creds, err: err}
	}
}

// checkSavedLogin opens one session with saved credentials before
// monitoring with them. Only a rejection is reported; an unreachable
// server is left to the monitor's retries.
func checkSavedLogin(d source.Dialer, creds credential.Credentials) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		sess, err := d.Open(ctx, creds.Email, creds.Password)
		if err != nil {
			if source.IsAuthError(err) {
				return autoLoginCheckedMsg{creds: creds, err: err}
			}
			return autoLoginCheckedMsg{creds: creds}
		}
		_ = sess.Close()
		return autoLoginCheckedMsg{creds: creds}
	}
}

// saveCredentials remembers a verified login.
func saveCredentials(store credential.Store, creds credential.Credentials) tea.Cmd {
	return func() tea.Msg {
		return credentialsSavedMsg{err: store.Save(creds)}
	}
}

// startMonitor runs the monitor's start-up (which may touch the network)
// off the UI goroutine.
func startMonitor(s *session) tea.Cmd {
	return func() tea.Msg {
		err := s.monitor.Start()
		return monitorStartedMsg{gen: s.gen, monitor: s.monitor, err: err}
	}
}

// loadRecent fetches the headers for the watch list.
func loadRecent(s *session, n int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		headers, err := s.monitor.Recent(ctx, n)
		return recentLoadedMsg{gen: s.gen, headers: headers, err: err}
	}
}

// lookupIP resolves the public address once.
func lookupIP(r IPResolver) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		return ipLookedUpMsg{ip: r.Lookup(ctx)}
	}
}

// endSession stops monitoring and silences the alert. With forget set it
// also deletes the saved login.
func endSession(s *session, player Alerter, store credential.Store, forget bool) error {
	var errs []error
	if s != nil {
		close(s.done)
		if err := s.monitor.Stop(); err != nil && !errors.Is(err, appsync.ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	if player != nil {
		player.Stop()
	}
	if forget {
		if err := store.Delete(); err != nil {
			errs = append(errs, fmt.Errorf("deleting saved login: %w", err))
		}
	}
	return errors.Join(errs...)
}

// stopStale stops a monitor whose start completed after its session
// ended.
func stopStale(m *appsync.Monitor) tea.Cmd {
	return func() tea.Msg {
		_ = m.Stop()
		return nil
	}
}

// logout tears down the session and forgets the login.
func logout(s *session, player Alerter, store credential.Store) tea.Cmd {
	return func() tea.Msg {
		return loggedOutMsg{err: endSession(s, player, store, true)}
	}
}

// quit tears down the session, keeping the login, then exits.
func quit(s *session, player Alerter, store credential.Store, logger *log.Logger) tea.Cmd {
	return func() tea.Msg {
		if err := endSession(s, player, store, false); err != nil {
			logger.Warnf("Shutting down: %v", err)
		}
		return tea.QuitMsg{}
	}
}
