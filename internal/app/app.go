package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gologme/log"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/keys"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/store"
	appsync "github.com/nhle/mailwatch/internal/sync"
	"github.com/nhle/mailwatch/internal/theme"
	"github.com/nhle/mailwatch/internal/ui"
	helpview "github.com/nhle/mailwatch/internal/ui/help"
	"github.com/nhle/mailwatch/internal/ui/login"
	"github.com/nhle/mailwatch/internal/ui/watch"
)

const (
	// probeTimeout bounds each one-off network command.
	probeTimeout = 30 * time.Second

	// bannerDuration is how long a new-mail banner stays up.
	bannerDuration = 10 * time.Second

	ipPending = "Getting IP..."
)

// Alerter sounds and silences the new-mail alert.
type Alerter interface {
	Play() error
	Stop()
}

// IPResolver reports the public address shown in the status bar.
type IPResolver interface {
	Lookup(ctx context.Context) string
}

// Deps are the collaborators the UI drives.
type Deps struct {
	Config      *model.AppConfig
	ConfigPath  string
	Dialer      source.Dialer
	State       store.Store
	Credentials credential.Store
	Alert       Alerter
	IP          IPResolver
	Logger      *log.Logger
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewWatch
	ViewHelp
)

// Model is the root Bubble Tea model: it routes between the login and
// watch screens and owns the monitoring session.
type Model struct {
	deps Deps
	keys *keys.KeyMap

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	ready        bool
	checking     bool

	login    login.Model
	watch    watch.Model
	helpView helpview.Model

	session   *session
	gen       int
	banner    string
	bannerSeq int
	ip        string
}

// New creates the root model. Init decides between auto-login and the
// login screen.
func New(deps Deps) Model {
	k := keys.DefaultKeyMap()
	probe := func(ctx context.Context, account, secret string) source.ProbeResult {
		return source.Probe(ctx, deps.Dialer, account, secret)
	}

	return Model{
		deps:        deps,
		keys:        k,
		currentView: ViewLogin,
		checking:    true,
		login:       login.New(probe, 80, 24),
		watch:       watch.New(k, "", 80, 24),
		helpView:    helpview.New(k, settingsSummary(deps), 80, 24),
		ip:          ipPending,
	}
}

// settingsSummary lists the effective settings for the help overlay.
func settingsSummary(deps Deps) []string {
	cfg := deps.Config
	sound := cfg.Alert.Sound
	if sound == "" {
		sound = "(none)"
	}
	return []string{
		fmt.Sprintf("Mailbox:       %s on %s:%d (%s)", cfg.IMAP.Mailbox, cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.Security),
		fmt.Sprintf("Poll interval: %s", cfg.Monitor.PollInterval()),
		fmt.Sprintf("State:         %s (%s)", cfg.State.Backend, cfg.State.Path),
		fmt.Sprintf("Alert sound:   %s", sound),
		fmt.Sprintf("Config file:   %s", deps.ConfigPath),
	}
}

// Init loads any saved login.
func (m Model) Init() tea.Cmd {
	return loadCredentials(m.deps.Credentials)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.login.SetSize(w, h)
		m.watch.SetSize(w, h)
		m.helpView.SetSize(w, h)
		return m, nil

	case credentialsLoadedMsg:
		if msg.err != nil {
			if !errors.Is(msg.err, credential.ErrNotFound) {
				m.deps.Logger.Warnf("Reading saved login: %v", msg.err)
			}
			m.checking = false
			m.currentView = ViewLogin
			return m, m.login.Init()
		}
		return m, checkSavedLogin(m.deps.Dialer, msg.creds)

	case autoLoginCheckedMsg:
		m.checking = false
		if msg.err != nil {
			m.deps.Logger.Warnf("Saved login for %s was rejected", msg.creds.Email)
			m.currentView = ViewLogin
			var ae *source.AuthError
			reason := msg.err.Error()
			if errors.As(msg.err, &ae) {
				reason = ae.Message
			}
			cmd := m.login.Fail(msg.creds.Email, "Saved login was rejected: "+reason)
			return m, cmd
		}
		cmd := m.beginSession(msg.creds)
		return m, cmd

	case login.LoggedInMsg:
		cmd := m.beginSession(msg.Credentials)
		return m, tea.Batch(cmd, saveCredentials(m.deps.Credentials, msg.Credentials))

	case login.CancelMsg:
		cmd := m.shutdown()
		return m, cmd

	case credentialsSavedMsg:
		if msg.err != nil {
			m.deps.Logger.Warnf("Saving login: %v", msg.err)
		}
		return m, nil

	case monitorStartedMsg:
		if !m.current(msg.gen) {
			return m, stopStale(msg.monitor)
		}
		if msg.err != nil {
			m.watch.SetAction("Could not start monitoring: " + msg.err.Error())
			return m, nil
		}
		m.watch.SetStatus(m.session.monitor.Status())
		return m, nil

	case recentLoadedMsg:
		if !m.current(msg.gen) {
			return m, nil
		}
		if msg.err != nil {
			m.deps.Logger.Debugf("Loading recent messages: %v", msg.err)
		}
		m.watch.SetMessages(msg.headers, msg.err)
		m.watch.SetStatus(m.session.monitor.Status())
		return m, nil

	case newMailMsg:
		if !m.current(msg.gen) {
			return m, nil
		}
		m.bannerSeq++
		m.banner = fmt.Sprintf("New mail from %s: %s", msg.header.From, msg.header.Subject)
		seq := m.bannerSeq
		return m, tea.Batch(
			waitForNewMail(m.session),
			loadRecent(m.session, m.deps.Config.Monitor.RecentCount),
			tea.Tick(bannerDuration, func(time.Time) tea.Msg { return bannerExpiredMsg{seq: seq} }),
		)

	case bannerExpiredMsg:
		if msg.seq == m.bannerSeq {
			m.banner = ""
		}
		return m, nil

	case pollTickMsg:
		if !m.current(msg.gen) {
			return m, nil
		}
		return m, tea.Batch(
			loadRecent(m.session, m.deps.Config.Monitor.RecentCount),
			m.schedulePoll(msg.gen),
		)

	case ipLookedUpMsg:
		m.ip = msg.ip
		return m, nil

	case loggedOutMsg:
		if msg.err != nil {
			m.deps.Logger.Warnf("Logging out: %v", msg.err)
		}
		m.banner = ""
		m.currentView = ViewLogin
		cmd := m.login.Reset("Logged out", true)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			cmd := m.shutdown()
			return m, cmd
		}
		switch m.currentView {
		case ViewWatch:
			return m.handleWatchKeys(msg)
		case ViewHelp:
			if key.Matches(msg, m.keys.Help) || key.Matches(msg, m.keys.Back) {
				m.currentView = m.previousView
				return m, nil
			}
			return m, nil
		}
	}

	return m.updateActiveView(msg)
}

// handleWatchKeys processes key events on the watch screen.
func (m Model) handleWatchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		cmd := m.shutdown()
		return m, cmd

	case key.Matches(msg, m.keys.Refresh):
		if m.session == nil {
			return m, nil
		}
		if !m.session.monitor.Refresh() {
			m.watch.SetAction("Refresh skipped, try again shortly")
			return m, nil
		}
		m.watch.SetAction("Checking now...")
		return m, loadRecent(m.session, m.deps.Config.Monitor.RecentCount)

	case key.Matches(msg, m.keys.StopAlert):
		if m.deps.Alert != nil {
			m.deps.Alert.Stop()
		}
		m.banner = ""
		m.watch.SetAction("Alarm stopped")
		return m, nil

	case key.Matches(msg, m.keys.Logout):
		s := m.session
		m.session = nil
		m.watch.SetAction("Logging out...")
		return m, logout(s, m.deps.Alert, m.deps.Credentials)

	case key.Matches(msg, m.keys.Help):
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil
	}

	return m.updateActiveView(msg)
}

// shutdown detaches the session and returns the command that ends it
// and exits.
func (m *Model) shutdown() tea.Cmd {
	s := m.session
	m.session = nil
	return quit(s, m.deps.Alert, m.deps.Credentials, m.deps.Logger)
}

// beginSession creates and starts a monitor for creds and switches to the
// watch screen.
func (m *Model) beginSession(creds credential.Credentials) tea.Cmd {
	cfg := m.deps.Config
	ch := make(chan source.Header, newMailBuffer)

	mon, err := appsync.New(m.deps.Dialer, m.deps.State, m.deps.Logger, appsync.Config{
		Account:      creds.Email,
		Secret:       creds.Password,
		PollInterval: cfg.Monitor.PollInterval(),
		StopTimeout:  cfg.Monitor.StopTimeout(),
		CallTimeout:  cfg.Monitor.CallTimeout(),
		OnNewMessage: newMailNotifier(ch, m.deps.Alert, m.deps.Logger),
	})
	if err != nil {
		m.currentView = ViewLogin
		return m.login.Fail(creds.Email, err.Error())
	}

	m.gen++
	s := &session{
		gen:     m.gen,
		creds:   creds,
		monitor: mon,
		newMail: ch,
		done:    make(chan struct{}),
	}
	m.session = s
	m.banner = ""
	m.watch = watch.New(m.keys, creds.Email, m.layout.ContentWidth(), m.layout.ContentHeight())
	m.currentView = ViewWatch

	cmds := []tea.Cmd{
		startMonitor(s),
		waitForNewMail(s),
		loadRecent(s, cfg.Monitor.RecentCount),
		m.schedulePoll(s.gen),
	}
	if m.ip == ipPending && m.deps.IP != nil {
		cmds = append(cmds, lookupIP(m.deps.IP))
	}
	return tea.Batch(cmds...)
}

// schedulePoll reloads the list after one poll interval.
func (m Model) schedulePoll(gen int) tea.Cmd {
	return tea.Tick(m.deps.Config.Monitor.PollInterval(), func(time.Time) tea.Msg {
		return pollTickMsg{gen: gen}
	})
}

// current reports whether gen belongs to the live session.
func (m Model) current(gen int) bool {
	return m.session != nil && m.session.gen == gen
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		if m.checking {
			return m, nil
		}
		m.login, cmd = m.login.Update(msg)
	case ViewWatch:
		m.watch, cmd = m.watch.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	layout := m.layout.WithBanner(m.banner != "")
	w, h := layout.ContentWidth(), layout.ContentHeight()

	title := "Mail Watch"
	status := ""
	var content string
	switch m.currentView {
	case ViewLogin:
		body := m.login.View()
		if m.checking {
			body = theme.HelpStyle.Render("Checking saved login...")
		}
		content = lipgloss.Place(w, h, lipgloss.Center, lipgloss.Center, body)
	case ViewWatch:
		title = "Monitoring: " + m.watch.Account()
		status = m.watch.StatusLine()
		wv := m.watch
		wv.SetSize(w, h)
		content = wv.View()
	case ViewHelp:
		content = m.helpView.View()
	}

	header := layout.RenderHeader(title, status)
	banner := layout.RenderBanner(m.banner)
	statusBar := layout.RenderStatusBar(m.keyHints(), "Your IP: "+m.ip)

	return layout.RenderWithFrame(header, banner, content, statusBar)
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewWatch:
		return "r check | s stop alarm | L log out | ? help | q quit"
	default:
		return "enter submit | ctrl+c quit"
	}
}
