package login

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/theme"
)

// probeTimeout bounds a login attempt.
const probeTimeout = 30 * time.Second

// Mode is the current state of the login screen.
type Mode int

const (
	ModeForm    Mode = iota // Waiting for input
	ModeProbing             // Testing the credentials
)

// ProbeFunc verifies credentials against the server.
type ProbeFunc func(ctx context.Context, account, secret string) source.ProbeResult

// LoggedInMsg is emitted once the entered credentials were accepted.
type LoggedInMsg struct {
	Credentials credential.Credentials
}

// CancelMsg is emitted when the user aborts the form.
type CancelMsg struct{}

// probeResultMsg carries the outcome of a login attempt.
type probeResultMsg struct {
	creds  credential.Credentials
	result source.ProbeResult
}

// fields holds the values huh binds to. It lives on the heap so the
// bindings survive copies of Model.
type fields struct {
	email    string
	password string
}

// Model is the Bubble Tea model for the login screen.
type Model struct {
	mode    Mode
	probe   ProbeFunc
	form    *huh.Form
	fields  *fields
	spinner spinner.Model

	errMsg    string
	noticeMsg string

	width, height int
}

// New creates a login screen that verifies credentials with probe.
func New(probe ProbeFunc, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		probe:   probe,
		fields:  &fields{},
		spinner: sp,
		width:   width,
		height:  height,
	}
	m.form = m.buildForm()
	return m
}

// Init focuses the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Reset clears the password, shows notice and rebuilds the form. The
// email is kept unless clearEmail is set.
func (m *Model) Reset(notice string, clearEmail bool) tea.Cmd {
	m.fields.password = ""
	if clearEmail {
		m.fields.email = ""
	}
	m.mode = ModeForm
	m.errMsg = ""
	m.noticeMsg = notice
	m.form = m.buildForm()
	return m.form.Init()
}

// Fail shows err above a fresh form, e.g. when saved credentials were
// rejected at startup.
func (m *Model) Fail(email, err string) tea.Cmd {
	m.fields.email = email
	cmd := m.Reset("", false)
	m.errMsg = err
	return cmd
}

// SetSize updates the screen dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.form = m.form.WithWidth(m.formWidth())
}

// Update handles messages for the login screen.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case probeResultMsg:
		if msg.result.OK {
			m.mode = ModeForm
			m.errMsg = ""
			creds := msg.creds
			return m, func() tea.Msg { return LoggedInMsg{Credentials: creds} }
		}
		cmd := m.Reset("", false)
		m.errMsg = "Login failed: " + msg.result.Message
		return m, cmd

	case spinner.TickMsg:
		if m.mode == ModeProbing {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.mode == ModeProbing {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m.submit()
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

// submit starts a login attempt with the bound values.
func (m Model) submit() (Model, tea.Cmd) {
	creds := credential.Credentials{
		Email:    strings.TrimSpace(m.fields.email),
		Password: strings.TrimSpace(m.fields.password),
	}
	if creds.Email == "" || creds.Password == "" {
		cmd := m.Reset("", false)
		m.errMsg = "Please enter both email and password"
		return m, cmd
	}

	m.mode = ModeProbing
	m.errMsg = ""
	m.noticeMsg = ""
	return m, tea.Batch(m.spinner.Tick, m.runProbe(creds))
}

func (m Model) runProbe(creds credential.Credentials) tea.Cmd {
	probe := m.probe
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		return probeResultMsg{
			creds:  creds,
			result: probe(ctx, creds.Email, creds.Password),
		}
	}
}

// View renders the login screen.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite)

	parts := []string{
		titleStyle.Render("Mail Watch - Login"),
		theme.HelpStyle.Render("Enter your email address and app password"),
		"",
	}

	if m.mode == ModeProbing {
		parts = append(parts, m.spinner.View()+" Testing connection...")
	} else {
		parts = append(parts, m.form.View())
	}

	if m.errMsg != "" {
		parts = append(parts, "", theme.ErrorStyle.Render(m.errMsg))
	}
	if m.noticeMsg != "" {
		parts = append(parts, "", theme.SuccessStyle.Render(m.noticeMsg))
	}

	return theme.PanelStyle.
		Width(m.formWidth() + 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email Address").
				Placeholder("you@gmail.com").
				Value(&m.fields.email).
				Validate(validateRequired("Email address")),
			huh.NewInput().
				Title("App Password").
				Description("Generated under your account's security settings").
				EchoMode(huh.EchoModePassword).
				Value(&m.fields.password).
				Validate(validateRequired("App password")),
		),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m Model) formWidth() int {
	w := m.width - 8
	if w > 60 {
		w = 60
	}
	if w < 20 {
		w = 20
	}
	return w
}

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(name + " is required")
		}
		return nil
	}
}
