package watch

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailwatch/internal/keys"
	"github.com/nhle/mailwatch/internal/source"
	appsync "github.com/nhle/mailwatch/internal/sync"
)

func headers(subjects ...string) []source.Header {
	out := make([]source.Header, 0, len(subjects))
	for i, s := range subjects {
		out = append(out, source.Header{
			UID:     string(rune('1' + i)),
			Subject: s,
			From:    "sender@example.com",
			Date:    "Mon, 01 Jan 2024 12:00:00 +0000",
		})
	}
	return out
}

func subjects(hs []source.Header) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Subject)
	}
	return out
}

func TestSetMessagesNewestFirst(t *testing.T) {
	m := New(keys.DefaultKeyMap(), "me@example.com", 80, 40)
	m.SetMessages(headers("oldest", "middle", "newest"), nil)

	if diff := cmp.Diff([]string{"newest", "middle", "oldest"}, subjects(m.Messages())); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	view := m.View()
	for _, want := range []string{"Subject: newest", "From:    sender@example.com"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestSetMessagesErrorKeepsList(t *testing.T) {
	m := New(keys.DefaultKeyMap(), "me@example.com", 80, 40)
	m.SetMessages(headers("kept"), nil)
	m.SetMessages(nil, errors.New("connection reset"))

	if diff := cmp.Diff([]string{"kept"}, subjects(m.Messages())); diff != "" {
		t.Fatalf("list changed on error (-want +got):\n%s", diff)
	}
}

func TestViewStates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Model)
		want  string
	}{
		{name: "loading", setup: func(*Model) {}, want: "Loading emails..."},
		{name: "empty", setup: func(m *Model) { m.SetMessages(nil, nil) }, want: "No emails yet."},
		{
			name:  "load error",
			setup: func(m *Model) { m.SetMessages(nil, errors.New("timeout")) },
			want:  "Could not load emails: timeout",
		},
		{
			name: "auth error",
			setup: func(m *Model) {
				m.SetStatus(appsync.Status{
					State:     appsync.StateRunning,
					LastError: &source.AuthError{Account: "me", Message: "bad"},
				})
			},
			want: "Authentication failed",
		},
		{
			name:  "action",
			setup: func(m *Model) { m.SetAction("Alarm stopped") },
			want:  "Alarm stopped",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			m := New(keys.DefaultKeyMap(), "me@example.com", 80, 20)
			tc.setup(&m)
			if view := m.View(); !strings.Contains(view, tc.want) {
				t.Fatalf("view missing %q:\n%s", tc.want, view)
			}
		})
	}
}

func TestNavigationStaysInBounds(t *testing.T) {
	m := New(keys.DefaultKeyMap(), "me@example.com", 80, 40)
	m.SetMessages(headers("a", "b"), nil)

	down := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}}
	up := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}}

	for i := 0; i < 5; i++ {
		m, _ = m.Update(down)
	}
	if m.selected != 1 {
		t.Fatalf("selected = %d after moving down, want 1", m.selected)
	}
	for i := 0; i < 5; i++ {
		m, _ = m.Update(up)
	}
	if m.selected != 0 {
		t.Fatalf("selected = %d after moving up, want 0", m.selected)
	}

	m.selected = 1
	m.SetMessages(headers("only"), nil)
	if m.selected != 0 {
		t.Fatalf("selected = %d after the list shrank, want 0", m.selected)
	}
}

func TestStatusLine(t *testing.T) {
	m := New(keys.DefaultKeyMap(), "me@example.com", 80, 40)
	m.SetStatus(appsync.Status{
		State:     appsync.StateRunning,
		LastCheck: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
		Notified:  2,
	})

	line := m.StatusLine()
	for _, want := range []string{"running", "checked 09:30:00", "2 new"} {
		if !strings.Contains(line, want) {
			t.Errorf("status line %q missing %q", line, want)
		}
	}

	m.SetStatus(appsync.Status{State: appsync.StateRunning, LastError: errors.New("dial")})
	if !strings.Contains(m.StatusLine(), "error") {
		t.Fatalf("status line %q should flag the error", m.StatusLine())
	}
}
