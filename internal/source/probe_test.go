package source_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/tests/testutil"
)

func TestProbe(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		openErr error
		wantOK  bool
		wantMsg string
	}{
		{name: "valid", secret: "pw", wantOK: true},
		{
			name:    "invalid credentials",
			secret:  "bad",
			wantMsg: "Invalid credentials. Use a Gmail App Password.",
		},
		{
			name:    "network",
			secret:  "pw",
			openErr: &source.NetworkError{Op: "dial", Err: errors.New("connection refused")},
			wantMsg: "network error during dial: connection refused",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			mb := testutil.NewFakeMailbox("me@example.com", "pw")
			mb.FailOpen(tc.openErr)

			got := source.Probe(context.Background(), mb, "me@example.com", tc.secret)
			want := source.ProbeResult{OK: tc.wantOK, Message: tc.wantMsg}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("Probe mismatch (-want +got):\n%s", diff)
			}
			if n := mb.OpenSessions(); n != 0 {
				t.Fatalf("probe left %d sessions open", n)
			}
		})
	}
}

func TestRecentHeaders(t *testing.T) {
	mb := testutil.NewFakeMailbox("me@example.com", "pw")
	for i := 1; i <= 5; i++ {
		mb.Append(strconv.Itoa(i), "msg "+strconv.Itoa(i))
	}
	mb.Vanish("4")

	got, err := source.RecentHeaders(context.Background(), mb, "me@example.com", "pw", 3)
	if err != nil {
		t.Fatalf("RecentHeaders: %v", err)
	}

	var uids []string
	for _, h := range got {
		uids = append(uids, h.UID)
	}
	if diff := cmp.Diff([]string{"3", "5"}, uids); diff != "" {
		t.Fatalf("RecentHeaders UIDs mismatch (-want +got):\n%s", diff)
	}
	if n := mb.OpenSessions(); n != 0 {
		t.Fatalf("RecentHeaders left %d sessions open", n)
	}
}

func TestRecentHeadersAuthError(t *testing.T) {
	mb := testutil.NewFakeMailbox("me@example.com", "pw")

	_, err := source.RecentHeaders(context.Background(), mb, "me@example.com", "bad", 10)
	if !source.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}
