package publicip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nhle/mailwatch/internal/logging"
)

func serve(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		services func(t *testing.T) []Service
		want     string
	}{
		{
			name: "json service",
			services: func(t *testing.T) []Service {
				return []Service{{URL: serve(t, http.StatusOK, `{"ip":"203.0.113.7"}`), Format: FormatJSON}}
			},
			want: "203.0.113.7",
		},
		{
			name: "text service with whitespace",
			services: func(t *testing.T) []Service {
				return []Service{{URL: serve(t, http.StatusOK, " 2001:db8::1\n"), Format: FormatText}}
			},
			want: "2001:db8::1",
		},
		{
			name: "falls back after failures",
			services: func(t *testing.T) []Service {
				return []Service{
					{URL: serve(t, http.StatusInternalServerError, "boom"), Format: FormatText},
					{URL: serve(t, http.StatusOK, "{not json"), Format: FormatJSON},
					{URL: serve(t, http.StatusOK, "<html>login</html>"), Format: FormatText},
					{URL: serve(t, http.StatusOK, "198.51.100.2"), Format: FormatText},
				}
			},
			want: "198.51.100.2",
		},
		{
			name: "all fail",
			services: func(t *testing.T) []Service {
				return []Service{
					{URL: serve(t, http.StatusOK, `{"ip":""}`), Format: FormatJSON},
					{URL: "http://127.0.0.1:1/ip", Format: FormatText},
				}
			},
			want: Unknown,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(tc.services(t), logging.Discard())
			if got := r.Lookup(context.Background()); got != tc.want {
				t.Fatalf("Lookup() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLookupCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver([]Service{{URL: serve(t, http.StatusOK, "192.0.2.1"), Format: FormatText}}, logging.Discard())
	if got := r.Lookup(ctx); got != Unknown {
		t.Fatalf("Lookup() = %q, want %q", got, Unknown)
	}
}

func TestNewResolverDefaults(t *testing.T) {
	r := NewResolver(nil, logging.Discard())
	if len(r.services) != len(DefaultServices) {
		t.Fatalf("services = %d, want defaults", len(r.services))
	}
}
