package publicip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gologme/log"
)

// Unknown is reported when no service answers with an address.
const Unknown = "Unknown"

const (
	serviceTimeout = 4 * time.Second
	maxBody        = 1 << 10
)

// Format is the body format of a lookup service.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Service is one IP echo endpoint.
type Service struct {
	URL    string
	Format Format
}

// DefaultServices are tried in order.
var DefaultServices = []Service{
	{URL: "https://api.ipify.org?format=json", Format: FormatJSON},
	{URL: "https://ipinfo.io/ip", Format: FormatText},
	{URL: "https://ifconfig.me/ip", Format: FormatText},
}

// Resolver looks up the host's public address.
type Resolver struct {
	httpClient *http.Client
	services   []Service
	log        *log.Logger
}

// NewResolver returns a Resolver over services, or DefaultServices when
// services is empty.
func NewResolver(services []Service, logger *log.Logger) *Resolver {
	if len(services) == 0 {
		services = DefaultServices
	}
	return &Resolver{
		httpClient: &http.Client{Timeout: serviceTimeout},
		services:   services,
		log:        logger,
	}
}

// Lookup returns the first address any service reports, or Unknown.
func (r *Resolver) Lookup(ctx context.Context) string {
	for _, svc := range r.services {
		ip, err := r.query(ctx, svc)
		if err != nil {
			r.log.Debugf("IP lookup via %s failed: %v", svc.URL, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return ip
	}
	return Unknown
}

func (r *Resolver) query(ctx context.Context, svc Service) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.URL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	text := strings.TrimSpace(string(body))
	if svc.Format == FormatJSON {
		var payload struct {
			IP string `json:"ip"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("decoding response: %w", err)
		}
		text = strings.TrimSpace(payload.IP)
	}

	if net.ParseIP(text) == nil {
		return "", fmt.Errorf("response %q is not an IP address", text)
	}
	return text, nil
}
