package email

import "crypto/tls"

// Security selects how the connection to the IMAP server is protected.
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

// AuthMechanism selects how the client authenticates.
type AuthMechanism string

const (
	AuthLogin AuthMechanism = "login"
	AuthPlain AuthMechanism = "plain"
)

// Config holds the IMAP endpoint settings.
type Config struct {
	Host     string
	Port     string
	Security Security
	Auth     AuthMechanism
	Mailbox  string

	// TLSConfig overrides the TLS client settings. ServerName defaults
	// to Host.
	TLSConfig *tls.Config
}

// DefaultConfig returns the settings for Gmail over implicit TLS.
func DefaultConfig() Config {
	return Config{
		Host:     "imap.gmail.com",
		Port:     "993",
		Security: SecurityTLS,
		Auth:     AuthLogin,
		Mailbox:  "INBOX",
	}
}
