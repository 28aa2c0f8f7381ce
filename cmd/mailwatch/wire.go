package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gologme/log"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/source/email"
	"github.com/nhle/mailwatch/internal/store"
)

// emailConfig maps the imap.* settings onto the IMAP client.
func emailConfig(cfg *model.AppConfig) email.Config {
	return email.Config{
		Host:     cfg.IMAP.Host,
		Port:     strconv.Itoa(cfg.IMAP.Port),
		Security: email.Security(cfg.IMAP.Security),
		Auth:     email.AuthMechanism(cfg.IMAP.Auth),
		Mailbox:  cfg.IMAP.Mailbox,
	}
}

// openState returns the configured watermark store and its closer.
func openState(cfg *model.AppConfig, logger *log.Logger) (store.Store, func(), error) {
	switch cfg.State.Backend {
	case model.StateBackendSQLite:
		s, err := store.NewSQLiteStore(cfg.State.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening state database: %w", err)
		}
		s.SetNotificationRetention(cfg.State.NotificationRetention)
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warnf("Closing state database: %v", err)
			}
		}, nil
	default:
		return store.NewFileStore(cfg.State.Path, logger), func() {}, nil
	}
}

// openCredentials returns the configured login store.
func openCredentials(cfg *model.AppConfig) (credential.Store, error) {
	switch cfg.Credentials.Backend {
	case model.CredentialBackendKeyring:
		ring, err := credential.OpenKeyring(credential.KeyringConfig(filepath.Dir(cfg.Credentials.Path)))
		if err != nil {
			return nil, err
		}
		return ring, nil
	default:
		return credential.NewFileStore(cfg.Credentials.Path), nil
	}
}

// checkLogin fails only when the server rejects the login; an unreachable
// server is left to the monitor's retries.
func checkLogin(ctx context.Context, d source.Dialer, login credential.Credentials) error {
	sess, err := d.Open(ctx, login.Email, login.Password)
	if err != nil {
		if source.IsAuthError(err) {
			return fmt.Errorf("saved login rejected: %w", err)
		}
		return nil
	}
	return sess.Close()
}
