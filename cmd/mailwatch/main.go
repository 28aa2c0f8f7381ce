package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gologme/log"

	"github.com/nhle/mailwatch/internal/alert"
	"github.com/nhle/mailwatch/internal/app"
	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/logging"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/publicip"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/source/email"
	"github.com/nhle/mailwatch/internal/store"
	appsync "github.com/nhle/mailwatch/internal/sync"
)

type options struct {
	configPath string
	headless   bool
	logLevel   string
}

func main() {
	opts := parseFlags()
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "mailwatch: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config.yaml")
	headless := flag.Bool("headless", false, "log new mail instead of running the terminal UI")
	logLevel := flag.String("log-level", "", "override log.level (debug, info, warn, error)")
	flag.Parse()

	return options{
		configPath: *configPath,
		headless:   *headless,
		logLevel:   *logLevel,
	}
}

func run(opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(opts.configPath); errors.Is(err, os.ErrNotExist) {
		// First run: leave an editable copy of the defaults behind.
		if err := model.SaveConfig(opts.configPath, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "mailwatch: %v\n", err)
		}
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	// The terminal UI owns stdout, so it logs to a file.
	var logOut io.Writer = os.Stderr
	if !opts.headless {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.New(logOut, "mailwatch", cfg.Log.Level)

	state, closeState, err := openState(cfg, logger)
	if err != nil {
		return err
	}
	defer closeState()

	creds, err := openCredentials(cfg)
	if err != nil {
		return err
	}

	dialer := email.NewIMAPClient(emailConfig(cfg), logging.New(logOut, "imap", cfg.Log.Level))
	player := alert.NewPlayer(cfg.Alert.Sound, cfg.Alert.Duration(), logging.New(logOut, "alert", cfg.Log.Level))
	defer player.Stop()

	if opts.headless {
		return runHeadless(ctx, cfg, dialer, state, creds, player, logger)
	}

	deps := app.Deps{
		Config:      cfg,
		ConfigPath:  opts.configPath,
		Dialer:      dialer,
		State:       state,
		Credentials: creds,
		Alert:       player,
		IP:          publicip.NewResolver(nil, logger),
		Logger:      logger,
	}
	p := tea.NewProgram(app.New(deps), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}

// runHeadless monitors with the saved login until ctx ends.
func runHeadless(
	ctx context.Context,
	cfg *model.AppConfig,
	dialer source.Dialer,
	state store.Store,
	creds credential.Store,
	player *alert.Player,
	logger *log.Logger,
) error {
	login, err := creds.Load()
	if errors.Is(err, credential.ErrNotFound) {
		return errors.New("no saved login; run without -headless once to sign in")
	}
	if err != nil {
		return fmt.Errorf("reading saved login: %w", err)
	}

	if err := checkLogin(ctx, dialer, login); err != nil {
		return err
	}

	if nlog, ok := state.(store.NotificationLog); ok {
		recent, err := nlog.RecentNotifications(ctx, 5)
		if err != nil {
			logger.Warnf("Reading notification history: %v", err)
		}
		for _, n := range recent {
			logger.Infof("Previously notified %s: %s (%s)", n.CreatedAt.Format("2006-01-02 15:04"), n.Subject, n.From)
		}
	}

	mon, err := appsync.New(dialer, state, logger, appsync.Config{
		Account:      login.Email,
		Secret:       login.Password,
		PollInterval: cfg.Monitor.PollInterval(),
		StopTimeout:  cfg.Monitor.StopTimeout(),
		CallTimeout:  cfg.Monitor.CallTimeout(),
		OnNewMessage: func(h source.Header) error {
			logger.Infof("New mail from %s: %s (%s)", h.From, h.Subject, h.Date)
			return player.Play()
		},
	})
	if err != nil {
		return err
	}

	if err := mon.Start(); err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}
	logger.Infof("Watching %s for %s", cfg.IMAP.Mailbox, login.Email)

	<-ctx.Done()
	return mon.Stop()
}
