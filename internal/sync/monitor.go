package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	gosync "sync"
	"time"

	"github.com/gologme/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/store"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultStopTimeout  = 2 * time.Second
	DefaultCallTimeout  = 15 * time.Second

	// refreshInterval is the minimum spacing of manual refreshes.
	refreshInterval = 2 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("monitor is already running")
	ErrNotRunning     = errors.New("monitor is not running")
)

// State is a Monitor lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Callback receives each new message. It runs on the poll goroutine.
type Callback func(h source.Header) error

// CallbackError wraps a failure (returned error or panic) of the
// consumer callback.
type CallbackError struct {
	UID string
	Err error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback for UID %s failed: %v", e.UID, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Config holds the per-Monitor settings.
type Config struct {
	Account string
	Secret  string

	// PollInterval is the delay between ticks. Zero selects
	// DefaultPollInterval.
	PollInterval time.Duration

	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration

	// CallTimeout bounds each network step of a tick.
	CallTimeout time.Duration

	// OnNewMessage is optional.
	OnNewMessage Callback
}

// Status is a snapshot of the Monitor for display.
type Status struct {
	State     State
	Watermark string
	LastCheck time.Time
	LastError error
	Notified  int
}

// cursor is the loop-owned detection state. initialized is false until a
// listing has succeeded, which distinguishes an empty mailbox from one
// that has never been observed.
type cursor struct {
	uid         string
	initialized bool
}

// Monitor polls one mailbox in the background and invokes the callback at
// most once per new message. Start and Stop must not be called
// concurrently.
type Monitor struct {
	dialer source.Dialer
	store  store.Store
	log    *log.Logger
	cfg    Config

	state atomic.Int32

	mu     gosync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
	// last is the newest cursor any run reached. It outlives the loop so
	// a restart resumes from it even when a watermark save failed.
	last cursor

	triggerCh    chan struct{}
	refreshLimit *rate.Limiter
	recent       singleflight.Group
}

// New creates a stopped Monitor.
func New(
	d source.Dialer, s store.Store, logger *log.Logger, cfg Config,
) (*Monitor, error) {
	if cfg.PollInterval < 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	return &Monitor{
		dialer:       d,
		store:        s,
		log:          logger,
		cfg:          cfg,
		triggerCh:    make(chan struct{}, 1),
		refreshLimit: rate.NewLimiter(rate.Every(refreshInterval), 1),
	}, nil
}

// Start initializes the watermark if none is stored (without notifying)
// and launches the poll loop. It is only valid while stopped.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if State(m.state.Load()) != StateStopped {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.state.Store(int32(StateStarting))
	m.mu.Unlock()

	cur := m.initCursor(ctx)

	if !m.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		// Stop arrived during the cold start.
		close(done)
		return nil
	}

	m.log.Infof("Monitoring started (interval %s)", m.cfg.PollInterval)
	go m.loop(ctx, done, cur)
	return nil
}

// Stop asks the loop to exit and waits up to the stop timeout. The
// Monitor is Stopped when Stop returns, even if the loop is still
// unwinding.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	st := State(m.state.Load())
	if st != StateRunning && st != StateStarting {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.state.Store(int32(StateStopping))
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.log.Warnf("Poll loop did not exit within %s", m.cfg.StopTimeout)
	}

	m.state.Store(int32(StateStopped))
	m.log.Infoln("Monitoring stopped")
	return nil
}

// IsRunning reports whether the poll loop is active.
func (m *Monitor) IsRunning() bool {
	return m.State() == StateRunning
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Status returns a snapshot of the last check.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.status
	s.State = m.State()
	return s
}

// Refresh requests an immediate tick. It reports false when the Monitor
// is not running, a refresh is already pending, or refreshes are being
// requested too quickly.
func (m *Monitor) Refresh() bool {
	if !m.IsRunning() || !m.refreshLimit.Allow() {
		return false
	}
	select {
	case m.triggerCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Recent returns the headers of the n most recent messages, oldest first,
// using a short-lived session of its own. Concurrent calls for the same n
// share one round trip.
func (m *Monitor) Recent(ctx context.Context, n int) ([]source.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := m.recent.DoChan(strconv.Itoa(n), func() (interface{}, error) {
		// The flight outlives any one caller's ctx.
		callCtx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
		defer cancel()
		return source.RecentHeaders(callCtx, m.dialer, m.cfg.Account, m.cfg.Secret, n)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]source.Header), nil
	}
}

// initCursor resumes from the previous run's cursor, then from the
// stored watermark, falling back to a cold start. A failed cold start
// leaves the cursor uninitialized so the first tick retries it.
func (m *Monitor) initCursor(ctx context.Context) cursor {
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()
	if last.initialized {
		m.recordCheck(last.uid, nil, false)
		return last
	}

	if uid, ok := m.store.Load(ctx); ok {
		cur := cursor{uid: uid, initialized: true}
		m.remember(ctx, cur)
		m.recordCheck(uid, nil, false)
		return cur
	}

	uid, err := m.coldStart(ctx)
	if err != nil {
		m.logTickError("Cold start", err)
		m.recordCheck("", err, false)
		return cursor{}
	}
	cur := cursor{uid: uid, initialized: true}
	m.remember(ctx, cur)
	m.recordCheck(uid, nil, false)
	return cur
}

// remember keeps cur for the next Start. A cancelled run leaves the
// previous value alone.
func (m *Monitor) remember(ctx context.Context, cur cursor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() == nil {
		m.last = cur
	}
}

// coldStart sets the watermark to the newest message without notifying.
func (m *Monitor) coldStart(ctx context.Context) (string, error) {
	var newest string
	err := m.withSession(ctx, func(sess source.Session) error {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()

		uids, err := sess.ListUIDs(callCtx)
		if err != nil {
			return err
		}
		if len(uids) > 0 {
			newest = uids[len(uids)-1]
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if newest == "" {
		m.log.Infoln("Mailbox is empty; waiting for the first message")
		return "", nil
	}
	if err := m.store.Save(ctx, newest); err != nil {
		m.log.Errorf("Saving initial watermark: %v", err)
	}
	m.log.Infof("Watermark initialized at UID %s", newest)
	return newest, nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}, cur cursor) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.tick(ctx, &cur)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, &cur)
		case <-m.triggerCh:
			m.tick(ctx, &cur)
		}
	}
}

// tick performs one check. Every error ends the tick, never the loop.
func (m *Monitor) tick(ctx context.Context, cur *cursor) {
	if ctx.Err() != nil {
		return
	}

	if !cur.initialized {
		uid, err := m.coldStart(ctx)
		if err != nil {
			m.logTickError("Cold start", err)
			m.recordCheck(cur.uid, err, false)
			return
		}
		cur.uid, cur.initialized = uid, true
		m.remember(ctx, *cur)
		m.recordCheck(cur.uid, nil, false)
		return
	}

	var res Result
	err := m.withSession(ctx, func(sess source.Session) error {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()

		var err error
		res, err = CheckNew(callCtx, sess, cur.uid)
		return err
	})
	if err != nil {
		m.logTickError("Check", err)
		m.recordCheck(cur.uid, err, false)
		return
	}
	if !res.IsNew || ctx.Err() != nil {
		m.recordCheck(cur.uid, nil, false)
		return
	}

	h := *res.Header
	cur.uid = h.UID
	m.remember(ctx, *cur)
	if err := m.store.Save(ctx, h.UID); err != nil {
		m.log.Errorf("Saving watermark %s: %v", h.UID, err)
	}

	if !m.markNotified(ctx, h) {
		m.recordCheck(cur.uid, nil, false)
		return
	}

	m.log.Infof("New message UID %s", h.UID)
	m.recordCheck(cur.uid, nil, true)
	m.notify(h)
}

// markNotified consults and updates the store's notification log, if it
// keeps one. It returns false when h was already notified.
func (m *Monitor) markNotified(ctx context.Context, h source.Header) bool {
	nl, ok := m.store.(store.NotificationLog)
	if !ok {
		return true
	}

	seen, err := nl.WasNotified(ctx, h.UID)
	if err != nil {
		m.log.Warnf("Reading notification log: %v", err)
	} else if seen {
		m.log.Infof("UID %s was already notified; skipping", h.UID)
		return false
	}

	err = nl.RecordNotification(ctx, model.Notification{
		UID:     h.UID,
		Subject: h.Subject,
		From:    h.From,
	})
	if err != nil {
		m.log.Warnf("Recording notification: %v", err)
	}
	return true
}

func (m *Monitor) notify(h source.Header) {
	if m.cfg.OnNewMessage == nil {
		return
	}
	if err := m.invoke(h); err != nil {
		m.log.Errorln(err)
	}
}

func (m *Monitor) invoke(h source.Header) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{UID: h.UID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if cbErr := m.cfg.OnNewMessage(h); cbErr != nil {
		return &CallbackError{UID: h.UID, Err: cbErr}
	}
	return nil
}

// withSession opens a session under the call timeout, runs fn and closes
// the session.
func (m *Monitor) withSession(
	ctx context.Context, fn func(sess source.Session) error,
) error {
	openCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	sess, err := m.dialer.Open(openCtx, m.cfg.Account, m.cfg.Secret)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	return fn(sess)
}

func (m *Monitor) logTickError(step string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		m.log.Debugf("%s interrupted: %v", step, err)
	case source.IsAuthError(err):
		m.log.Errorf("%s failed: %v", step, err)
	default:
		m.log.Warnf("%s failed: %v", step, err)
	}
}

// recordCheck updates the status snapshot.
func (m *Monitor) recordCheck(watermark string, err error, notified bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.Watermark = watermark
	m.status.LastCheck = time.Now()
	m.status.LastError = err
	if notified {
		m.status.Notified++
	}
}
