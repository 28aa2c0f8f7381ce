package alert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gologme/log"
)

// DefaultDuration caps a single alert.
const DefaultDuration = 30 * time.Second

// ErrNoPlayer is returned when none of the candidate players is installed.
var ErrNoPlayer = errors.New("no audio player found (install ffplay or mpg123)")

// player is an external command able to play the alert sound.
type player struct {
	name string
	args func(sound string) []string
}

var defaultPlayers = []player{
	{
		name: "ffplay",
		args: func(sound string) []string {
			return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", sound}
		},
	},
	{
		name: "mpg123",
		args: func(sound string) []string {
			return []string{"-q", sound}
		},
	},
}

// Player plays the alert sound through the first available external
// player. At most one alert plays at a time.
type Player struct {
	sound    string
	duration time.Duration
	log      *log.Logger
	players  []player

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer returns a Player for the given sound file. A non-positive
// duration selects DefaultDuration.
func NewPlayer(sound string, duration time.Duration, logger *log.Logger) *Player {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Player{
		sound:    sound,
		duration: duration,
		log:      logger,
		players:  defaultPlayers,
	}
}

// Play starts the alert in the background, replacing any alert already
// playing. It returns once the player has been launched.
func (p *Player) Play() error {
	if p.sound == "" {
		return nil
	}
	if _, err := os.Stat(p.sound); err != nil {
		p.log.Warnf("Alert sound unavailable: %v", err)
		return fmt.Errorf("alert sound: %w", err)
	}

	bin, pl, err := p.lookup()
	if err != nil {
		p.log.Warnln(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithTimeout(context.Background(), p.duration)
	cmd := exec.CommandContext(ctx, bin, pl.args(p.sound)...) // #nosec G204 - sound path comes from local config
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting %s: %w", pl.name, err)
	}

	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go func() {
		defer close(done)
		defer cancel()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			p.log.Debugf("%s exited: %v", pl.name, err)
		}
	}()

	p.log.Debugf("Playing alert with %s", pl.name)
	return nil
}

// Stop silences the current alert, if any, and waits for the player to
// exit.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Playing reports whether an alert is currently audible.
func (p *Player) Playing() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (p *Player) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
}

func (p *Player) lookup() (string, player, error) {
	for _, pl := range p.players {
		if bin, err := exec.LookPath(pl.name); err == nil {
			return bin, pl, nil
		}
	}
	return "", player{}, ErrNoPlayer
}
