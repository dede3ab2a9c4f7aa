// Package syncer drives the forwarding server from the channel store: it
// re-asserts the full generator setup periodically, streams incremental
// changes in between, and reconnects after any transport failure.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/command"
	"github.com/rjboer/GoSigGen/internal/connectionmgr"
	"github.com/rjboer/GoSigGen/internal/logging"
	"github.com/rjboer/GoSigGen/internal/telemetry"
)

// Conn is the transport the loop drives; *connectionmgr.Manager satisfies it.
type Conn interface {
	Connect(ctx context.Context) error
	Send(line string) error
	Close() error
	Session() string
}

// Options tunes a Loop. Zero values pick the defaults below.
type Options struct {
	// Interval is the period between full bursts.
	Interval time.Duration
	// Cadence is the wait after a successful cycle.
	Cadence time.Duration
	// Backoff yields the wait after a failed cycle. It is reset after every
	// successful cycle.
	Backoff  backoff.BackOff
	Logger   logging.Logger
	Reporter telemetry.Reporter

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

const (
	DefaultInterval = 10 * time.Second
	DefaultCadence  = time.Second
	DefaultBackoff  = 2 * time.Second
)

// CycleResult describes what one cycle put on the wire.
type CycleResult struct {
	Full  bool
	Lines int
}

// Stats are running counters since the loop was created.
type Stats struct {
	Cycles      int
	Failures    int
	FullBursts  int
	LinesSent   int
	LastFullAt  time.Time
	LastFailure string
}

// Loop serializes bursts and external state updates behind one mutex.
type Loop struct {
	mu       sync.Mutex
	store    *channel.Store
	conn     Conn
	plan     command.Plan
	interval time.Duration
	cadence  time.Duration
	backoff  backoff.BackOff
	logger   logging.Logger
	reporter telemetry.Reporter
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	lastFull time.Time
	fullDone bool
	stats    Stats
}

// New wires a loop around a store, a transport and a validated command plan.
func New(store *channel.Store, conn Conn, plan command.Plan, opts Options) *Loop {
	l := &Loop{
		store:    store,
		conn:     conn,
		plan:     plan,
		interval: opts.Interval,
		cadence:  opts.Cadence,
		backoff:  opts.Backoff,
		logger:   opts.Logger,
		reporter: opts.Reporter,
		now:      opts.Now,
		sleep:    opts.Sleep,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.cadence <= 0 {
		l.cadence = DefaultCadence
	}
	if l.backoff == nil {
		l.backoff = backoff.NewConstantBackOff(DefaultBackoff)
	}
	if l.logger == nil {
		l.logger = logging.Default()
	}
	l.logger = l.logger.With(logging.F("subsystem", "syncer"))
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepContext
	}
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run cycles until ctx is canceled. Transport failures are retried after the
// backoff delay; any other error (a broken plan or store) ends the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("sync loop started",
		logging.F("channels", l.store.Len()),
		logging.F("interval", l.interval),
		logging.F("cadence", l.cadence),
	)
	for {
		if err := ctx.Err(); err != nil {
			l.closeConn()
			return err
		}

		delay := l.cadence
		if _, err := l.Cycle(ctx); err != nil {
			if !errors.Is(err, connectionmgr.ErrConnection) {
				l.closeConn()
				return err
			}
			delay = l.backoff.NextBackOff()
			if delay == backoff.Stop {
				return fmt.Errorf("giving up reconnecting: %w", err)
			}
			l.logger.Warn("reconnecting after delay", logging.F("delay", delay))
		} else {
			l.backoff.Reset()
		}

		if err := l.sleep(ctx, delay); err != nil {
			l.closeConn()
			return err
		}
	}
}

// Cycle connects if needed, sends a full burst when one is due, then sends
// any remaining changed fields. On failure the connection is closed and the
// error returned.
func (l *Loop) Cycle(ctx context.Context) (CycleResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res CycleResult
	l.stats.Cycles++

	if err := l.conn.Connect(ctx); err != nil {
		l.fail("connect", err)
		return res, err
	}

	if !l.fullDone || l.now().Sub(l.lastFull) >= l.interval {
		res.Full = true
		n, err := l.fullBurstLocked()
		res.Lines += n
		if err != nil {
			l.fail("full burst", err)
			return res, err
		}
		l.lastFull = l.now()
		l.fullDone = true
		l.stats.FullBursts++
		l.stats.LastFullAt = l.lastFull
	}

	n, err := l.incrementalBurstLocked()
	res.Lines += n
	if err != nil {
		l.fail("incremental burst", err)
		return res, err
	}

	if res.Lines > 0 {
		kind := telemetry.IncrementalBurst
		if res.Full {
			kind = telemetry.FullBurst
		}
		l.logger.Debug("cycle complete", logging.F("kind", kind), logging.F("lines", res.Lines))
		if l.reporter != nil {
			l.reporter.Report(telemetry.NewSummary(l.now(), l.conn.Session(), kind, res.Lines, l.store.Snapshot()))
		}
	}
	return res, nil
}

// FullBurst sends the initializer, every field of every channel and the
// supplementary commands, regardless of what was sent before.
func (l *Loop) FullBurst() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fullBurstLocked()
}

// IncrementalBurst sends only the fields that changed since they were last
// sent.
func (l *Loop) IncrementalBurst() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.incrementalBurstLocked()
}

func (l *Loop) fullBurstLocked() (int, error) {
	sent := 0
	l.logger.Debug("sending full burst")
	for ch := 0; ch < l.store.Len(); ch++ {
		lines, err := l.plan.InitLines(ch)
		if err != nil {
			return sent, err
		}
		for _, line := range lines {
			if err := l.send(line); err != nil {
				return sent, err
			}
			sent++
		}
		for _, f := range channel.Fields {
			if err := l.sendField(ch, f); err != nil {
				return sent, err
			}
			sent++
		}
	}

	extra, err := l.plan.ExtraLines()
	if err != nil {
		return sent, err
	}
	for _, line := range extra {
		if err := l.send(line); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (l *Loop) incrementalBurstLocked() (int, error) {
	sent := 0
	for _, ref := range l.store.ChangedFields() {
		if err := l.sendField(ref.Channel, ref.Field); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// sendField transmits one field and marks it committed as soon as the
// transport has accepted it.
func (l *Loop) sendField(ch int, f channel.Field) error {
	v, err := l.store.Value(ch, f)
	if err != nil {
		return err
	}
	line, err := command.EncodeField(ch, f, v)
	if err != nil {
		return err
	}
	if err := l.send(line); err != nil {
		return err
	}
	return l.store.Commit(ch, f)
}

func (l *Loop) send(line string) error {
	if err := l.conn.Send(line); err != nil {
		return err
	}
	l.stats.LinesSent++
	if l.logger.Enabled(logging.Debug) {
		l.logger.Debug("sent command", logging.F("line", strings.TrimRight(line, "\n")))
	}
	return nil
}

func (l *Loop) fail(stage string, err error) {
	l.stats.Failures++
	l.stats.LastFailure = err.Error()
	l.logger.Warn(stage+" failed", logging.Err(err))
	_ = l.conn.Close()
}

func (l *Loop) closeConn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.Close()
}

// SetSignal updates a channel's desired state. It waits for any burst in
// progress, so an update is never half-applied to a burst.
func (l *Loop) SetSignal(ch int, frequency float64, phase, amplitude int) error {
	return l.UpdateSignal(ch, frequency, &phase, &amplitude)
}

// UpdateSignal is SetSignal where a nil phase or amplitude keeps the current
// value. The read of the kept fields and the write happen under one lock.
func (l *Loop) UpdateSignal(ch int, frequency float64, phase, amplitude *int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.store.UpdateSignal(ch, frequency, phase, amplitude)
	switch {
	case err == nil:
		fields := []logging.Field{logging.F("channel", ch), logging.F("frequency", frequency)}
		if phase != nil {
			fields = append(fields, logging.F("phase", *phase))
		}
		if amplitude != nil {
			fields = append(fields, logging.F("amplitude", *amplitude))
		}
		l.logger.Debug("signal updated", fields...)
	case errors.Is(err, channel.ErrValueRejected):
		l.logger.Warn("signal rejected", logging.F("channel", ch), logging.Err(err))
	}
	return err
}

// Snapshot returns a copy of every channel's state.
func (l *Loop) Snapshot() []channel.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Snapshot()
}

// Stats returns the loop's counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
