package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"restartwatch/internal/config"
	"restartwatch/internal/docker"
	"restartwatch/internal/ledger"
	"restartwatch/internal/metrics"
	"restartwatch/internal/notify"
	"restartwatch/internal/probe"
)

const (
	// Cooldown replaces the check interval once the restart budget is spent.
	Cooldown = 300 * time.Second

	statusEvery       = 10
	restartTimeout    = 2 * time.Minute
	notifyTimeout     = 10 * time.Second
	stopNotifyTimeout = 5 * time.Second
)

type Prober interface {
	Probe(ctx context.Context, url string, connectTimeout, maxTimeout time.Duration) probe.Result
}

type Containers interface {
	Exists(ctx context.Context, name string) (bool, error)
	Restart(ctx context.Context, name string) error
}

type Outcome int

const (
	Healthy Outcome = iota
	Unhealthy
	TransportFailure
)

func (o Outcome) String() string {
	switch o {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "transport_failure"
	}
}

type State string

const (
	StateChecking   State = "checking"
	StateStreaking  State = "streaking"
	StateRestarting State = "restarting"
	StateCooldown   State = "cooldown"
)

// RunState is owned by the loop goroutine.
type RunState struct {
	ConsecutiveFailures int
	TotalChecks         int
	TotalRestarts       int
}

// Status is the snapshot published after every tick and before every
// notification.
type Status struct {
	State               State
	ConsecutiveFailures int
	TotalChecks         int
	TotalRestarts       int
	RecentRestarts      int
	RecentRestartTimes  []time.Time
	LastOutcome         string
	LastStatusCode      int
	LastError           string
	LastCheckAt         time.Time
	StartedAt           time.Time
}

type Monitor struct {
	cfg        config.Config
	prober     Prober
	containers Containers
	notifier   notify.Notifier
	ledger     *ledger.Ledger
	metrics    *metrics.Collector
	log        *slog.Logger
	hostname   string
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	run       RunState
	state     State
	startedAt time.Time

	// Current tick, read by publish.
	tickAt      time.Time
	lastResult  probe.Result
	lastOutcome string

	mu     sync.RWMutex
	status Status
}

type Option func(*Monitor)

func WithLedger(l *ledger.Ledger) Option {
	return func(m *Monitor) { m.ledger = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

func WithHostname(name string) Option {
	return func(m *Monitor) { m.hostname = name }
}

// WithClock replaces the wall clock and the interruptible sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) {
		m.now = now
		m.sleep = sleep
	}
}

func New(cfg config.Config, prober Prober, containers Containers, notifier notify.Notifier, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:        cfg,
		prober:     prober,
		containers: containers,
		notifier:   notifier,
		log:        slog.Default(),
		now:        time.Now,
		sleep:      sleepContext,
		state:      StateChecking,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ledger == nil {
		m.ledger = ledger.New(nil, m.log)
	}
	if m.notifier == nil {
		m.notifier = notify.Multi{}
	}
	if m.hostname == "" {
		m.hostname = hostname()
	}
	m.startedAt = m.now().UTC()
	m.tickAt = m.startedAt
	m.publish()
	return m
}

// Run loops until ctx is cancelled, then emits a stopped notification.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("monitor started",
		"url", m.cfg.URL,
		"container", m.cfg.ContainerName,
		"interval", m.cfg.CheckInterval,
		"retry_count", m.cfg.RetryCount,
		"max_restarts_per_hour", m.cfg.MaxRestartsPerHour,
	)

	for ctx.Err() == nil {
		delay := m.tick(ctx)
		if ctx.Err() != nil {
			break
		}
		m.log.Debug("sleeping", "duration", delay, "state", m.state)
		if err := m.sleep(ctx, delay); err != nil {
			break
		}
	}

	m.log.Info("monitor stopping",
		"checks", m.run.TotalChecks,
		"restarts", m.run.TotalRestarts,
	)
	m.send(ctx, stopNotifyTimeout, notify.StatusStopped, "Monitor stopped")
}

// Status returns the latest snapshot. Safe for concurrent use.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.RecentRestartTimes = append([]time.Time(nil), m.status.RecentRestartTimes...)
	return s
}

// tick runs one probe and its decision, returning the pause before the next
// probe. A probe interrupted by cancellation is discarded.
func (m *Monitor) tick(ctx context.Context) time.Duration {
	res := m.prober.Probe(ctx, m.cfg.URL, m.cfg.ConnectTimeout, m.cfg.MaxTimeout)
	if ctx.Err() != nil {
		return 0
	}
	now := m.now()
	m.run.TotalChecks++

	outcome := Classify(m.cfg, res)
	m.metrics.ObserveCheck(outcome.String(), res.Duration)
	m.tickAt, m.lastResult, m.lastOutcome = now, res, outcome.String()

	var delay time.Duration
	if outcome == Healthy {
		delay = m.onHealthy(ctx, res)
	} else {
		delay = m.onFailure(ctx, outcome, res, now)
	}

	m.metrics.SetStreak(m.run.ConsecutiveFailures)
	m.publish()
	if m.run.TotalChecks%statusEvery == 0 {
		m.log.Info("status",
			"checks", m.run.TotalChecks,
			"restarts", m.run.TotalRestarts,
			"streak", m.run.ConsecutiveFailures,
			"recent_restarts", m.ledger.CountRecent(now),
			"state", m.state,
		)
	}
	return delay
}

// Classify maps one probe result onto an outcome under cfg's success codes.
func Classify(cfg config.Config, res probe.Result) Outcome {
	if res.Err != nil {
		return TransportFailure
	}
	if cfg.IsSuccess(res.StatusCode) {
		return Healthy
	}
	return Unhealthy
}

func (m *Monitor) onHealthy(ctx context.Context, res probe.Result) time.Duration {
	m.log.Debug("health check passed", "code", res.StatusCode, "duration", res.Duration)
	n := m.run.ConsecutiveFailures
	m.run.ConsecutiveFailures = 0
	m.state = StateChecking
	if n > 0 {
		m.log.Info("service recovered", "failures", n, "code", res.StatusCode)
		m.deliver(ctx, notify.StatusRecovered, fmt.Sprintf("Service recovered after %d consecutive failed checks", n))
	}
	return m.cfg.CheckInterval
}

func (m *Monitor) onFailure(ctx context.Context, outcome Outcome, res probe.Result, now time.Time) time.Duration {
	m.run.ConsecutiveFailures++
	attrs := []any{
		"outcome", outcome.String(),
		"streak", m.run.ConsecutiveFailures,
		"retry_count", m.cfg.RetryCount,
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	} else {
		attrs = append(attrs, "code", res.StatusCode)
	}
	m.log.Warn("health check failed", attrs...)

	if m.run.ConsecutiveFailures < m.cfg.RetryCount {
		m.state = StateStreaking
		return m.cfg.CheckInterval
	}
	return m.decide(ctx, now)
}

// decide handles a streak that reached RetryCount. The streak is consumed by
// every branch so the next decision needs a fresh run of failures.
func (m *Monitor) decide(ctx context.Context, now time.Time) time.Duration {
	streak := m.run.ConsecutiveFailures
	m.run.ConsecutiveFailures = 0
	name := m.cfg.ContainerName
	limit := m.cfg.MaxRestartsPerHour

	recent := m.ledger.CountRecent(now)
	m.log.Debug("restart budget", "recent_restarts", recent, "max_restarts_per_hour", limit)
	if !m.ledger.MayRestart(now, limit) {
		m.state = StateCooldown
		m.metrics.ObserveRestart("refused")
		m.log.Error("restart limit exceeded",
			"container", name,
			"recent_restarts", recent,
			"max_restarts_per_hour", limit,
			"cooldown", Cooldown,
		)
		m.deliver(ctx, notify.StatusCritical, fmt.Sprintf(
			"Restart limit exceeded (%d restarts in the last hour, max %d); not restarting %s", recent, limit, name))
		return Cooldown
	}

	m.state = StateRestarting
	m.log.Warn("restarting container", "container", name, "streak", streak)
	m.deliver(ctx, notify.StatusUnhealthy, fmt.Sprintf(
		"Service unhealthy after %d consecutive failed checks; restarting container %s", streak, name))

	if err := m.restart(ctx); err != nil {
		m.state = StateChecking
		m.metrics.ObserveRestart("failed")
		m.log.Error("container restart failed", "container", name, "error", err)
		m.deliver(ctx, notify.StatusCritical, fmt.Sprintf("Failed to restart container %s: %v", name, err))
		return m.cfg.CheckInterval
	}

	m.ledger.Record(now)
	m.run.TotalRestarts++
	m.metrics.ObserveRestart("success")
	m.log.Info("container restarted",
		"container", name,
		"recent_restarts", m.ledger.CountRecent(now),
		"resume_in", m.cfg.RestartDelay,
	)
	return m.cfg.RestartDelay
}

// restart is not aborted by cancellation; shutdown waits for it.
func (m *Monitor) restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restartTimeout)
	defer cancel()

	ok, err := m.containers.Exists(ctx, m.cfg.ContainerName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", docker.ErrContainerNotFound, m.cfg.ContainerName)
	}
	return m.containers.Restart(ctx, m.cfg.ContainerName)
}

func (m *Monitor) deliver(ctx context.Context, status notify.Status, message string) {
	m.send(ctx, notifyTimeout, status, message)
}

// send publishes the snapshot first so subscribers see the state the event
// describes. Delivery outlives ctx's cancellation but never timeout.
func (m *Monitor) send(ctx context.Context, timeout time.Duration, status notify.Status, message string) {
	m.publish()
	e := notify.Event{
		Status:    status,
		Message:   message,
		Container: m.cfg.ContainerName,
		URL:       m.cfg.URL,
		Timestamp: m.now().UTC(),
		Hostname:  m.hostname,
	}
	m.metrics.ObserveNotification(string(status))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, e); err != nil {
		m.log.Warn("notification delivery failed", "status", status, "error", err)
	}
}

func (m *Monitor) publish() {
	res, outcome := m.lastResult, m.lastOutcome
	times := m.ledger.Recent(m.tickAt)
	s := Status{
		State:               m.state,
		ConsecutiveFailures: m.run.ConsecutiveFailures,
		TotalChecks:         m.run.TotalChecks,
		TotalRestarts:       m.run.TotalRestarts,
		RecentRestarts:      len(times),
		RecentRestartTimes:  times,
		LastOutcome:         outcome,
		LastStatusCode:      res.StatusCode,
		StartedAt:           m.startedAt,
	}
	if outcome != "" {
		s.LastCheckAt = m.tickAt.UTC()
	}
	if res.Err != nil {
		s.LastError = res.Err.Error()
	}

	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}
