// Package scheduler runs the cron jobs: cache warm-up and signal checks, and answers chat commands.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"TopSignals/internal/model"
	"TopSignals/internal/notifier"
	"TopSignals/internal/service"
)

const sendRetries = 3

// Metrics is the subset of the service the jobs read.
type Metrics interface {
	BTCIndicators(ctx context.Context) (service.Response[model.Indicators], error)
	PiCycle(ctx context.Context) (service.Response[model.PiCycle], error)
	CoinbaseRank(ctx context.Context) (service.Response[model.RankReport], error)
	Refresh(ctx context.Context) error
}

// Sender delivers chat messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// AlertCounter records delivered alerts.
type AlertCounter interface {
	AlertSent(rule string)
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron    *cron.Cron
	Metrics Metrics
	Alerter *notifier.Alerter
	// Sender is nil when Telegram is not configured; alerts are then only logged.
	Sender  Sender
	Counter AlertCounter
	Ctx     context.Context
	logger  *slog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, m Metrics, sender Sender, counter AlertCounter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Metrics: m,
		Alerter: notifier.NewAlerter(),
		Sender:  sender,
		Counter: counter,
		Ctx:     ctx,
		logger:  logger.With("component", "scheduler"),
	}
}

// RegisterAll registers the warm-up and signal check tasks.
func (s *Scheduler) RegisterAll(warmCron, signalCron string) error {
	if _, err := s.Cron.AddFunc(warmCron, s.warmTask); err != nil {
		return fmt.Errorf("register warm task: %w", err)
	}
	if _, err := s.Cron.AddFunc(signalCron, s.signalTask); err != nil {
		return fmt.Errorf("register signal task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.Cron.Entries()))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunWarmNow refreshes every cached metric immediately (RUN_ON_START).
func (s *Scheduler) RunWarmNow() {
	s.warmTask()
}

func (s *Scheduler) warmTask() {
	s.logger.Info("running warm task")
	if err := s.Metrics.Refresh(s.Ctx); err != nil {
		s.logger.Warn("warm task incomplete", "error", err)
		return
	}
	s.logger.Info("warm task done")
}

func (s *Scheduler) signalTask() {
	if _, err := s.CheckSignals(s.Ctx); err != nil {
		s.logger.Error("signal check failed", "error", err)
	}
}

// CheckSignals resolves the signal metrics, evaluates the alert rules and delivers the
// alerts that just fired. A metric that cannot be resolved is skipped.
func (s *Scheduler) CheckSignals(ctx context.Context) ([]notifier.Alert, error) {
	snap := s.snapshot(ctx)
	if snap.Indicators == nil && snap.PiCycle == nil && snap.Ranks == nil {
		return nil, fmt.Errorf("no signal metric available")
	}

	alerts := s.Alerter.Evaluate(snap)
	s.logger.Info("signals checked", "alerts", len(alerts))
	if err := s.Alerter.Save(); err != nil {
		s.logger.Warn("alert state not saved", "error", err)
	}
	for _, a := range alerts {
		text := notifier.FormatAlert(a)
		if s.Sender == nil {
			s.logger.Info("alert (dry run)", "rule", a.Rule, "message", text)
		} else if err := s.Sender.SendWithRetry(ctx, text, sendRetries); err != nil {
			s.logger.Error("send alert failed", "rule", a.Rule, "error", err)
			continue
		}
		if s.Counter != nil {
			s.Counter.AlertSent(a.Rule)
		}
	}
	return alerts, nil
}

func (s *Scheduler) snapshot(ctx context.Context) notifier.Snapshot {
	var snap notifier.Snapshot
	var g errgroup.Group
	g.Go(func() error {
		if r, err := s.Metrics.BTCIndicators(ctx); err == nil {
			snap.Indicators = &r.Value
		} else {
			s.logger.Warn("indicators unavailable", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if r, err := s.Metrics.PiCycle(ctx); err == nil {
			snap.PiCycle = &r.Value
		} else {
			s.logger.Warn("pi cycle unavailable", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if r, err := s.Metrics.CoinbaseRank(ctx); err == nil {
			snap.Ranks = &r.Value
		} else {
			s.logger.Warn("coinbase rank unavailable", "error", err)
		}
		return nil
	})
	_ = g.Wait()
	return snap
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	cmd, _, _ := strings.Cut(strings.ToLower(command), "@")
	switch cmd {
	case "/signals":
		snap := s.snapshot(ctx)
		return notifier.FormatSignals(snap.Indicators, snap.PiCycle)
	case "/ranks":
		return notifier.FormatRanks(s.snapshotRanks(ctx))
	default:
		return notifier.Help()
	}
}

func (s *Scheduler) snapshotRanks(ctx context.Context) *model.RankReport {
	r, err := s.Metrics.CoinbaseRank(ctx)
	if err != nil {
		s.logger.Warn("coinbase rank unavailable", "error", err)
		return nil
	}
	return &r.Value
}
