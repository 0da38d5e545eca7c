package enforcement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"spamguard/internal/config"
	"spamguard/internal/modules/audit"
)

// Auditor records enforcement events. *audit.Logger satisfies it.
type Auditor interface {
	Log(ctx context.Context, level, guildID, userID, event, details string)
}

// Recorder keeps the durable per-user strike count. *storage.Store
// satisfies it.
type Recorder interface {
	IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string, expireAfter time.Duration) (int, error)
}

const InfractionCategory = "spam"

type Options struct {
	RatePerSecond   float64
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	ExcerptChars    int
	// StrikeExpiry is how long stored strikes live after the latest one.
	StrikeExpiry time.Duration
	// DryRun logs decisions without deleting or timing out.
	DryRun bool
}

const maxStrikeExpiryDays = 3650

func OptionsFromConfig(cfg config.EnforcementConfig, dryRun bool) Options {
	days := min(cfg.StrikeExpiryDays, maxStrikeExpiryDays)
	return Options{
		RatePerSecond:   cfg.RatePerSecond,
		Burst:           cfg.Burst,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
		ExcerptChars:    cfg.ExcerptChars,
		StrikeExpiry:    time.Duration(max(days, 0)) * 24 * time.Hour,
		DryRun:          dryRun,
	}
}

// Dispatcher executes decisions. It never returns an error: every failure is
// reported, audited and otherwise dropped.
type Dispatcher struct {
	exec     Executor
	opts     Options
	breaker  *gobreaker.CircuitBreaker[struct{}]
	limiter  *rate.Limiter
	audit    Auditor
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(exec Executor, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		exec:   exec,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(limit, burst)

	failures := uint32(5)
	if opts.BreakerFailures > 0 {
		failures = uint32(opts.BreakerFailures)
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	d.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "discord-enforcement",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a missing permission is a guild setup problem, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || StatusOf(err) == StatusForbidden
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("enforcement breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if to == gobreaker.StateOpen {
				breakerState.Set(1)
			} else {
				breakerState.Set(0)
			}
		},
	})
	return d
}

func (d *Dispatcher) SetAuditor(a Auditor) {
	d.audit = a
}

func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// WithClock overrides the time source used for timeout deadlines.
func (d *Dispatcher) WithClock(now func() time.Time) {
	d.now = now
}

// Execute runs the actions of a decision in order: delete, timeout, log.
// Failed actions do not stop the later ones. The strike is stored before the
// log entry is posted so the entry carries the new count.
func (d *Dispatcher) Execute(ctx context.Context, dec Decision) Report {
	report := Report{
		DecisionID: dec.ID,
		Delete:     StatusNotAttempted,
		Timeout:    StatusNotAttempted,
		Log:        StatusNotAttempted,
	}

	if dec.Actions.Delete {
		report.Delete = d.run(ctx, &report, ActionDelete, func(ctx context.Context) error {
			return d.exec.DeleteMessage(ctx, dec.ChannelID, dec.MessageID)
		})
	}
	if dec.Actions.Timeout && dec.Actions.TimeoutFor > 0 {
		until := d.now().Add(dec.Actions.TimeoutFor)
		report.Timeout = d.run(ctx, &report, ActionTimeout, func(ctx context.Context) error {
			return d.exec.TimeoutMember(ctx, dec.GuildID, dec.UserID, until)
		})
	}
	report.Strikes = d.strike(ctx, dec)
	if dec.Actions.Log && dec.Actions.LogChannelID != "" {
		entry := d.logEntry(dec, report)
		report.Log = d.call(ctx, &report, ActionLog, func(ctx context.Context) error {
			return d.exec.PostLog(ctx, dec.Actions.LogChannelID, entry)
		})
	}

	d.auditReport(ctx, dec, report)
	return report
}

// run performs a moderation action, or only reports it in dry-run mode.
func (d *Dispatcher) run(ctx context.Context, report *Report, action string, fn func(context.Context) error) Status {
	if d.opts.DryRun {
		actionCount.WithLabelValues(action, string(StatusDryRun)).Inc()
		return StatusDryRun
	}
	return d.call(ctx, report, action, fn)
}

func (d *Dispatcher) call(ctx context.Context, report *Report, action string, fn func(context.Context) error) Status {
	if err := d.limiter.Wait(ctx); err != nil {
		report.Failures = append(report.Failures, &Failure{Action: action, Err: err})
		actionCount.WithLabelValues(action, string(StatusNotAttempted)).Inc()
		return StatusNotAttempted
	}
	_, err := d.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	status := StatusOf(err)
	actionCount.WithLabelValues(action, string(status)).Inc()
	if err != nil {
		report.Failures = append(report.Failures, &Failure{Action: action, Err: err})
		d.logger.Warn("enforcement action failed", zap.String("action", action), zap.String("status", string(status)), zap.Error(err))
	}
	return status
}

func (d *Dispatcher) logEntry(dec Decision, report Report) LogEntry {
	limit := d.opts.ExcerptChars
	if limit <= 0 {
		limit = DefaultExcerptChars
	}
	return LogEntry{
		EventID:       dec.ID,
		GuildID:       dec.GuildID,
		ChannelID:     dec.ChannelID,
		UserID:        dec.UserID,
		MessageID:     dec.MessageID,
		Score:         dec.Score,
		Offenses:      dec.Offenses,
		Strikes:       report.Strikes,
		Reasons:       dec.Reasons(),
		Action:        dec.Actions.Label(),
		Excerpt:       Excerpt(dec.Text, limit),
		DeleteStatus:  report.Delete,
		TimeoutStatus: report.Timeout,
		TimeoutFor:    dec.Actions.TimeoutFor,
		At:            dec.CreatedAt,
	}
}

func (d *Dispatcher) strike(ctx context.Context, dec Decision) int {
	if d.recorder == nil {
		return 0
	}
	strikes, err := d.recorder.IncrementInfraction(ctx, dec.GuildID, dec.UserID, InfractionCategory, dec.Actions.strongest(), d.opts.StrikeExpiry)
	if err != nil {
		d.logger.Warn("strike record failed", zap.String("guild_id", dec.GuildID), zap.String("user_id", dec.UserID), zap.Error(err))
		return 0
	}
	return strikes
}

func (d *Dispatcher) auditReport(ctx context.Context, dec Decision, report Report) {
	if d.audit == nil {
		return
	}
	level := audit.LevelWarn
	if dec.Actions.Timeout {
		level = audit.LevelCrit
	}
	details := fmt.Sprintf("event_id=%s score=%.2f rules=%s offenses=%d strikes=%d action=%q delete=%s timeout=%s log=%s",
		dec.ID, dec.Score, strings.Join(dec.Reasons(), ","), dec.Offenses, report.Strikes, dec.Actions.Label(), report.Delete, report.Timeout, report.Log)
	d.audit.Log(ctx, level, dec.GuildID, dec.UserID, "spam_flagged", details)
	for _, f := range report.Failures {
		d.audit.Log(ctx, audit.LevelWarn, dec.GuildID, dec.UserID, "enforcement_failed", fmt.Sprintf("event_id=%s %s status=%s", dec.ID, f.Error(), StatusOf(f.Err)))
	}
}
