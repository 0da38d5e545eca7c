// Package evaluator scores inbound messages against their guild's policy and
// decides whether to flag them.
package evaluator

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"spamguard/internal/activity"
	"spamguard/internal/config"
	"spamguard/internal/enforcement"
	"spamguard/internal/fingerprint"
	"spamguard/internal/policy"
	"spamguard/internal/scoring"
)

type Outcome string

const (
	Passed  Outcome = "passed"
	Flagged Outcome = "flagged"
)

// Reasons a message passed without being scored, or was flagged.
const (
	ReasonScored             = "scored"
	ReasonFlagged            = "flagged"
	ReasonMalformed          = "malformed"
	ReasonModerationDisabled = "moderation_disabled"
	ReasonIgnoredChannel     = "ignored_channel"
	ReasonIgnoredRole        = "ignored_role"
	ReasonIgnoredUser        = "ignored_user"
	ReasonCanceled           = "canceled"
	ReasonTimeout            = "timeout"
)

type Result struct {
	Outcome Outcome
	Reason  string
	// Score is the user's score right after this message, before any
	// reduction applied by a flag.
	Score     float64
	Delta     float64
	Triggered []policy.Rule
	// Remaining is the score carried forward.
	Remaining float64
	Decision  *enforcement.Decision
}

// LateFunc receives the result of an evaluation that finished after
// EvaluateWithin stopped waiting for it.
type LateFunc func(msg Message, result Result)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Evaluator owns the activity windows and is their only writer.
type Evaluator struct {
	policies *policy.Store
	tracker  *activity.Tracker
	turns    *turns
	late     LateFunc
	cfg      config.EvaluatorConfig
	clock    Clock
	logger   *zap.Logger
}

func New(policies *policy.Store, cfg config.EvaluatorConfig, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		policies: policies,
		tracker:  activity.NewTracker(),
		turns:    newTurns(),
		cfg:      cfg,
		clock:    realClock{},
		logger:   logger,
	}
}

func (e *Evaluator) WithClock(clock Clock) {
	e.clock = clock
}

// OnLate registers fn for results EvaluateWithin gave up waiting for, so a
// flag raised after the deadline still reaches enforcement. Set it before
// the first evaluation.
func (e *Evaluator) OnLate(fn LateFunc) {
	e.late = fn
}

// Evaluate runs one message through the pipeline. It returns an error only
// for malformed messages and a canceled context; in both cases the message
// passes and no state changes. Messages from one user in one guild are
// evaluated in the order the calls were made.
func (e *Evaluator) Evaluate(ctx context.Context, msg Message) (Result, error) {
	wait, done := e.turns.take(activity.Key(msg.GuildID, msg.AuthorID))
	return e.evaluateTurn(ctx, msg, wait, done)
}

// evaluateTurn evaluates msg once the user's earlier messages are done. If
// ctx ends first the message passes, and the turn is handed on only after
// its predecessor finishes.
func (e *Evaluator) evaluateTurn(ctx context.Context, msg Message, wait <-chan struct{}, done func()) (Result, error) {
	start := time.Now()
	var result Result
	var err error
	select {
	case <-wait:
		result, err = e.evaluate(ctx, msg)
		done()
	case <-ctx.Done():
		go func() {
			<-wait
			done()
		}()
		result, err = Result{Outcome: Passed, Reason: ReasonCanceled}, ctx.Err()
	}
	evaluationDuration.Observe(time.Since(start).Seconds())
	evaluationCount.WithLabelValues(string(result.Outcome), result.Reason).Inc()
	for _, rule := range result.Triggered {
		triggeredCount.WithLabelValues(string(rule)).Inc()
	}
	return result, err
}

func (e *Evaluator) evaluate(ctx context.Context, msg Message) (Result, error) {
	if err := msg.validate(); err != nil {
		return Result{Outcome: Passed, Reason: ReasonMalformed}, err
	}
	p := e.policies.Get(msg.GuildID)
	switch {
	case !p.Rules.Moderation:
		return Result{Outcome: Passed, Reason: ReasonModerationDisabled}, nil
	case p.IsUserIgnored(msg.AuthorID):
		return Result{Outcome: Passed, Reason: ReasonIgnoredUser}, nil
	case p.IsChannelIgnored(msg.ChannelID):
		return Result{Outcome: Passed, Reason: ReasonIgnoredChannel}, nil
	case p.AnyRoleIgnored(msg.AuthorRoleIDs):
		return Result{Outcome: Passed, Reason: ReasonIgnoredRole}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{Outcome: Passed, Reason: ReasonCanceled}, err
	}

	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = e.clock.Now()
	}
	obs := activity.Observation{
		Fingerprint: fingerprint.Sum(msg.Text),
		URLs:        msg.urls(),
		Mentions:    msg.mentionCount(),
	}
	limits := activity.Limits{
		Rapid:     p.RapidWindow,
		Duplicate: p.DuplicateWindow,
		URLRepeat: p.URLRepeatWindow,
	}

	result := Result{Outcome: Passed, Reason: ReasonScored}
	e.tracker.Do(msg.GuildID, msg.AuthorID, func(w *activity.Window) {
		at := w.Clamp(sentAt)
		obs.At = at
		w.Decay(at, p.ScoreDecayPerSecond)
		signals := w.Record(obs, limits)

		in := scoring.Input{Signals: signals}
		if !msg.AuthorCreatedAt.IsZero() {
			in.AccountAge = at.Sub(msg.AuthorCreatedAt)
			in.AccountAgeKnown = true
		}
		delta, triggered := scoring.Combine(in, p)
		score := w.AddScore(delta)

		result.Score = score
		result.Delta = delta
		result.Triggered = triggered
		result.Remaining = score
		if score < p.FlagThreshold {
			return
		}

		offenses := w.RecordOffense(at, p.OffenseWindow)
		decision := buildDecision(msg, p, score, triggered, offenses, at)
		if p.FlagReduction == policy.ReduceReset {
			w.Reset()
		} else {
			w.Reduce(p.FlagThreshold)
		}
		result.Outcome = Flagged
		result.Reason = ReasonFlagged
		result.Remaining = w.Score()
		result.Decision = &decision
	})
	trackedWindows.Set(float64(e.tracker.Len()))

	if result.Outcome == Flagged {
		e.logger.Info("message flagged",
			zap.String("event_id", result.Decision.ID),
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.AuthorID),
			zap.Float64("score", result.Score),
			zap.Strings("rules", result.Decision.Reasons()),
			zap.Int("offenses", result.Decision.Offenses),
		)
	}
	return result, nil
}

func buildDecision(msg Message, p policy.GuildPolicy, score float64, triggered []policy.Rule, offenses int, at time.Time) enforcement.Decision {
	timeout := p.TimeoutAfterOffenses > 0 && offenses >= p.TimeoutAfterOffenses
	if p.SevereFactor > 0 && score >= p.SevereFactor*p.FlagThreshold {
		timeout = true
	}
	actions := enforcement.Actions{
		Delete:       p.Rules.Delete,
		Timeout:      timeout,
		Log:          p.LogChannelID != "",
		LogChannelID: p.LogChannelID,
	}
	if timeout {
		actions.TimeoutFor = p.TimeoutDuration()
	}
	return enforcement.Decision{
		ID:        enforcement.NewEventID(at),
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		UserID:    msg.AuthorID,
		MessageID: msg.MessageID,
		Score:     score,
		Triggered: append([]policy.Rule(nil), triggered...),
		Actions:   actions,
		Offenses:  offenses,
		Text:      msg.Text,
		CreatedAt: at,
	}
}

type outcome struct {
	result Result
	err    error
}

// EvaluateWithin bounds Evaluate by timeout. When the deadline passes first
// the message passes; the evaluation still completes in the background and
// its result goes to the OnLate handler. The user's turn is taken before
// returning control, so arrival order holds even across timeouts.
func (e *Evaluator) EvaluateWithin(ctx context.Context, msg Message, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		return e.Evaluate(ctx, msg)
	}
	wait, done := e.turns.take(activity.Key(msg.GuildID, msg.AuthorID))
	finished := make(chan outcome, 1)
	go func() {
		result, err := e.evaluateTurn(context.WithoutCancel(ctx), msg, wait, done)
		finished <- outcome{result, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-finished:
		return out.result, out.err
	case <-timer.C:
		e.logger.Warn("evaluation timed out, passing message", zap.String("guild_id", msg.GuildID), zap.String("message_id", msg.MessageID))
		evaluationCount.WithLabelValues(string(Passed), ReasonTimeout).Inc()
		go e.deliverLate(msg, finished)
		return Result{Outcome: Passed, Reason: ReasonTimeout}, nil
	case <-ctx.Done():
		go e.deliverLate(msg, finished)
		return Result{Outcome: Passed, Reason: ReasonCanceled}, ctx.Err()
	}
}

func (e *Evaluator) deliverLate(msg Message, finished <-chan outcome) {
	out := <-finished
	if out.err != nil {
		return
	}
	lateResults.WithLabelValues(string(out.result.Outcome)).Inc()
	if out.result.Outcome == Flagged {
		e.logger.Warn("late flag", zap.String("event_id", out.result.Decision.ID), zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID))
	}
	if e.late != nil {
		e.late(msg, out.result)
	}
}

// Timeout is the configured per-message evaluation budget.
func (e *Evaluator) Timeout() time.Duration {
	return time.Duration(e.cfg.TimeoutMillis) * time.Millisecond
}

// Horizon is how long a guild's idle windows are kept.
func (e *Evaluator) Horizon(guildID string) time.Duration {
	multiplier := time.Duration(max(e.cfg.RetentionMultiplier, 1))
	window := e.policies.Get(guildID).LargestWindow()
	if window > 0 && multiplier > math.MaxInt64/window {
		return math.MaxInt64
	}
	return multiplier * window
}

// Sweep evicts idle windows as of now and returns how many were removed.
func (e *Evaluator) Sweep(now time.Time) int {
	removed := e.tracker.Sweep(now, e.Horizon)
	evictedWindows.Add(float64(removed))
	trackedWindows.Set(float64(e.tracker.Len()))
	return removed
}

// Run sweeps on the configured interval until ctx is done.
func (e *Evaluator) Run(ctx context.Context) error {
	interval := time.Duration(e.cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := e.Sweep(e.clock.Now()); removed > 0 {
				e.logger.Debug("swept idle windows", zap.Int("removed", removed), zap.Int("remaining", e.tracker.Len()))
			}
		}
	}
}

// Forget drops everything known about a user in a guild.
func (e *Evaluator) Forget(guildID, userID string) bool {
	removed := e.tracker.Forget(guildID, userID)
	trackedWindows.Set(float64(e.tracker.Len()))
	return removed
}

// Score is the user's current decayed score, zero when nothing is tracked.
func (e *Evaluator) Score(guildID, userID string) float64 {
	var score float64
	rate := e.policies.Get(guildID).ScoreDecayPerSecond
	e.tracker.Peek(guildID, userID, func(w *activity.Window) {
		score = w.ScoreAt(e.clock.Now(), rate)
	})
	return score
}

// Top lists the highest current scores in a guild.
func (e *Evaluator) Top(guildID string, limit int) []activity.ScoreEntry {
	return e.tracker.Top(guildID, e.clock.Now(), e.decayRate, limit)
}

func (e *Evaluator) Tracked() int {
	return e.tracker.Len()
}

func (e *Evaluator) decayRate(guildID string) float64 {
	return e.policies.Get(guildID).ScoreDecayPerSecond
}
