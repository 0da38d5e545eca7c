// Package policy holds the per-guild moderation configuration and the store
// that owns it.
package policy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"spamguard/internal/config"
)

// Reduction controls what happens to a user's score after a flag.
type Reduction string

const (
	// ReduceSubtract removes one threshold worth of score, so chronic
	// offenders stay close to the line.
	ReduceSubtract Reduction = "subtract"
	ReduceReset    Reduction = "reset"
)

// MaxTimeoutMinutes is the longest member timeout the platform accepts (28 days).
const MaxTimeoutMinutes = 28 * 24 * 60

// Upper bounds on the history and account-age settings. They keep the
// derived durations, and the eviction horizon built from them, far from
// overflow.
const (
	MaxWindow              = 30 * 24 * time.Hour
	MaxNewAccountBonusDays = 3650
)

type GuildPolicy struct {
	GuildID string

	RapidWindow      time.Duration
	RapidMaxMessages int
	RapidScoreWeight float64

	DuplicateWindow      time.Duration
	DuplicateScoreWeight float64

	URLMaxBeforePenalty int
	URLScoreWeight      float64

	URLRepeatWindow      time.Duration
	URLRepeatMax         int
	URLRepeatScoreWeight float64

	MentionMax         int
	MentionScoreWeight float64

	NewAccountBonusDays   int
	NewAccountScoreWeight float64

	ScoreDecayPerSecond float64
	FlagThreshold       float64
	FlagReduction       Reduction

	TimeoutMinutes       int
	TimeoutAfterOffenses int
	OffenseWindow        time.Duration
	SevereFactor         float64

	IgnoredRoleIDs    map[string]struct{}
	IgnoredChannelIDs map[string]struct{}
	IgnoredUserIDs    map[string]struct{}

	Rules        Toggles
	LogChannelID string
}

// Defaults converts the configured defaults into a policy for guildID.
func Defaults(guildID string, cfg config.PolicyConfig) GuildPolicy {
	return GuildPolicy{
		GuildID:               guildID,
		RapidWindow:           seconds(cfg.RapidWindowSeconds),
		RapidMaxMessages:      cfg.RapidMaxMessages,
		RapidScoreWeight:      cfg.RapidScoreWeight,
		DuplicateWindow:       seconds(cfg.DuplicateWindowSeconds),
		DuplicateScoreWeight:  cfg.DuplicateScoreWeight,
		URLMaxBeforePenalty:   cfg.URLMaxBeforePenalty,
		URLScoreWeight:        cfg.URLScoreWeight,
		URLRepeatWindow:       seconds(cfg.URLRepeatWindowSeconds),
		URLRepeatMax:          cfg.URLRepeatMax,
		URLRepeatScoreWeight:  cfg.URLRepeatScoreWeight,
		MentionMax:            cfg.MentionMax,
		MentionScoreWeight:    cfg.MentionScoreWeight,
		NewAccountBonusDays:   cfg.NewAccountBonusDays,
		NewAccountScoreWeight: cfg.NewAccountScoreWeight,
		ScoreDecayPerSecond:   cfg.ScoreDecayPerSecond,
		FlagThreshold:         cfg.FlagThreshold,
		FlagReduction:         Reduction(cfg.FlagReduction),
		TimeoutMinutes:        cfg.TimeoutMinutes,
		TimeoutAfterOffenses:  cfg.TimeoutAfterOffenses,
		OffenseWindow:         seconds(cfg.OffenseWindowSeconds),
		SevereFactor:          cfg.SevereFactor,
		IgnoredRoleIDs:        make(map[string]struct{}),
		IgnoredChannelIDs:     make(map[string]struct{}),
		IgnoredUserIDs:        make(map[string]struct{}),
		Rules:                 AllEnabled(cfg.DeleteMessages),
		LogChannelID:          cfg.LogChannelID,
	}
}

// Clone returns a deep copy; the ignore sets are never shared.
func (p GuildPolicy) Clone() GuildPolicy {
	out := p
	out.IgnoredRoleIDs = cloneSet(p.IgnoredRoleIDs)
	out.IgnoredChannelIDs = cloneSet(p.IgnoredChannelIDs)
	out.IgnoredUserIDs = cloneSet(p.IgnoredUserIDs)
	return out
}

func (p GuildPolicy) IsRoleIgnored(roleID string) bool {
	_, ok := p.IgnoredRoleIDs[roleID]
	return ok
}

func (p GuildPolicy) IsChannelIgnored(channelID string) bool {
	_, ok := p.IgnoredChannelIDs[channelID]
	return ok
}

func (p GuildPolicy) IsUserIgnored(userID string) bool {
	_, ok := p.IgnoredUserIDs[userID]
	return ok
}

// AnyRoleIgnored reports whether one of roleIDs exempts its holder.
func (p GuildPolicy) AnyRoleIgnored(roleIDs []string) bool {
	for _, id := range roleIDs {
		if p.IsRoleIgnored(id) {
			return true
		}
	}
	return false
}

// LargestWindow is the longest history any rule of the policy keeps.
func (p GuildPolicy) LargestWindow() time.Duration {
	largest := p.RapidWindow
	for _, w := range []time.Duration{p.DuplicateWindow, p.URLRepeatWindow, p.OffenseWindow} {
		if w > largest {
			largest = w
		}
	}
	return largest
}

func (p GuildPolicy) TimeoutDuration() time.Duration {
	return time.Duration(p.TimeoutMinutes) * time.Minute
}

// Validate checks the invariants every stored policy must satisfy.
func (p GuildPolicy) Validate() error {
	windows := []struct {
		field string
		value time.Duration
	}{
		{"rapid_window_seconds", p.RapidWindow},
		{"duplicate_window_seconds", p.DuplicateWindow},
		{"url_repeat_window_seconds", p.URLRepeatWindow},
		{"offense_window_seconds", p.OffenseWindow},
	}
	for _, w := range windows {
		if w.value <= 0 {
			return invalid(w.field, "must be greater than zero")
		}
		if w.value > MaxWindow {
			return invalid(w.field, fmt.Sprintf("must be at most %d (30 days)", wholeSeconds(MaxWindow)))
		}
	}

	counts := []struct {
		field string
		value int
	}{
		{"rapid_max_messages", p.RapidMaxMessages},
		{"url_max_before_penalty", p.URLMaxBeforePenalty},
		{"url_repeat_max", p.URLRepeatMax},
		{"mention_max", p.MentionMax},
		{"new_account_bonus_days", p.NewAccountBonusDays},
		{"timeout_after_offenses", p.TimeoutAfterOffenses},
	}
	for _, c := range counts {
		if c.value < 0 {
			return invalid(c.field, "must not be negative")
		}
	}

	weights := []struct {
		field string
		value float64
	}{
		{"rapid_score_weight", p.RapidScoreWeight},
		{"duplicate_score_weight", p.DuplicateScoreWeight},
		{"url_score_weight", p.URLScoreWeight},
		{"url_repeat_score_weight", p.URLRepeatScoreWeight},
		{"mention_score_weight", p.MentionScoreWeight},
		{"new_account_score_weight", p.NewAccountScoreWeight},
		{"score_decay_per_second", p.ScoreDecayPerSecond},
		{"severe_factor", p.SevereFactor},
	}
	for _, w := range weights {
		if w.value < 0 || math.IsNaN(w.value) || math.IsInf(w.value, 0) {
			return invalid(w.field, "must be a finite number, not negative")
		}
	}

	if p.NewAccountBonusDays > MaxNewAccountBonusDays {
		return invalid("new_account_bonus_days", fmt.Sprintf("must be at most %d", MaxNewAccountBonusDays))
	}
	if !(p.FlagThreshold > 0) || math.IsInf(p.FlagThreshold, 0) {
		return invalid("flag_threshold", "must be greater than zero")
	}
	if p.SevereFactor > 0 && p.SevereFactor < 1 {
		return invalid("severe_factor", "must be 0 (disabled) or at least 1")
	}
	if p.TimeoutMinutes <= 0 || p.TimeoutMinutes > MaxTimeoutMinutes {
		return invalid("timeout_minutes", fmt.Sprintf("must be between 1 and %d", MaxTimeoutMinutes))
	}
	switch p.FlagReduction {
	case ReduceSubtract, ReduceReset:
	default:
		return invalid("flag_reduction", "must be subtract or reset")
	}
	return nil
}

// Sorted returns the members of an ignore set in a stable order.
func Sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// seconds converts a count of seconds, saturating instead of wrapping so an
// absurd input still fails validation.
func seconds(n int) time.Duration {
	const limit = math.MaxInt64 / int64(time.Second)
	switch {
	case int64(n) > limit:
		return math.MaxInt64
	case int64(n) < -limit:
		return math.MinInt64
	}
	return time.Duration(n) * time.Second
}
