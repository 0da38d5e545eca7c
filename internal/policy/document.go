package policy

import (
	"fmt"
	"time"
)

// Document is the serialized form of a GuildPolicy, used for the stored
// payload and for export and import.
type Document struct {
	GuildID string `json:"guild_id"`

	RapidWindowSeconds int     `json:"rapid_window_seconds"`
	RapidMaxMessages   int     `json:"rapid_max_messages"`
	RapidScoreWeight   float64 `json:"rapid_score_weight"`

	DuplicateWindowSeconds int     `json:"duplicate_window_seconds"`
	DuplicateScoreWeight   float64 `json:"duplicate_score_weight"`

	URLMaxBeforePenalty int     `json:"url_max_before_penalty"`
	URLScoreWeight      float64 `json:"url_score_weight"`

	URLRepeatWindowSeconds int     `json:"url_repeat_window_seconds"`
	URLRepeatMax           int     `json:"url_repeat_max"`
	URLRepeatScoreWeight   float64 `json:"url_repeat_score_weight"`

	MentionMax         int     `json:"mention_max"`
	MentionScoreWeight float64 `json:"mention_score_weight"`

	NewAccountBonusDays   int     `json:"new_account_bonus_days"`
	NewAccountScoreWeight float64 `json:"new_account_score_weight"`

	ScoreDecayPerSecond float64 `json:"score_decay_per_second"`
	FlagThreshold       float64 `json:"flag_threshold"`
	FlagReduction       string  `json:"flag_reduction"`

	TimeoutMinutes       int     `json:"timeout_minutes"`
	TimeoutAfterOffenses int     `json:"timeout_after_offenses"`
	OffenseWindowSeconds int     `json:"offense_window_seconds"`
	SevereFactor         float64 `json:"severe_factor"`

	IgnoredRoleIDs    []string        `json:"ignored_role_ids"`
	IgnoredChannelIDs []string        `json:"ignored_channel_ids"`
	IgnoredUserIDs    []string        `json:"ignored_user_ids"`
	Rules             map[string]bool `json:"rules"`
	LogChannelID      string          `json:"log_channel_id,omitempty"`
}

func (p GuildPolicy) Document() Document {
	rules := make(map[string]bool, len(Rules))
	for _, r := range Rules {
		rules[string(r)] = p.Rules.Enabled(r)
	}
	return Document{
		GuildID:                p.GuildID,
		RapidWindowSeconds:     wholeSeconds(p.RapidWindow),
		RapidMaxMessages:       p.RapidMaxMessages,
		RapidScoreWeight:       p.RapidScoreWeight,
		DuplicateWindowSeconds: wholeSeconds(p.DuplicateWindow),
		DuplicateScoreWeight:   p.DuplicateScoreWeight,
		URLMaxBeforePenalty:    p.URLMaxBeforePenalty,
		URLScoreWeight:         p.URLScoreWeight,
		URLRepeatWindowSeconds: wholeSeconds(p.URLRepeatWindow),
		URLRepeatMax:           p.URLRepeatMax,
		URLRepeatScoreWeight:   p.URLRepeatScoreWeight,
		MentionMax:             p.MentionMax,
		MentionScoreWeight:     p.MentionScoreWeight,
		NewAccountBonusDays:    p.NewAccountBonusDays,
		NewAccountScoreWeight:  p.NewAccountScoreWeight,
		ScoreDecayPerSecond:    p.ScoreDecayPerSecond,
		FlagThreshold:          p.FlagThreshold,
		FlagReduction:          string(p.FlagReduction),
		TimeoutMinutes:         p.TimeoutMinutes,
		TimeoutAfterOffenses:   p.TimeoutAfterOffenses,
		OffenseWindowSeconds:   wholeSeconds(p.OffenseWindow),
		SevereFactor:           p.SevereFactor,
		IgnoredRoleIDs:         Sorted(p.IgnoredRoleIDs),
		IgnoredChannelIDs:      Sorted(p.IgnoredChannelIDs),
		IgnoredUserIDs:         Sorted(p.IgnoredUserIDs),
		Rules:                  rules,
		LogChannelID:           p.LogChannelID,
	}
}

// Policy converts the document back and validates it. Rules missing from the
// document are enabled.
func (d Document) Policy() (GuildPolicy, error) {
	p := GuildPolicy{
		GuildID:               d.GuildID,
		RapidWindow:           seconds(d.RapidWindowSeconds),
		RapidMaxMessages:      d.RapidMaxMessages,
		RapidScoreWeight:      d.RapidScoreWeight,
		DuplicateWindow:       seconds(d.DuplicateWindowSeconds),
		DuplicateScoreWeight:  d.DuplicateScoreWeight,
		URLMaxBeforePenalty:   d.URLMaxBeforePenalty,
		URLScoreWeight:        d.URLScoreWeight,
		URLRepeatWindow:       seconds(d.URLRepeatWindowSeconds),
		URLRepeatMax:          d.URLRepeatMax,
		URLRepeatScoreWeight:  d.URLRepeatScoreWeight,
		MentionMax:            d.MentionMax,
		MentionScoreWeight:    d.MentionScoreWeight,
		NewAccountBonusDays:   d.NewAccountBonusDays,
		NewAccountScoreWeight: d.NewAccountScoreWeight,
		ScoreDecayPerSecond:   d.ScoreDecayPerSecond,
		FlagThreshold:         d.FlagThreshold,
		FlagReduction:         Reduction(d.FlagReduction),
		TimeoutMinutes:        d.TimeoutMinutes,
		TimeoutAfterOffenses:  d.TimeoutAfterOffenses,
		OffenseWindow:         seconds(d.OffenseWindowSeconds),
		SevereFactor:          d.SevereFactor,
		IgnoredRoleIDs:        make(map[string]struct{}, len(d.IgnoredRoleIDs)),
		IgnoredChannelIDs:     make(map[string]struct{}, len(d.IgnoredChannelIDs)),
		IgnoredUserIDs:        make(map[string]struct{}, len(d.IgnoredUserIDs)),
		Rules:                 AllEnabled(true),
		LogChannelID:          d.LogChannelID,
	}
	if d.GuildID == "" {
		return GuildPolicy{}, invalid("guild_id", "is required")
	}
	for _, id := range d.IgnoredRoleIDs {
		p.IgnoredRoleIDs[id] = struct{}{}
	}
	for _, id := range d.IgnoredChannelIDs {
		p.IgnoredChannelIDs[id] = struct{}{}
	}
	for _, id := range d.IgnoredUserIDs {
		p.IgnoredUserIDs[id] = struct{}{}
	}
	for name, on := range d.Rules {
		if err := p.Rules.Set(Rule(name), on); err != nil {
			return GuildPolicy{}, err
		}
	}
	if err := p.Validate(); err != nil {
		return GuildPolicy{}, fmt.Errorf("guild %s: %w", d.GuildID, err)
	}
	return p, nil
}

func wholeSeconds(d time.Duration) int {
	return int(d / time.Second)
}
