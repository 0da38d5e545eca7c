package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Rule names a toggleable behavior. The signal rules double as the kinds
// reported in an enforcement decision.
type Rule string

const (
	RuleRapid      Rule = "rapid"
	RuleDuplicate  Rule = "duplicate"
	RuleURL        Rule = "url"
	RuleURLRepeat  Rule = "url_repeat"
	RuleMention    Rule = "mention"
	RuleNewAccount Rule = "new_account"
	RuleDelete     Rule = "delete"
	RuleModeration Rule = "moderation"
)

// Rules lists every toggleable rule in display order.
var Rules = []Rule{RuleRapid, RuleDuplicate, RuleURL, RuleURLRepeat, RuleMention, RuleNewAccount, RuleDelete, RuleModeration}

type Toggles struct {
	Rapid      bool
	Duplicate  bool
	URL        bool
	URLRepeat  bool
	Mention    bool
	NewAccount bool
	Delete     bool
	Moderation bool
}

func AllEnabled(deleteMessages bool) Toggles {
	return Toggles{
		Rapid:      true,
		Duplicate:  true,
		URL:        true,
		URLRepeat:  true,
		Mention:    true,
		NewAccount: true,
		Delete:     deleteMessages,
		Moderation: true,
	}
}

func (t Toggles) Enabled(rule Rule) bool {
	if ptr := t.field(rule); ptr != nil {
		return *ptr
	}
	return false
}

func (t *Toggles) Set(rule Rule, on bool) error {
	ptr := t.field(rule)
	if ptr == nil {
		return invalid("rule", fmt.Sprintf("unknown rule %q", rule))
	}
	*ptr = on
	return nil
}

func (t *Toggles) field(rule Rule) *bool {
	switch rule {
	case RuleRapid:
		return &t.Rapid
	case RuleDuplicate:
		return &t.Duplicate
	case RuleURL:
		return &t.URL
	case RuleURLRepeat:
		return &t.URLRepeat
	case RuleMention:
		return &t.Mention
	case RuleNewAccount:
		return &t.NewAccount
	case RuleDelete:
		return &t.Delete
	case RuleModeration:
		return &t.Moderation
	default:
		return nil
	}
}

type setter func(p *GuildPolicy, raw string) error

// parameters maps the user-facing parameter names to their setters.
var parameters = map[string]setter{
	"rapid_window_seconds":      durationParam(func(p *GuildPolicy) *time.Duration { return &p.RapidWindow }),
	"rapid_max_messages":        intParam(func(p *GuildPolicy) *int { return &p.RapidMaxMessages }),
	"rapid_score_weight":        floatParam(func(p *GuildPolicy) *float64 { return &p.RapidScoreWeight }),
	"duplicate_window_seconds":  durationParam(func(p *GuildPolicy) *time.Duration { return &p.DuplicateWindow }),
	"duplicate_score_weight":    floatParam(func(p *GuildPolicy) *float64 { return &p.DuplicateScoreWeight }),
	"url_max_before_penalty":    intParam(func(p *GuildPolicy) *int { return &p.URLMaxBeforePenalty }),
	"url_score_weight":          floatParam(func(p *GuildPolicy) *float64 { return &p.URLScoreWeight }),
	"url_repeat_window_seconds": durationParam(func(p *GuildPolicy) *time.Duration { return &p.URLRepeatWindow }),
	"url_repeat_max":            intParam(func(p *GuildPolicy) *int { return &p.URLRepeatMax }),
	"url_repeat_score_weight":   floatParam(func(p *GuildPolicy) *float64 { return &p.URLRepeatScoreWeight }),
	"mention_max":               intParam(func(p *GuildPolicy) *int { return &p.MentionMax }),
	"mention_score_weight":      floatParam(func(p *GuildPolicy) *float64 { return &p.MentionScoreWeight }),
	"new_account_bonus_days":    intParam(func(p *GuildPolicy) *int { return &p.NewAccountBonusDays }),
	"new_account_score_weight":  floatParam(func(p *GuildPolicy) *float64 { return &p.NewAccountScoreWeight }),
	"score_decay_per_second":    floatParam(func(p *GuildPolicy) *float64 { return &p.ScoreDecayPerSecond }),
	"flag_threshold":            floatParam(func(p *GuildPolicy) *float64 { return &p.FlagThreshold }),
	"timeout_minutes":           intParam(func(p *GuildPolicy) *int { return &p.TimeoutMinutes }),
	"timeout_after_offenses":    intParam(func(p *GuildPolicy) *int { return &p.TimeoutAfterOffenses }),
	"offense_window_seconds":    durationParam(func(p *GuildPolicy) *time.Duration { return &p.OffenseWindow }),
	"severe_factor":             floatParam(func(p *GuildPolicy) *float64 { return &p.SevereFactor }),
	"flag_reduction": func(p *GuildPolicy, raw string) error {
		p.FlagReduction = Reduction(strings.ToLower(strings.TrimSpace(raw)))
		return nil
	},
}

// Parameters returns the settable parameter names, sorted.
func Parameters() []string {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetParameter parses raw and assigns it to the named parameter of p. The
// result is not validated here; Store.Update does that before publishing.
func SetParameter(p *GuildPolicy, name, raw string) error {
	set, ok := parameters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return invalid("rule", fmt.Sprintf("unknown parameter %q", name))
	}
	return set(p, strings.TrimSpace(raw))
}

// ParseBool accepts the on/off spellings used by the command surface.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on", "enable", "enabled":
		return true, nil
	case "0", "false", "no", "off", "disable", "disabled":
		return false, nil
	default:
		return false, invalid("value", fmt.Sprintf("%q is not on or off", raw))
	}
}

func intParam(field func(*GuildPolicy) *int) setter {
	return func(p *GuildPolicy, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("value", fmt.Sprintf("%q is not an integer", raw))
		}
		*field(p) = v
		return nil
	}
}

func floatParam(field func(*GuildPolicy) *float64) setter {
	return func(p *GuildPolicy, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return invalid("value", fmt.Sprintf("%q is not a number", raw))
		}
		*field(p) = v
		return nil
	}
}

func durationParam(field func(*GuildPolicy) *time.Duration) setter {
	return func(p *GuildPolicy, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("value", fmt.Sprintf("%q is not a whole number of seconds", raw))
		}
		*field(p) = seconds(v)
		return nil
	}
}
