// Package scoring turns the raw signal counts of one message into a score
// delta.
package scoring

import (
	"time"

	"spamguard/internal/activity"
	"spamguard/internal/policy"
)

// Input is everything the signal definitions look at for one message.
type Input struct {
	activity.Signals
	AccountAge      time.Duration
	AccountAgeKnown bool
}

// Definition is one signal: the rule that gates it and how much it adds.
type Definition struct {
	Rule       policy.Rule
	Contribute func(in Input, p policy.GuildPolicy) float64
}

// Definitions is evaluated in order; the order is also the order rules are
// reported in.
var Definitions = []Definition{
	{Rule: policy.RuleRapid, Contribute: rapid},
	{Rule: policy.RuleDuplicate, Contribute: duplicate},
	{Rule: policy.RuleURL, Contribute: urls},
	{Rule: policy.RuleURLRepeat, Contribute: urlRepeat},
	{Rule: policy.RuleMention, Contribute: mentions},
	{Rule: policy.RuleNewAccount, Contribute: newAccount},
}

// Combine sums the contributions of every enabled signal and lists the rules
// that contributed.
func Combine(in Input, p policy.GuildPolicy) (float64, []policy.Rule) {
	var delta float64
	var triggered []policy.Rule
	for _, def := range Definitions {
		if !p.Rules.Enabled(def.Rule) {
			continue
		}
		if c := def.Contribute(in, p); c > 0 {
			delta += c
			triggered = append(triggered, def.Rule)
		}
	}
	return delta, triggered
}

func over(count, limit int, weight float64) float64 {
	if count <= limit {
		return 0
	}
	return weight * float64(count-limit)
}

func rapid(in Input, p policy.GuildPolicy) float64 {
	return over(in.Rapid, p.RapidMaxMessages, p.RapidScoreWeight)
}

func duplicate(in Input, p policy.GuildPolicy) float64 {
	return over(in.Duplicate, 1, p.DuplicateScoreWeight)
}

func urls(in Input, p policy.GuildPolicy) float64 {
	return over(in.URLs, p.URLMaxBeforePenalty, p.URLScoreWeight)
}

func urlRepeat(in Input, p policy.GuildPolicy) float64 {
	return over(in.URLRepeat, p.URLRepeatMax, p.URLRepeatScoreWeight)
}

func mentions(in Input, p policy.GuildPolicy) float64 {
	return over(in.Mentions, p.MentionMax, p.MentionScoreWeight)
}

func newAccount(in Input, p policy.GuildPolicy) float64 {
	if !in.AccountAgeKnown {
		return 0
	}
	if in.AccountAge < time.Duration(p.NewAccountBonusDays)*24*time.Hour {
		return p.NewAccountScoreWeight
	}
	return 0
}
