package policy

import (
	"fmt"
	"strings"
)

type Field struct {
	Name  string
	Value string
}

// Fields renders the policy as name/value pairs for status output.
func (p GuildPolicy) Fields() []Field {
	logChannel := "none"
	if p.LogChannelID != "" {
		logChannel = p.LogChannelID
	}
	return []Field{
		{"moderation", onOff(p.Rules.Moderation)},
		{"rapid", fmt.Sprintf("%s, >%d msgs / %s, weight %g", onOff(p.Rules.Rapid), p.RapidMaxMessages, p.RapidWindow, p.RapidScoreWeight)},
		{"duplicate", fmt.Sprintf("%s, window %s, weight %g", onOff(p.Rules.Duplicate), p.DuplicateWindow, p.DuplicateScoreWeight)},
		{"url", fmt.Sprintf("%s, >%d per msg, weight %g", onOff(p.Rules.URL), p.URLMaxBeforePenalty, p.URLScoreWeight)},
		{"url_repeat", fmt.Sprintf("%s, >%d / %s, weight %g", onOff(p.Rules.URLRepeat), p.URLRepeatMax, p.URLRepeatWindow, p.URLRepeatScoreWeight)},
		{"mention", fmt.Sprintf("%s, >%d per msg, weight %g", onOff(p.Rules.Mention), p.MentionMax, p.MentionScoreWeight)},
		{"new_account", fmt.Sprintf("%s, <%d days, weight %g", onOff(p.Rules.NewAccount), p.NewAccountBonusDays, p.NewAccountScoreWeight)},
		{"threshold", fmt.Sprintf("%g (%s after flag), decay %g/s", p.FlagThreshold, p.FlagReduction, p.ScoreDecayPerSecond)},
		{"actions", fmt.Sprintf("delete %s, timeout %dm after %d offenses / %s, severe x%g", onOff(p.Rules.Delete), p.TimeoutMinutes, p.TimeoutAfterOffenses, p.OffenseWindow, p.SevereFactor)},
		{"ignored_roles", joinOrNone(Sorted(p.IgnoredRoleIDs))},
		{"ignored_channels", joinOrNone(Sorted(p.IgnoredChannelIDs))},
		{"ignored_users", joinOrNone(Sorted(p.IgnoredUserIDs))},
		{"log_channel", logChannel},
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
