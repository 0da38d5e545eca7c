package policy

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"spamguard/internal/config"
)

// legacyConfig is one entry of the previous bot's config.json. Its
// thresholds trigger at "count >= n" where ours trigger at "count > max".
type legacyConfig struct {
	WindowSec          *int     `json:"window_sec"`
	MaxMsgInWindow     *int     `json:"max_msg_in_window"`
	DuplicateWindowSec *int     `json:"duplicate_window_sec"`
	URLThreshold       *int     `json:"url_threshold"`
	URLRepeatWindowSec *int     `json:"url_repeat_window_sec"`
	URLRepeatThreshold *int     `json:"url_repeat_threshold"`
	MentionThreshold   *int     `json:"mention_threshold"`
	ScoreThreshold     *float64 `json:"score_threshold"`
	TimeoutMinutes     *int     `json:"timeout_minutes"`
	LogChannelID       *int64   `json:"log_channel_id"`
	IgnoreRoleIDs      []int64  `json:"ignore_role_ids"`
	IgnoreChannelIDs   []int64  `json:"ignore_channel_ids"`
	WhitelistUserIDs   []int64  `json:"whitelist_user_ids"`
	WhitelistRoleIDs   []int64  `json:"whitelist_role_ids"`
}

type legacyFile struct {
	Defaults legacyConfig            `json:"defaults"`
	Guilds   map[string]legacyConfig `json:"guilds"`
}

// LegacyImport is a parsed config.json of the previous bot, in either its
// defaults/guilds layout or the older flat layout.
type LegacyImport struct {
	Flat     bool
	base     config.PolicyConfig
	defaults legacyConfig
	guilds   map[string]legacyConfig
}

func ParseLegacy(data []byte, base config.PolicyConfig) (LegacyImport, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return LegacyImport{}, fmt.Errorf("parse legacy config: %w", err)
	}
	out := LegacyImport{base: base}
	_, hasDefaults := sections["defaults"]
	_, hasGuilds := sections["guilds"]
	if !hasDefaults && !hasGuilds {
		out.Flat = true
		if err := json.Unmarshal(data, &out.defaults); err != nil {
			return LegacyImport{}, fmt.Errorf("parse legacy config: %w", err)
		}
		return out, nil
	}

	var file legacyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return LegacyImport{}, fmt.Errorf("parse legacy config: %w", err)
	}
	out.defaults = file.Defaults
	out.guilds = file.Guilds
	return out, nil
}

// GuildIDs lists the guilds with their own entry, sorted.
func (l LegacyImport) GuildIDs() []string {
	ids := make([]string, 0, len(l.guilds))
	for id := range l.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Policy builds the policy of guildID: configured defaults, then the file's
// defaults, then the guild's own entry.
func (l LegacyImport) Policy(guildID string) (GuildPolicy, error) {
	p := Defaults(guildID, l.base)
	l.defaults.apply(&p)
	if entry, ok := l.guilds[guildID]; ok {
		entry.apply(&p)
	}
	if err := p.Validate(); err != nil {
		return GuildPolicy{}, fmt.Errorf("guild %s: %w", guildID, err)
	}
	return p, nil
}

func (c legacyConfig) apply(p *GuildPolicy) {
	if c.WindowSec != nil {
		p.RapidWindow = seconds(*c.WindowSec)
	}
	if c.MaxMsgInWindow != nil {
		p.RapidMaxMessages = limitFromTrigger(*c.MaxMsgInWindow)
	}
	if c.DuplicateWindowSec != nil {
		p.DuplicateWindow = seconds(*c.DuplicateWindowSec)
	}
	if c.URLThreshold != nil {
		p.URLMaxBeforePenalty = limitFromTrigger(*c.URLThreshold)
	}
	if c.URLRepeatWindowSec != nil {
		p.URLRepeatWindow = seconds(*c.URLRepeatWindowSec)
	}
	if c.URLRepeatThreshold != nil {
		p.URLRepeatMax = limitFromTrigger(*c.URLRepeatThreshold)
	}
	if c.MentionThreshold != nil {
		p.MentionMax = limitFromTrigger(*c.MentionThreshold)
	}
	if c.ScoreThreshold != nil {
		p.FlagThreshold = *c.ScoreThreshold
	}
	if c.TimeoutMinutes != nil {
		p.TimeoutMinutes = *c.TimeoutMinutes
		if p.TimeoutMinutes > MaxTimeoutMinutes {
			p.TimeoutMinutes = MaxTimeoutMinutes
		}
	}
	if c.LogChannelID != nil {
		p.LogChannelID = strconv.FormatInt(*c.LogChannelID, 10)
	}
	for _, id := range c.IgnoreRoleIDs {
		p.IgnoredRoleIDs[strconv.FormatInt(id, 10)] = struct{}{}
	}
	for _, id := range c.IgnoreChannelIDs {
		p.IgnoredChannelIDs[strconv.FormatInt(id, 10)] = struct{}{}
	}
	for _, id := range c.WhitelistRoleIDs {
		p.IgnoredRoleIDs[strconv.FormatInt(id, 10)] = struct{}{}
	}
	for _, id := range c.WhitelistUserIDs {
		p.IgnoredUserIDs[strconv.FormatInt(id, 10)] = struct{}{}
	}
}

// limitFromTrigger converts a ">= n" trigger into the equivalent "> max" limit.
func limitFromTrigger(n int) int {
	if n <= 1 {
		return 0
	}
	return n - 1
}

