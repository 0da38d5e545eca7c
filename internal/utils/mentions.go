package utils

import "regexp"

var (
	userMentionRegex = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionRegex = regexp.MustCompile(`<@&(\d+)>`)
	massMentionRegex = regexp.MustCompile(`@(everyone|here)\b`)
)

// ExtractMentions returns the distinct user IDs mentioned with <@id> or
// <@!id> markup.
func ExtractMentions(content string) []string {
	return distinctGroups(userMentionRegex.FindAllStringSubmatch(content, -1))
}

// ExtractRoleMentions returns the distinct role IDs mentioned with <@&id>.
func ExtractRoleMentions(content string) []string {
	return distinctGroups(roleMentionRegex.FindAllStringSubmatch(content, -1))
}

// HasMassMention reports whether the text pings @everyone or @here.
func HasMassMention(content string) bool {
	return massMentionRegex.MatchString(content)
}

func distinctGroups(matches [][]string) []string {
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		id := match[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
