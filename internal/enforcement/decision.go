// Package enforcement carries flagged-message decisions to the chat platform.
package enforcement

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"spamguard/internal/policy"
)

const DefaultExcerptChars = 300

type Actions struct {
	Delete       bool
	Timeout      bool
	TimeoutFor   time.Duration
	Log          bool
	LogChannelID string
}

// Label names the requested moderation, e.g. "delete + timeout 10m0s".
func (a Actions) Label() string {
	var parts []string
	if a.Delete {
		parts = append(parts, ActionDelete)
	}
	if a.Timeout && a.TimeoutFor > 0 {
		parts = append(parts, fmt.Sprintf("%s %s", ActionTimeout, a.TimeoutFor))
	}
	if len(parts) == 0 {
		return "log only"
	}
	return strings.Join(parts, " + ")
}

// strongest is the harshest action requested, stored with the user's strikes.
func (a Actions) strongest() string {
	switch {
	case a.Timeout && a.TimeoutFor > 0:
		return ActionTimeout
	case a.Delete:
		return ActionDelete
	default:
		return ActionLog
	}
}

// Decision is what the evaluator hands over for a flagged message. It holds
// everything the executor needs, so dispatch never reads evaluator state.
type Decision struct {
	ID        string
	GuildID   string
	ChannelID string
	UserID    string
	MessageID string
	Score     float64
	Triggered []policy.Rule
	Actions   Actions
	Offenses  int
	// Text is the full message; the log entry cuts it to the configured
	// excerpt length.
	Text      string
	CreatedAt time.Time
}

// Reasons returns the triggered rules as plain strings.
func (d Decision) Reasons() []string {
	out := make([]string, len(d.Triggered))
	for i, r := range d.Triggered {
		out[i] = string(r)
	}
	return out
}

// NewEventID returns an id of the form SEC-20240102150405-1a2b3c.
func NewEventID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return "SEC-" + now.UTC().Format("20060102150405") + "-" + suffix
}

// Excerpt trims text to at most limit runes, marking the cut.
func Excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "(no text)"
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
