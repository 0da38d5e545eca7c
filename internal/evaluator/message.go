package evaluator

import (
	"errors"
	"fmt"
	"time"

	"spamguard/internal/utils"
)

var ErrMalformedMessage = errors.New("malformed message")

// Message is one inbound chat message as the evaluator sees it. Nil mention
// and URL slices are extracted from Text; empty non-nil slices are trusted.
type Message struct {
	GuildID          string
	ChannelID        string
	AuthorID         string
	AuthorRoleIDs    []string
	AuthorCreatedAt  time.Time
	MessageID        string
	Text             string
	MentionedUserIDs []string
	MentionedRoleIDs []string
	URLs             []string
	SentAt           time.Time
}

func (m Message) validate() error {
	switch {
	case m.GuildID == "":
		return fmt.Errorf("%w: missing guild id", ErrMalformedMessage)
	case m.ChannelID == "":
		return fmt.Errorf("%w: missing channel id", ErrMalformedMessage)
	case m.AuthorID == "":
		return fmt.Errorf("%w: missing author id", ErrMalformedMessage)
	case m.MessageID == "":
		return fmt.Errorf("%w: missing message id", ErrMalformedMessage)
	}
	return nil
}

func (m Message) mentionCount() int {
	users := m.MentionedUserIDs
	if users == nil {
		users = utils.ExtractMentions(m.Text)
	}
	roles := m.MentionedRoleIDs
	if roles == nil {
		roles = utils.ExtractRoleMentions(m.Text)
	}
	count := len(users) + len(roles)
	if utils.HasMassMention(m.Text) {
		count++
	}
	return count
}

func (m Message) urls() []string {
	raw := m.URLs
	if raw == nil {
		raw = utils.ExtractURLs(m.Text)
	}
	return utils.NormalizeURLs(raw)
}
