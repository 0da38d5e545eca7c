package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"spamguard/internal/enforcement"

	"github.com/bwmarrin/discordgo"
)

// discordExecutor performs enforcement actions through the REST API.
type discordExecutor struct {
	session *discordgo.Session
}

func (d *discordExecutor) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return classify(d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (d *discordExecutor) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error {
	return classify(d.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx)))
}

func (d *discordExecutor) PostLog(ctx context.Context, channelID string, entry enforcement.LogEntry) error {
	_, err := d.session.ChannelMessageSendEmbed(channelID, logEmbed(entry), discordgo.WithContext(ctx))
	return classify(err)
}

// classify marks permission refusals so the dispatcher can tell them apart
// from transport failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", enforcement.ErrForbidden, err)
	}
	return err
}

// embedFieldMax is the platform's limit on an embed field value.
const embedFieldMax = 1024

func logEmbed(entry enforcement.LogEntry) *discordgo.MessageEmbed {
	color := colorAlert
	if entry.TimeoutStatus != enforcement.StatusNotAttempted {
		color = colorError
	}
	action := entry.Action
	if action == "" {
		action = "log only"
	}
	reasons := "none"
	if len(entry.Reasons) > 0 {
		reasons = strings.Join(entry.Reasons, ", ")
	}

	embed := &discordgo.MessageEmbed{
		Title: "Spam detected",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Event ID", Value: entry.EventID, Inline: false},
			{Name: "User", Value: userMention(entry.UserID), Inline: true},
			{Name: "Channel", Value: channelMention(entry.ChannelID), Inline: true},
			{Name: "Score", Value: fmt.Sprintf("%.1f", entry.Score), Inline: true},
			{Name: "Offenses", Value: fmt.Sprintf("%d", entry.Offenses), Inline: true},
			{Name: "Strikes", Value: fmt.Sprintf("%d", entry.Strikes), Inline: true},
			{Name: "Reasons", Value: reasons, Inline: false},
			{Name: "Action", Value: action, Inline: true},
			{Name: "Delete", Value: string(entry.DeleteStatus), Inline: true},
			{Name: "Timeout", Value: string(entry.TimeoutStatus), Inline: true},
			{Name: "Content", Value: enforcement.Excerpt(entry.Excerpt, embedFieldMax-3), Inline: false},
		},
	}
	if !entry.At.IsZero() {
		embed.Timestamp = entry.At.UTC().Format(time.RFC3339)
	}
	return embed
}
