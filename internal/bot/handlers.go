package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spamguard/internal/enforcement"
	"spamguard/internal/modules/audit"
	"spamguard/internal/policy"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func options(opts []*discordgo.ApplicationCommandInteractionDataOption) optionMap {
	out := make(optionMap, len(opts))
	for _, opt := range opts {
		out[opt.Name] = opt
	}
	return out
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := interaction.ApplicationCommandData()
	if data.Name != commandName {
		return
	}

	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", "This command only works inside a server.", colorError, nil), true)
		return
	}
	if !canManage(interaction.Member) {
		b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", "You need the Manage Server permission.", colorError, nil), true)
		return
	}
	if len(data.Options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", "Unknown subcommand.", colorError, nil), true)
		return
	}

	b.handleCommand(context.Background(), session, interaction, data.Options[0])
}

func (b *Bot) handleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	guildID := interaction.GuildID
	opts := options(sub.Options)

	switch sub.Name {
	case "status":
		b.respondEmbed(session, interaction, b.statusEmbed(ctx, guildID), true)
	case "set":
		name := opts["parameter"].StringValue()
		value := opts["value"].StringValue()
		_, err := b.policies.SetRule(ctx, guildID, name, value)
		b.policyUpdated(ctx, session, interaction, fmt.Sprintf("%s=%s", name, value), err)
	case "toggle":
		rule := policy.Rule(opts["rule"].StringValue())
		on := opts["enabled"].BoolValue()
		_, err := b.policies.SetRuleEnabled(ctx, guildID, rule, on)
		b.policyUpdated(ctx, session, interaction, fmt.Sprintf("rule %s %s", rule, onOff(on)), err)
	case "logchannel":
		channelID := ""
		if opt := opts["channel"]; opt != nil {
			channelID = opt.ChannelValue(nil).ID
		}
		_, err := b.policies.SetLogChannel(ctx, guildID, channelID)
		change := "log_channel=none"
		if channelID != "" {
			change = "log_channel=" + channelID
		}
		b.policyUpdated(ctx, session, interaction, change, err)
	case "ignore":
		b.handleIgnore(ctx, session, interaction, sub.Options)
	case "reset":
		_, err := b.policies.Reset(ctx, guildID)
		b.policyUpdated(ctx, session, interaction, "reset to defaults", err)
	case "report":
		b.handleReport(ctx, session, interaction, opts)
	case "forgive":
		b.handleForgive(ctx, session, interaction, opts)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", "Unknown subcommand.", colorError, nil), true)
	}
}

func (b *Bot) handleIgnore(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, group []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(group) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", "Unknown subcommand.", colorError, nil), true)
		return
	}
	action := group[0]
	opts := options(action.Options)

	var targets []policy.Target
	if opt := opts["role"]; opt != nil {
		targets = append(targets, policy.Target{Kind: policy.TargetRole, ID: opt.RoleValue(nil, "").ID})
	}
	if opt := opts["channel"]; opt != nil {
		targets = append(targets, policy.Target{Kind: policy.TargetChannel, ID: opt.ChannelValue(nil).ID})
	}
	if opt := opts["user"]; opt != nil {
		targets = append(targets, policy.Target{Kind: policy.TargetUser, ID: opt.UserValue(nil).ID})
	}
	if len(targets) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", "Pick a role, a channel or a member.", colorError, nil), true)
		return
	}

	update := b.policies.IgnoreAdd
	if action.Name == "remove" {
		update = b.policies.IgnoreRemove
	}
	changes := make([]string, 0, len(targets))
	var saveErr error
	for _, target := range targets {
		_, err := update(ctx, interaction.GuildID, target)
		if err != nil && !errors.Is(err, policy.ErrNotPersisted) {
			b.policyUpdated(ctx, session, interaction, "", err)
			return
		}
		if err != nil {
			saveErr = err
		}
		changes = append(changes, fmt.Sprintf("ignore %s %s %s", action.Name, target.Kind, target.ID))
	}
	b.policyUpdated(ctx, session, interaction, strings.Join(changes, "; "), saveErr)
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	hours := 24
	if opt := opts["hours"]; opt != nil {
		hours = int(opt.IntValue())
	}
	report, err := b.analytics.Report(ctx, interaction.GuildID, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		b.logger.Error("report failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Spam report", "Could not build the report.", colorError, nil), true)
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Events", Value: formatReport(report), Inline: false},
		{Name: "Flagged", Value: fmt.Sprintf("%d", report.ByEvent["spam_flagged"]), Inline: true},
		{Name: "Failed actions", Value: fmt.Sprintf("%d", report.ByEvent["enforcement_failed"]), Inline: true},
		{Name: "Most flagged", Value: formatTopUsers(report.TopUsers), Inline: false},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Spam report", fmt.Sprintf("Last %d hours", hours), colorAction, fields), true)
}

func (b *Bot) handleForgive(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	opt := opts["user"]
	if opt == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", "Pick a member.", colorError, nil), true)
		return
	}
	userID := opt.UserValue(nil).ID
	guildID := interaction.GuildID

	b.evaluator.Forget(guildID, userID)
	cleared, err := b.store.ClearInfractions(ctx, guildID, userID)
	if err != nil {
		b.logger.Error("clear strikes failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", "Score cleared, but strikes could not be removed.", colorWarn, nil), true)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, guildID, userID, "user_forgiven", fmt.Sprintf("by=%s strikes=%d", actorID(interaction), cleared))
	b.respondEmbed(session, interaction, b.commandEmbed("Spam protection", forgiveMessage(userID, cleared), colorAction, nil), true)
}

func forgiveMessage(userID string, cleared int) string {
	switch cleared {
	case 0:
		return userMention(userID) + " has a clean slate."
	case 1:
		return userMention(userID) + " has a clean slate. 1 strike removed."
	default:
		return fmt.Sprintf("%s has a clean slate. %d strikes removed.", userMention(userID), cleared)
	}
}

// policyUpdated answers a configuration command and, when the change took
// effect, records it in the audit trail.
func (b *Bot) policyUpdated(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, change string, err error) {
	switch {
	case err == nil:
		b.respondEmbed(session, interaction, b.commandEmbed("Spam policy updated", change, colorAction, nil), true)
	case errors.Is(err, policy.ErrNotPersisted):
		b.respondEmbed(session, interaction, b.commandEmbed("Spam policy updated", change+"\n"+describeError(err), colorWarn, nil), true)
	default:
		if !isValidation(err) {
			b.logger.Error("policy update failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Spam policy", describeError(err), colorError, nil), true)
		return
	}
	b.audit.PolicyChanged(ctx, interaction.GuildID, actorID(interaction), change)
}

func (b *Bot) statusEmbed(ctx context.Context, guildID string) *discordgo.MessageEmbed {
	var fields []*discordgo.MessageEmbedField
	for _, f := range b.policies.Status(guildID) {
		fields = append(fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: false})
	}

	top := b.evaluator.Top(guildID, 5)
	lines := make([]string, 0, len(top))
	for _, entry := range top {
		lines = append(lines, fmt.Sprintf("%s: %.1f", userMention(entry.UserID), entry.Score))
	}
	value := "none"
	if len(lines) > 0 {
		value = strings.Join(lines, "\n")
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "highest scores", Value: value, Inline: false})

	strikes := "unavailable"
	if top, err := b.store.TopInfractions(ctx, guildID, enforcement.InfractionCategory, 5); err != nil {
		b.logger.Warn("strike lookup failed", zap.String("guild_id", guildID), zap.Error(err))
	} else {
		strikes = formatStrikes(top)
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "most strikes", Value: strikes, Inline: false})

	mode := "normal"
	if b.cfg.AuditOnly() {
		mode = "audit (no deletes or timeouts)"
	}
	return b.commandEmbed("Spam protection status", "Mode: "+mode, colorAction, fields)
}

func describeError(err error) string {
	var verr *policy.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, policy.ErrNotPersisted):
		return "Applied, but it could not be saved and will be lost on restart."
	default:
		return "Update failed."
	}
}

func isValidation(err error) bool {
	var verr *policy.ValidationError
	return errors.As(err, &verr)
}

func canManage(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	return member.Permissions&(discordgo.PermissionManageServer|discordgo.PermissionAdministrator) != 0
}

func actorID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
