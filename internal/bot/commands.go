package bot

import (
	"spamguard/internal/policy"

	"github.com/bwmarrin/discordgo"
)

const commandName = "spamguard"

func spamguardCommand() *discordgo.ApplicationCommand {
	managePerms := int64(discordgo.PermissionManageServer)
	dmAllowed := false

	parameterChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(policy.Parameters()))
	for _, name := range policy.Parameters() {
		parameterChoices = append(parameterChoices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	ruleChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(policy.Rules))
	for _, rule := range policy.Rules {
		ruleChoices = append(ruleChoices, &discordgo.ApplicationCommandOptionChoice{Name: string(rule), Value: string(rule)})
	}
	ignoreTargets := []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionRole,
			Name:        "role",
			Description: "Role to exempt",
		},
		{
			Type:        discordgo.ApplicationCommandOptionChannel,
			Name:        "channel",
			Description: "Channel to exempt",
			ChannelTypes: []discordgo.ChannelType{
				discordgo.ChannelTypeGuildText,
				discordgo.ChannelTypeGuildNews,
			},
		},
		{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: "Member to exempt",
		},
	}
	minHours := 1.0

	return &discordgo.ApplicationCommand{
		Name:                     commandName,
		Description:              "Spam protection settings",
		DefaultMemberPermissions: &managePerms,
		DMPermission:             &dmAllowed,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the spam policy for this server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Set a policy parameter",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "parameter",
						Description: "Parameter name",
						Required:    true,
						Choices:     parameterChoices,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "value",
						Description: "New value",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "toggle",
				Description: "Turn a rule on or off",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "rule",
						Description: "Rule name",
						Required:    true,
						Choices:     ruleChoices,
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "enabled",
						Description: "on or off",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "logchannel",
				Description: "Set the log channel, or clear it when no channel is given",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "Channel for security events",
						ChannelTypes: []discordgo.ChannelType{
							discordgo.ChannelTypeGuildText,
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        "ignore",
				Description: "Manage exempt roles and channels",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "add",
						Description: "Exempt a role or channel",
						Options:     ignoreTargets,
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "remove",
						Description: "Remove an exemption",
						Options:     ignoreTargets,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "reset",
				Description: "Restore the default policy",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "report",
				Description: "Summarize recent moderation activity",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "hours",
						Description: "Look-back period in hours (default 24)",
						MinValue:    &minHours,
						MaxValue:    24 * 30,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "forgive",
				Description: "Clear a member's spam score and strikes",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Member to forgive",
						Required:    true,
					},
				},
			},
		},
	}
}

// registerCommands creates or updates the global command and removes stale
// ones left by older versions.
func (b *Bot) registerCommands() error {
	appID := b.session.State.User.ID
	cmd := spamguardCommand()

	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		_, err = b.session.ApplicationCommandCreate(appID, "", cmd)
		return err
	}

	found := false
	for _, current := range existing {
		if current.Name != cmd.Name {
			_ = b.session.ApplicationCommandDelete(appID, "", current.ID)
			continue
		}
		found = true
		if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
			return err
		}
	}
	if !found {
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}
	return nil
}
