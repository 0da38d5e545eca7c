package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spamguard/internal/analytics"
	"spamguard/internal/config"
	"spamguard/internal/enforcement"
	"spamguard/internal/evaluator"
	"spamguard/internal/modules/audit"
	"spamguard/internal/policy"
	"spamguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorAction = 0x3498db
	colorWarn   = 0xf1c40f
	colorAlert  = 0xe67e22
	colorError  = 0xe74c3c
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	policies   *policy.Store
	evaluator  *evaluator.Evaluator
	dispatcher *enforcement.Dispatcher
	audit      *audit.Logger
	analytics  *analytics.Service
	session    *discordgo.Session
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, policies *policy.Store, eval *evaluator.Evaluator, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	// handlers run on the gateway goroutine in arrival order; anything slow
	// is moved off it explicitly
	session.SyncEvents = true

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		policies:  policies,
		evaluator: eval,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
	}

	b.dispatcher = enforcement.NewDispatcher(&discordExecutor{session: session}, enforcement.OptionsFromConfig(cfg.Enforcement, cfg.AuditOnly()), logger)
	if store != nil {
		b.dispatcher.SetRecorder(store)
	}
	if auditLogger != nil {
		b.dispatcher.SetAuditor(auditLogger)
		auditLogger.SetNotifier(b.notifyAudit)
	}
	eval.OnLate(b.onLateResult)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(func(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
		go b.onInteractionCreate(session, interaction)
	})

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

// Run keeps the gateway connection open until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return fmt.Errorf("discord start: %w", err)
	}
	<-ctx.Done()
	b.Close()
	return nil
}

func (b *Bot) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	// called in gateway order, so the user's turn is taken in arrival order
	result, err := b.evaluator.EvaluateWithin(context.Background(), messageFromEvent(msg), b.evaluator.Timeout())
	if err != nil {
		if !errors.Is(err, evaluator.ErrMalformedMessage) {
			b.logger.Warn("evaluation failed", zap.String("guild_id", msg.GuildID), zap.String("message_id", msg.ID), zap.Error(err))
		}
		return
	}
	if result.Outcome != evaluator.Flagged || result.Decision == nil {
		return
	}
	go b.enforce(context.Background(), *result.Decision)
}

// onLateResult enforces flags raised after EvaluateWithin stopped waiting.
func (b *Bot) onLateResult(_ evaluator.Message, result evaluator.Result) {
	if result.Outcome != evaluator.Flagged || result.Decision == nil {
		return
	}
	b.enforce(context.Background(), *result.Decision)
}

func (b *Bot) enforce(ctx context.Context, dec enforcement.Decision) {
	report := b.dispatcher.Execute(ctx, dec)
	if report.Failed() {
		b.logger.Warn("enforcement incomplete",
			zap.String("event_id", report.DecisionID),
			zap.String("delete", string(report.Delete)),
			zap.String("timeout", string(report.Timeout)),
			zap.String("log", string(report.Log)),
		)
	}
}

// messageFromEvent converts a gateway message into the evaluator's view of
// it. The gateway always carries the mention lists, so they are passed as
// non-nil slices and the evaluator does not re-parse the text.
func messageFromEvent(msg *discordgo.MessageCreate) evaluator.Message {
	m := evaluator.Message{
		GuildID:          msg.GuildID,
		ChannelID:        msg.ChannelID,
		MessageID:        msg.ID,
		Text:             msg.Content,
		SentAt:           msg.Timestamp,
		MentionedUserIDs: make([]string, 0, len(msg.Mentions)),
		MentionedRoleIDs: msg.MentionRoles,
	}
	if m.MentionedRoleIDs == nil {
		m.MentionedRoleIDs = []string{}
	}
	if msg.Author != nil {
		m.AuthorID = msg.Author.ID
		if created, err := discordgo.SnowflakeTimestamp(msg.Author.ID); err == nil {
			m.AuthorCreatedAt = created
		}
	}
	if msg.Member != nil {
		m.AuthorRoleIDs = msg.Member.Roles
	}

	seen := make(map[string]struct{}, len(msg.Mentions))
	for _, user := range msg.Mentions {
		if user == nil || user.ID == "" {
			continue
		}
		if _, ok := seen[user.ID]; ok {
			continue
		}
		seen[user.ID] = struct{}{}
		m.MentionedUserIDs = append(m.MentionedUserIDs, user.ID)
	}
	return m
}

// notifyAudit mirrors policy changes into the guild's log channel.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.Event != "policy_changed" || entry.GuildID == "" {
		return
	}
	channelID := b.policies.Get(entry.GuildID).LogChannelID
	if channelID == "" {
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Change", Value: entry.Details, Inline: false},
		{Name: "By", Value: userMention(entry.UserID), Inline: true},
	}
	embed := b.commandEmbed("Spam policy updated", "", colorAction, fields)
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		b.logger.Debug("policy change notice failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func formatReport(report analytics.Report) string {
	return fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d", report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])
}

func formatStrikes(top []storage.Infraction) string {
	if len(top) == 0 {
		return "none"
	}
	lines := make([]string, 0, len(top))
	for _, inf := range top {
		lines = append(lines, fmt.Sprintf("%s: %d (last %s)", userMention(inf.UserID), inf.Strikes, inf.LastAction))
	}
	return strings.Join(lines, "\n")
}

func formatTopUsers(users []analytics.UserCount) string {
	if len(users) == 0 {
		return "none"
	}
	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("%s: %d", userMention(u.UserID), u.Count))
	}
	return strings.Join(lines, "\n")
}

func userMention(id string) string {
	if id == "" {
		return "unknown"
	}
	return "<@" + id + ">"
}

func channelMention(id string) string {
	if id == "" {
		return "unknown"
	}
	return "<#" + id + ">"
}
