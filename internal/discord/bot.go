// Package discord is the transport glue between Discord and the engine:
// it forwards guesses and commands, and renders spawn/claim/steal results
// as channel messages. No game state lives here.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"packrat/internal/game"
)

const commandPrefix = "pr!"

type Bot struct {
	session *discordgo.Session
	game    *game.Service
	log     *slog.Logger
}

func New(token string, gameSvc *game.Service, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	b := &Bot{session: session, game: gameSvc, log: logger}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
}

// Announce renders a spawn in the guild's channel. The card name stays
// hidden; the artwork is attached when available.
func (b *Bot) Announce(ev game.SpawnEvent) {
	text := fmt.Sprintf("A wild **%s** card appeared! Type its name to claim it. You have %s.",
		ev.Card.Tier, time.Until(ev.ExpiresAt).Round(time.Second))

	if ev.Card.Asset != "" {
		if f, err := os.Open(ev.Card.Asset); err == nil {
			defer f.Close()
			_, err := b.session.ChannelMessageSendComplex(ev.ChannelID, &discordgo.MessageSend{
				Content: text,
				Files:   []*discordgo.File{{Name: "card.png", Reader: f}},
			})
			if err == nil {
				return
			}
			b.log.Error("spawn announce with asset failed", "guild", ev.GuildID, "err", err)
		}
	}
	if _, err := b.session.ChannelMessageSend(ev.ChannelID, text); err != nil {
		b.log.Error("spawn announce failed", "guild", ev.GuildID, "err", err)
	}
}

func (b *Bot) onMessageCreate(sess *discordgo.Session, m *discordgo.MessageCreate) {
	// A handler panic or stray error must never take the process down.
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("message handler panic", "guild", m.GuildID, "panic", r)
		}
	}()

	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	content := strings.TrimSpace(m.Content)
	if strings.HasPrefix(content, commandPrefix) {
		b.dispatchCommand(ctx, sess, m, strings.TrimPrefix(content, commandPrefix))
		return
	}
	b.handleGuess(ctx, sess, m, content)
}

// handleGuess treats a bare message in the spawn channel as a claim guess.
func (b *Bot) handleGuess(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate, text string) {
	guild, err := b.game.Store().Guild(ctx, m.GuildID)
	if err != nil || guild.SpawnChannelID != m.ChannelID {
		return
	}

	result, success, err := b.game.SubmitGuessInGuild(ctx, m.GuildID, m.Author.ID, text)
	if err != nil {
		// No open claim, or it expired: bare chatter, stay silent.
		return
	}
	switch result {
	case game.GuessCorrect:
		b.reply(sess, m, fmt.Sprintf("**%s** claimed **%s**!", m.Author.Username, success.CardName))
	case game.GuessLockedOut:
		b.reply(sess, m, "You're out of guesses for this card.")
	case game.GuessAlreadyClaimed:
		b.reply(sess, m, "Too slow — that card is already claimed.")
	case game.GuessWrong:
		// Wrong guesses stay silent so ordinary chat isn't punished.
	}
}

func (b *Bot) dispatchCommand(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))

	var err error
	switch cmd {
	case "cards":
		err = b.cmdCards(ctx, sess, m)
	case "give":
		err = b.cmdGive(ctx, sess, m, args)
	case "steal":
		err = b.cmdSteal(ctx, sess, m, args)
	case "use":
		err = b.cmdUse(ctx, sess, m, args)
	case "approve":
		err = b.cmdApprove(ctx, sess, m)
	case "setchannel":
		err = b.cmdSetChannel(ctx, sess, m)
	case "immune":
		err = b.cmdImmune(ctx, sess, m, args)
	default:
		return
	}
	if err != nil {
		b.replyErr(sess, m, err)
	}
}

func (b *Bot) cmdCards(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate) error {
	items, err := b.game.Inventory(ctx, m.Author.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		b.reply(sess, m, "Your collection is empty.")
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s's collection**\n", m.Author.Username)
	for _, it := range items {
		fmt.Fprintf(&sb, "• %s [%s] ×%d", it.CardName, it.Tier, it.Count)
		if it.Stolen > 0 {
			fmt.Fprintf(&sb, " (%d stolen)", it.Stolen)
		}
		sb.WriteByte('\n')
	}
	b.reply(sess, m, sb.String())
	return nil
}

func (b *Bot) cmdGive(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate, args string) error {
	target, cardName, ok := splitMentionArg(m, args)
	if !ok {
		b.reply(sess, m, "Usage: `"+commandPrefix+"give @user <card name>`")
		return nil
	}
	moved, err := b.game.Give(ctx, m.Author.ID, target.ID, cardName)
	if err != nil {
		return err
	}
	b.reply(sess, m, fmt.Sprintf("**%s** gave **%s** to **%s**.", m.Author.Username, moved.CardName, target.Username))
	return nil
}

func (b *Bot) cmdSteal(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate, args string) error {
	target, cardName, ok := splitMentionArg(m, args)
	if !ok {
		b.reply(sess, m, "Usage: `"+commandPrefix+"steal @user <card name>`")
		return nil
	}
	victimRoles := b.memberRoles(sess, m.GuildID, target.ID)
	var thiefRoles []string
	if m.Member != nil {
		thiefRoles = m.Member.Roles
	}
	session, err := b.game.BeginSteal(ctx, game.StealRequest{
		GuildID:       m.GuildID,
		ThiefID:       m.Author.ID,
		ThiefRoleIDs:  thiefRoles,
		VictimID:      target.ID,
		VictimRoleIDs: victimRoles,
		TargetCard:    cardName,
	})
	if err != nil {
		return err
	}
	b.reply(sess, m, fmt.Sprintf(
		"Steal attempt on **%s** opened. Pick your leverage with `%suse <card name>` within %s — lose the roll and that card is gone.",
		session.TargetCard.Name, commandPrefix, time.Until(session.ExpiresAt).Round(time.Second)))
	return nil
}

func (b *Bot) cmdUse(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate, args string) error {
	if args == "" {
		b.reply(sess, m, "Usage: `"+commandPrefix+"use <card name>`")
		return nil
	}
	session := b.game.SessionFor(m.GuildID, m.Author.ID)
	if session == nil {
		b.reply(sess, m, "You have no open steal attempt.")
		return nil
	}
	out, err := b.game.ResolveSteal(ctx, session.ID, args)
	if err != nil {
		return err
	}
	if out.Success {
		note := ""
		if out.Reclaimed {
			note = " Reclaimed what was originally yours!"
		}
		b.reply(sess, m, fmt.Sprintf("💰 Success (%.1f%% chance) — **%s** is yours.%s", out.Chance, out.Transferred.CardName, note))
		return nil
	}
	b.reply(sess, m, fmt.Sprintf("❌ Failed (%.1f%% chance) — your **%s** is forfeit.", out.Chance, out.Forfeited.CardName))
	return nil
}

func (b *Bot) cmdApprove(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate) error {
	if !b.isAdmin(ctx, sess, m) {
		b.reply(sess, m, "You need Manage Server permission for that.")
		return nil
	}
	if err := b.game.ApproveGuild(ctx, m.GuildID, m.ChannelID); err != nil {
		return err
	}
	b.reply(sess, m, "Guild approved — cards will spawn in this channel.")
	return nil
}

func (b *Bot) cmdSetChannel(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate) error {
	if !b.isAdmin(ctx, sess, m) {
		b.reply(sess, m, "You need Manage Server permission for that.")
		return nil
	}
	if err := b.game.SetSpawnChannel(ctx, m.GuildID, m.ChannelID); err != nil {
		return err
	}
	b.reply(sess, m, "Spawn channel updated.")
	return nil
}

func (b *Bot) cmdImmune(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate, args string) error {
	if !b.isAdmin(ctx, sess, m) {
		b.reply(sess, m, "You need Manage Server permission for that.")
		return nil
	}
	fields := strings.Fields(args)
	if len(m.Mentions) == 0 || len(fields) == 0 {
		b.reply(sess, m, "Usage: `"+commandPrefix+"immune @user on|off`")
		return nil
	}
	immune := fields[len(fields)-1] != "off"
	if err := b.game.SetStealImmunity(ctx, m.GuildID, m.Mentions[0].ID, immune); err != nil {
		return err
	}
	b.reply(sess, m, "Immunity list updated.")
	return nil
}

func (b *Bot) isAdmin(ctx context.Context, sess *discordgo.Session, m *discordgo.MessageCreate) bool {
	guild, err := b.game.Store().Guild(ctx, m.GuildID)
	if err == nil {
		for _, id := range guild.BannedAdminList {
			if id == m.Author.ID {
				return false
			}
		}
	}
	perms, err := sess.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		b.log.Error("permission check failed", "guild", m.GuildID, "user", m.Author.ID, "err", err)
		return false
	}
	return perms&discordgo.PermissionManageServer != 0
}

func (b *Bot) memberRoles(sess *discordgo.Session, guildID, userID string) []string {
	member, err := sess.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, err = sess.GuildMember(guildID, userID)
		if err != nil || member == nil {
			return nil
		}
	}
	return member.Roles
}

// splitMentionArg extracts the first mentioned user and the remaining text
// with the mention token stripped.
func splitMentionArg(m *discordgo.MessageCreate, args string) (*discordgo.User, string, bool) {
	if len(m.Mentions) == 0 {
		return nil, "", false
	}
	target := m.Mentions[0]
	for _, token := range []string{"<@" + target.ID + ">", "<@!" + target.ID + ">"} {
		args = strings.ReplaceAll(args, token, "")
	}
	args = strings.TrimSpace(args)
	if args == "" {
		return nil, "", false
	}
	return target, args, true
}

func (b *Bot) reply(sess *discordgo.Session, m *discordgo.MessageCreate, text string) {
	if _, err := sess.ChannelMessageSend(m.ChannelID, text); err != nil {
		b.log.Error("reply failed", "channel", m.ChannelID, "err", err)
	}
}

// replyErr maps engine errors to user-facing notices; anything unclassified
// is logged with context and reported generically.
func (b *Bot) replyErr(sess *discordgo.Session, m *discordgo.MessageCreate, err error) {
	var text string
	switch {
	case errors.Is(err, game.ErrCardGone):
		text = "That card is no longer available."
	case errors.Is(err, game.ErrUnknownCard):
		text = "No card by that name exists."
	case errors.Is(err, game.ErrNotStealable):
		text = "That card's tier is too low to steal."
	case errors.Is(err, game.ErrNoLeverage):
		text = "You need at least one stealable card to put up as leverage."
	case errors.Is(err, game.ErrVictimImmune):
		text = "That user is protected from steals."
	case errors.Is(err, game.ErrSelfSteal):
		text = "You can't steal from yourself."
	case errors.Is(err, game.ErrSelfGive):
		text = "You can't give a card to yourself."
	case errors.Is(err, game.ErrStealRateLimit):
		text = "This server hit its steal limit — try again later."
	case errors.Is(err, game.ErrSessionOpen):
		text = "You already have a steal attempt open. Pick your leverage with `" + commandPrefix + "use <card name>`."
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, game.ErrSessionExpired):
		text = "That steal attempt is no longer open."
	case errors.Is(err, game.ErrNoCards):
		text = "No cards are loaded right now."
	default:
		b.log.Error("command failed", "guild", m.GuildID, "user", m.Author.ID, "err", err)
		text = "Something went wrong — try again later."
	}
	b.reply(sess, m, text)
}
