package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"catchup/internal/models"
	"catchup/internal/roster"
)

const (
	membersPageSize = 1000
	// Discord's "Cannot send messages to this user".
	codeCannotMessageUser = 50007
	// Discord's "Unknown User".
	codeUnknownUser = 10013
)

var (
	ErrUnknownStudent = errors.New("student not found")
	ErrForbidden      = errors.New("direct messages not allowed")
	ErrGuildNotFound  = errors.New("guild not found")
)

// Session is the part of *discordgo.Session the bot relies on.
type Session interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot keeps the guild roster fresh and delivers revision notes by DM.
type Bot struct {
	session Session
	guildID string
	roster  *roster.Store
	logger  *zap.Logger

	dg *discordgo.Session
}

func New(guildID string, store *roster.Store, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{guildID: guildID, roster: store, logger: logger}
}

func newWithSession(session Session, guildID string, store *roster.Store, logger *zap.Logger) *Bot {
	b := New(guildID, store, logger)
	b.session = session
	return b
}

// Open connects the gateway session. The roster loads on every Ready event.
func (b *Bot) Open(token string) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("discord bot connected", zap.String("user", r.User.Username))
		if err := b.RefreshRoster(context.Background()); err != nil {
			b.logger.Warn("roster refresh failed", zap.Error(err))
		}
	})
	b.session = dg
	b.dg = dg
	if err := dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	if b.dg == nil {
		return nil
	}
	return b.dg.Close()
}

// RefreshRoster replaces the roster with the guild's non-bot members. When the
// guild cannot be resolved the roster is left untouched.
func (b *Bot) RefreshRoster(ctx context.Context) error {
	if b.session == nil {
		return errors.New("discord session not open")
	}
	guild, err := b.session.Guild(b.guildID, discordgo.WithContext(ctx))
	if err != nil || guild == nil {
		b.logger.Warn("guild not found", zap.String("guild_id", b.guildID), zap.Error(err))
		return ErrGuildNotFound
	}

	members := make([]models.Member, 0)
	after := ""
	for {
		page, err := b.session.GuildMembers(guild.ID, after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("list guild members: %w", err)
		}
		for _, m := range page {
			if m == nil || m.User == nil || m.User.Bot {
				continue
			}
			members = append(members, models.Member{ID: m.User.ID, Name: memberName(m)})
		}
		if len(page) < membersPageSize {
			break
		}
		last := page[len(page)-1]
		if last == nil || last.User == nil {
			break
		}
		after = last.User.ID
	}

	b.roster.Replace(members)
	b.logger.Info("roster loaded", zap.String("guild", guild.Name), zap.Int("members", len(members)))
	return nil
}

func memberName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	return displayName(m.User)
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// Notify sends the notes to the student as one or more direct messages.
func (b *Bot) Notify(ctx context.Context, n models.Notification) error {
	if b.session == nil {
		return errors.New("discord session not open")
	}
	log := b.logger.With(zap.String("student_id", n.StudentID), zap.String("notification_id", n.ID))

	user, err := b.session.User(n.StudentID, discordgo.WithContext(ctx))
	if err != nil || user == nil {
		if err == nil || isUnknownUser(err) {
			log.Warn("user not found")
			return ErrUnknownStudent
		}
		return fmt.Errorf("resolve user: %w", err)
	}

	channel, err := b.session.UserChannelCreate(user.ID, discordgo.WithContext(ctx))
	if err != nil {
		if isForbidden(err) {
			log.Warn("cannot DM user", zap.String("user", user.Username))
			return ErrForbidden
		}
		return fmt.Errorf("open dm channel: %w", err)
	}

	content := fmt.Sprintf("Hey %s! Here's your revision notes for **%s**:\n\n%s", displayName(user), n.Topic, n.Notes)
	for _, chunk := range splitMessage(content, maxMessageLen) {
		if _, err := b.session.ChannelMessageSend(channel.ID, chunk, discordgo.WithContext(ctx)); err != nil {
			if isForbidden(err) {
				log.Warn("cannot DM user", zap.String("user", user.Username))
				return ErrForbidden
			}
			return fmt.Errorf("send dm: %w", err)
		}
	}
	log.Info("sent revision notes", zap.String("user", user.Username), zap.String("topic", n.Topic))
	return nil
}

func isForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == codeCannotMessageUser {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}

func isUnknownUser(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == codeUnknownUser {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
