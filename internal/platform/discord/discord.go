// Package discord adapts discordgo to the platform contract.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/forumclaw/forumclaw/internal/platform"
)

// noMentions is the empty-parse mention policy applied to every send, so
// model output cannot ping roles or users.
var noMentions = &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}

// Client wraps a discordgo session behind the platform contract.
type Client struct {
	session *discordgo.Session
	logger  zerolog.Logger
}

func New(session *discordgo.Session, logger zerolog.Logger) *Client {
	return &Client{
		session: session,
		logger:  logger.With().Str("component", "discord").Logger(),
	}
}

// Connect opens the gateway connection with the intents the host needs.
func Connect(token string, logger zerolog.Logger) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: opening gateway: %w", err)
	}
	return New(session, logger), nil
}

func (c *Client) Close() error {
	return c.session.Close()
}

// ResolveChannel tries the ID path first, then a case-insensitive name
// lookup across the guild's channels (cache, then fetch).
func (c *Client) ResolveChannel(ctx context.Context, guildID, nameOrID string) (platform.ChannelRef, error) {
	nameOrID = strings.TrimPrefix(strings.TrimSpace(nameOrID), "#")
	if nameOrID == "" {
		return nil, nil
	}

	if ch, err := c.session.State.Channel(nameOrID); err == nil {
		return &channelRef{c: c, ch: ch}, nil
	}
	if ch, err := c.session.Channel(nameOrID, discordgo.WithContext(ctx)); err == nil {
		return &channelRef{c: c, ch: ch}, nil
	}

	if guildID == "" {
		return nil, nil
	}
	guild, err := c.session.State.Guild(guildID)
	if err == nil {
		if ref := matchByName(c, guild.Channels, nameOrID); ref != nil {
			return ref, nil
		}
	}
	channels, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: listing channels for guild %s: %w", guildID, err)
	}
	return matchByName(c, channels, nameOrID), nil
}

func matchByName(c *Client, channels []*discordgo.Channel, name string) platform.ChannelRef {
	for _, ch := range channels {
		if strings.EqualFold(ch.Name, name) {
			return &channelRef{c: c, ch: ch}
		}
	}
	return nil
}

func (c *Client) Forum(ctx context.Context, channelID string) (platform.Forum, error) {
	ch, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetching forum %s: %w", channelID, err)
	}
	if ch.Type != discordgo.ChannelTypeGuildForum {
		return nil, fmt.Errorf("discord: channel %s is not a forum", channelID)
	}
	return &forum{c: c, ch: ch}, nil
}

// channelRef

type channelRef struct {
	c  *Client
	ch *discordgo.Channel
}

func (r *channelRef) ID() string   { return r.ch.ID }
func (r *channelRef) Name() string { return r.ch.Name }

func (r *channelRef) Send(ctx context.Context, msg platform.Message) (*platform.SentMessage, error) {
	send := &discordgo.MessageSend{
		Content:         msg.Content,
		AllowedMentions: noMentions,
	}
	for _, f := range msg.Files {
		send.Files = append(send.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	m, err := r.c.session.ChannelMessageSendComplex(r.ch.ID, send, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: sending to %s: %w", r.ch.ID, err)
	}
	return &platform.SentMessage{ID: m.ID, ChannelID: m.ChannelID}, nil
}

func (r *channelRef) EditMessage(ctx context.Context, messageID, content string) error {
	edit := discordgo.NewMessageEdit(r.ch.ID, messageID).SetContent(content)
	edit.AllowedMentions = noMentions
	_, err := r.c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

func (r *channelRef) PinMessage(ctx context.Context, messageID string) error {
	return r.c.session.ChannelMessagePin(r.ch.ID, messageID, discordgo.WithContext(ctx))
}

// BulkDelete removes up to count recent messages in a single API call.
func (r *channelRef) BulkDelete(ctx context.Context, count int) (int, error) {
	msgs, err := r.c.session.ChannelMessages(r.ch.ID, count, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("discord: listing messages in %s: %w", r.ch.ID, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := r.c.session.ChannelMessagesBulkDelete(r.ch.ID, ids, discordgo.WithContext(ctx)); err != nil {
		return 0, fmt.Errorf("discord: bulk delete in %s: %w", r.ch.ID, err)
	}
	return len(ids), nil
}

// forum

type forum struct {
	c  *Client
	ch *discordgo.Channel
}

func (f *forum) ID() string { return f.ch.ID }

func (f *forum) Threads(ctx context.Context) (map[string]platform.Thread, error) {
	out := make(map[string]platform.Thread)

	active, err := f.c.session.GuildThreadsActive(f.ch.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetching active threads: %w", err)
	}
	for _, th := range active.Threads {
		if th.ParentID == f.ch.ID {
			out[th.ID] = &thread{channelRef: channelRef{c: f.c, ch: th}}
		}
	}

	archived, err := f.c.session.ThreadsArchived(f.ch.ID, nil, 100, discordgo.WithContext(ctx))
	if err != nil {
		// Archived listing is best effort; active threads alone are usable.
		f.c.logger.Warn().Err(err).Str("forum", f.ch.ID).Msg("Failed to fetch archived threads")
		return out, nil
	}
	for _, th := range archived.Threads {
		if _, seen := out[th.ID]; !seen && th.ParentID == f.ch.ID {
			out[th.ID] = &thread{channelRef: channelRef{c: f.c, ch: th}}
		}
	}
	return out, nil
}

func (f *forum) CreateThread(ctx context.Context, name, content string, tagIDs []string) (platform.Thread, error) {
	th, err := f.c.session.ForumThreadStartComplex(f.ch.ID,
		&discordgo.ThreadStart{Name: name, AppliedTags: tagIDs},
		&discordgo.MessageSend{Content: content, AllowedMentions: noMentions},
		discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: creating forum thread: %w", err)
	}
	return &thread{channelRef: channelRef{c: f.c, ch: th}}, nil
}

func (f *forum) AvailableTags(ctx context.Context) (map[string]string, error) {
	ch, err := f.c.session.Channel(f.ch.ID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(ch.AvailableTags))
	for _, tag := range ch.AvailableTags {
		tags[tag.Name] = tag.ID
	}
	return tags, nil
}

// thread

type thread struct {
	channelRef
}

func (t *thread) ParentID() string { return t.ch.ParentID }
func (t *thread) Archived() bool {
	return t.ch.ThreadMetadata != nil && t.ch.ThreadMetadata.Archived
}

func (t *thread) AppliedTags() []string {
	out := make([]string, len(t.ch.AppliedTags))
	copy(out, t.ch.AppliedTags)
	return out
}

func (t *thread) EditAppliedTags(ctx context.Context, tagIDs []string) error {
	ch, err := t.c.session.ChannelEditComplex(t.ch.ID,
		&discordgo.ChannelEdit{AppliedTags: &tagIDs}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	t.ch = ch
	return nil
}

func (t *thread) SetName(ctx context.Context, name string) error {
	ch, err := t.c.session.ChannelEditComplex(t.ch.ID,
		&discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	t.ch = ch
	return nil
}

func (t *thread) SetArchived(ctx context.Context, archived bool) error {
	ch, err := t.c.session.ChannelEditComplex(t.ch.ID,
		&discordgo.ChannelEdit{Archived: &archived}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	t.ch = ch
	return nil
}

func (t *thread) FetchStarterMessage(ctx context.Context) (*platform.SentMessage, error) {
	// The starter message shares the thread's ID.
	return t.FetchMessage(ctx, t.ch.ID)
}

func (t *thread) FetchPinned(ctx context.Context) ([]platform.SentMessage, error) {
	msgs, err := t.c.session.ChannelMessagesPinned(t.ch.ID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]platform.SentMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, platform.SentMessage{ID: m.ID, ChannelID: m.ChannelID})
	}
	return out, nil
}

func (t *thread) FetchMessage(ctx context.Context, messageID string) (*platform.SentMessage, error) {
	m, err := t.c.session.ChannelMessage(t.ch.ID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &platform.SentMessage{ID: m.ID, ChannelID: m.ChannelID}, nil
}

// IncomingMessage is a guild message received over the gateway.
type IncomingMessage struct {
	ChannelID string
	AuthorID  string
	Content   string
}

// OnMessage registers a handler for non-bot messages. The returned func
// removes the handler.
func (c *Client) OnMessage(fn func(IncomingMessage)) func() {
	return c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		fn(IncomingMessage{
			ChannelID: m.ChannelID,
			AuthorID:  m.Author.ID,
			Content:   m.Content,
		})
	})
}
