package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/stream-tagger/dump"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/tags"
)

// Commands is the command layer the ingestor drives. *dump.Service implements it.
type Commands interface {
	Tag(ctx context.Context, req dump.TagRequest) (tags.Entry, bool, error)
	Adjust(ctx context.Context, communityID, authorID, arg string) (tags.Entry, error)
}

// EntryStore mutates existing tags. *tags.Store implements it.
type EntryStore interface {
	Tombstone(ctx context.Context, id string) (tags.Entry, error)
	SetStar(ctx context.Context, id string, value bool) (tags.Entry, error)
}

// BotPolicy says whether a community lets bots tag. *settings.Memory implements it.
type BotPolicy interface {
	AllowBots(ctx context.Context, communityID string) (bool, error)
}

// Config holds IRC credentials and the channels to join.
type Config struct {
	Username   string
	OAuthToken string
	Channels   []string
	// KnownBots are extra logins treated as bots.
	KnownBots []string
	// Bots decides per community whether bot messages count. Nil ignores every bot.
	Bots BotPolicy
}

// commonBots are chat bots seen in most channels. Twitch marks none of them.
var commonBots = []string{"nightbot", "streamelements", "streamlabs", "moobot", "fossabot", "wizebot", "sery_bot"}

// Ingestor turns Twitch chat events into tag store mutations.
type Ingestor struct {
	cfg    Config
	cmds   Commands
	store  EntryStore
	recent *Recent
	bots   map[string]bool
	now    func() time.Time
}

// NewIngestor wires an ingestor. recent may be nil.
func NewIngestor(cfg Config, cmds Commands, store EntryStore, recent *Recent) *Ingestor {
	bots := make(map[string]bool)
	for _, names := range [][]string{commonBots, cfg.KnownBots, {cfg.Username}} {
		for _, n := range names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				bots[n] = true
			}
		}
	}
	return &Ingestor{cfg: cfg, cmds: cmds, store: store, recent: recent, bots: bots, now: time.Now}
}

// isBot reports whether msg was sent by a chat bot: a known login or a user wearing
// Twitch's bot badge.
func (in *Ingestor) isBot(msg twitch.PrivateMessage) bool {
	return in.bots[strings.ToLower(msg.User.Name)] || msg.User.Badges["bot-badge"] > 0
}

// ignored drops bot messages unless the community allows bots. This process's own
// messages are always dropped.
func (in *Ingestor) ignored(ctx context.Context, msg twitch.PrivateMessage) bool {
	if !in.isBot(msg) {
		return false
	}
	if in.cfg.Bots == nil || strings.EqualFold(msg.User.Name, in.cfg.Username) {
		return true
	}
	allow, err := in.cfg.Bots.AllowBots(ctx, msg.Channel)
	if err != nil {
		slog.Warn("allow bots lookup failed", slog.String("component", "chat"), slog.String("channel", msg.Channel), slog.Any("err", err))
		return true
	}
	return !allow
}

// Run connects and handles events until ctx is done.
func (in *Ingestor) Run(ctx context.Context) error {
	if in.cfg.Username == "" || in.cfg.OAuthToken == "" || len(in.cfg.Channels) == 0 {
		slog.Info("twitch creds or channels not set; skipping chat ingestion", slog.String("component", "chat"))
		return nil
	}
	token := in.cfg.OAuthToken
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	client := twitch.NewClient(in.cfg.Username, token)
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) { in.HandlePrivateMessage(ctx, msg) })
	client.OnClearMessage(func(msg twitch.ClearMessage) { in.HandleClearMessage(ctx, msg) })
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("component", "chat"), slog.Any("channels", in.cfg.Channels))
	})

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Debug("twitch chat disconnect", slog.String("component", "chat"), slog.Any("err", err))
		}
	}()

	client.Join(in.cfg.Channels...)
	err := client.Connect()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// HandlePrivateMessage records msg and acts on tags, adjusts and star replies. Bot
// messages are dropped unless the community allows bots.
func (in *Ingestor) HandlePrivateMessage(ctx context.Context, msg twitch.PrivateMessage) {
	if in.ignored(ctx, msg) {
		return
	}
	sent := msg.Time
	if sent.IsZero() {
		sent = in.now()
	}
	text := strings.TrimSpace(msg.Message)
	if in.recent != nil {
		in.recent.Add(msg.RoomID, tags.HistoricalMessage{ID: msg.ID, AuthorID: msg.User.ID, Text: text, SentAt: sent})
	}
	logger := slog.Default().With(slog.String("component", "chat"), slog.String("channel", msg.Channel), slog.String("msg_id", msg.ID))

	switch {
	case tags.IsTag(text):
		e, created, err := in.cmds.Tag(ctx, dump.TagRequest{
			CommunityID: msg.Channel,
			ChannelID:   msg.RoomID,
			Platform:    platform.Twitch,
			Entry:       tags.NewEntry{ID: msg.ID, AuthorID: msg.User.ID, RawText: text, CreatedAt: sent},
		})
		if err != nil {
			logger.Warn("tag failed", slog.Any("err", err))
			return
		}
		if created {
			logger.Debug("tag created", slog.String("session", e.SessionID), slog.Int("depth", e.Depth))
		}
	case strings.HasPrefix(text, "!adjust"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "!adjust"))
		e, err := in.cmds.Adjust(ctx, msg.Channel, msg.User.ID, arg)
		if err != nil {
			logger.Debug("adjust failed", slog.Any("err", err))
			return
		}
		logger.Debug("tag adjusted", slog.String("tag", e.ID), slog.Int("offset", e.OffsetSeconds))
	case isStarReply(text) && msg.Tags["reply-parent-msg-id"] != "":
		parent := msg.Tags["reply-parent-msg-id"]
		if _, err := in.store.SetStar(ctx, parent, true); err != nil {
			logger.Debug("star failed", slog.String("tag", parent), slog.Any("err", err))
		}
	}
}

// HandleClearMessage tombstones the tag carried by a deleted message.
func (in *Ingestor) HandleClearMessage(ctx context.Context, msg twitch.ClearMessage) {
	id := msg.Tags["target-msg-id"]
	if id == "" {
		return
	}
	if _, err := in.store.Tombstone(ctx, id); err != nil {
		// most deleted messages were never tags
		slog.Debug("clear message not tombstoned", slog.String("component", "chat"), slog.String("msg_id", id), slog.Any("err", err))
		return
	}
	slog.Info("tag removed by moderator", slog.String("component", "chat"), slog.String("channel", msg.Channel), slog.String("msg_id", id))
}

// isStarReply matches a reply that is only a star, after the leading @mention
// Twitch clients insert.
func isStarReply(text string) bool {
	if strings.HasPrefix(text, "@") {
		if _, rest, ok := strings.Cut(text, " "); ok {
			text = strings.TrimSpace(rest)
		}
	}
	return text == "⭐" || text == "+1" || text == "*"
}
