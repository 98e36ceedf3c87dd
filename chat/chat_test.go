package chat

import (
	"context"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/dump"
	"github.com/onnwee/stream-tagger/tags"
)

type fakeCommands struct {
	tagged   []dump.TagRequest
	adjusted []string
}

func (f *fakeCommands) Tag(_ context.Context, req dump.TagRequest) (tags.Entry, bool, error) {
	f.tagged = append(f.tagged, req)
	return tags.Entry{ID: req.Entry.ID}, true, nil
}

func (f *fakeCommands) Adjust(_ context.Context, community, author, arg string) (tags.Entry, error) {
	f.adjusted = append(f.adjusted, community+"/"+author+"/"+arg)
	return tags.Entry{}, nil
}

type fakeStore struct {
	tombstoned []string
	starred    []string
}

func (f *fakeStore) Tombstone(_ context.Context, id string) (tags.Entry, error) {
	if id == "unknown" {
		return tags.Entry{}, apperr.NotFound("tag %s not found", id)
	}
	f.tombstoned = append(f.tombstoned, id)
	return tags.Entry{ID: id, Tombstoned: true}, nil
}

func (f *fakeStore) SetStar(_ context.Context, id string, _ bool) (tags.Entry, error) {
	f.starred = append(f.starred, id)
	return tags.Entry{ID: id, Stars: 1}, nil
}

func privmsg(id, text string) twitch.PrivateMessage {
	return twitch.PrivateMessage{
		User:    twitch.User{ID: "u1", Name: "viewer"},
		Message: text,
		Channel: "somechannel",
		RoomID:  "1001",
		ID:      id,
		Time:    time.Date(2024, 6, 1, 18, 7, 20, 0, time.UTC),
		Tags:    map[string]string{},
	}
}

func TestHandlePrivateMessageTag(t *testing.T) {
	cmds, store := &fakeCommands{}, &fakeStore{}
	recent := NewRecent(10)
	in := NewIngestor(Config{}, cmds, store, recent)

	in.HandlePrivateMessage(context.Background(), privmsg("m1", "``  nested point "))
	in.HandlePrivateMessage(context.Background(), privmsg("m2", "just chatting"))

	if len(cmds.tagged) != 1 {
		t.Fatalf("tagged = %d, want 1", len(cmds.tagged))
	}
	req := cmds.tagged[0]
	if req.CommunityID != "somechannel" || req.ChannelID != "1001" || req.Entry.ID != "m1" ||
		req.Entry.AuthorID != "u1" || req.Entry.RawText != "``  nested point" {
		t.Errorf("tag request = %+v", req)
	}
	msgs, _ := recent.Messages(context.Background(), "1001", time.Time{})
	if len(msgs) != 2 {
		t.Errorf("recent = %d messages, want 2", len(msgs))
	}
}

type botPolicy map[string]bool

func (p botPolicy) AllowBots(_ context.Context, community string) (bool, error) {
	return p[community], nil
}

func TestHandlePrivateMessageBots(t *testing.T) {
	fromBot := func(id, name string, badges map[string]int) twitch.PrivateMessage {
		msg := privmsg(id, "`bot tag")
		msg.User = twitch.User{ID: "b-" + id, Name: name, Badges: badges}
		return msg
	}
	tests := []struct {
		name   string
		cfg    Config
		msg    twitch.PrivateMessage
		tagged bool
	}{
		{"known bot ignored", Config{}, fromBot("m1", "Nightbot", nil), false},
		{"configured bot ignored", Config{KnownBots: []string{"ClipBot"}}, fromBot("m2", "clipbot", nil), false},
		{"bot badge ignored", Config{}, fromBot("m3", "helper", map[string]int{"bot-badge": 1}), false},
		{"community allows bots", Config{Bots: botPolicy{"somechannel": true}}, fromBot("m4", "nightbot", nil), true},
		{"other community allows bots", Config{Bots: botPolicy{"elsewhere": true}}, fromBot("m5", "nightbot", nil), false},
		{"own messages always ignored", Config{Username: "TaggerBot", Bots: botPolicy{"somechannel": true}}, fromBot("m6", "taggerbot", nil), false},
		{"people pass", Config{}, privmsg("m7", "`person"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &fakeCommands{}
			recent := NewRecent(10)
			in := NewIngestor(tt.cfg, cmds, &fakeStore{}, recent)
			in.HandlePrivateMessage(context.Background(), tt.msg)
			if got := len(cmds.tagged) == 1; got != tt.tagged {
				t.Errorf("tagged = %v, want %v", got, tt.tagged)
			}
			msgs, _ := recent.Messages(context.Background(), "1001", time.Time{})
			if got := len(msgs) == 1; got != tt.tagged {
				t.Errorf("recorded in history = %v, want %v", got, tt.tagged)
			}
		})
	}
}

func TestHandlePrivateMessageAdjust(t *testing.T) {
	cmds := &fakeCommands{}
	in := NewIngestor(Config{}, cmds, &fakeStore{}, nil)
	in.HandlePrivateMessage(context.Background(), privmsg("m1", "!adjust -10"))
	if len(cmds.adjusted) != 1 || cmds.adjusted[0] != "somechannel/u1/-10" {
		t.Errorf("adjusted = %v", cmds.adjusted)
	}
}

func TestHandlePrivateMessageStarReply(t *testing.T) {
	store := &fakeStore{}
	in := NewIngestor(Config{}, &fakeCommands{}, store, nil)

	reply := privmsg("m2", "@viewer ⭐")
	reply.Tags["reply-parent-msg-id"] = "m1"
	in.HandlePrivateMessage(context.Background(), reply)

	plain := privmsg("m3", "⭐")
	in.HandlePrivateMessage(context.Background(), plain)

	chatter := privmsg("m4", "@viewer nice one")
	chatter.Tags["reply-parent-msg-id"] = "m1"
	in.HandlePrivateMessage(context.Background(), chatter)

	if len(store.starred) != 1 || store.starred[0] != "m1" {
		t.Errorf("starred = %v", store.starred)
	}
}

func TestHandleClearMessage(t *testing.T) {
	store := &fakeStore{}
	in := NewIngestor(Config{}, &fakeCommands{}, store, nil)
	in.HandleClearMessage(context.Background(), twitch.ClearMessage{Channel: "somechannel", Tags: map[string]string{"target-msg-id": "m1"}})
	in.HandleClearMessage(context.Background(), twitch.ClearMessage{Tags: map[string]string{"target-msg-id": "unknown"}})
	in.HandleClearMessage(context.Background(), twitch.ClearMessage{Tags: map[string]string{}})
	if len(store.tombstoned) != 1 || store.tombstoned[0] != "m1" {
		t.Errorf("tombstoned = %v", store.tombstoned)
	}
}

func TestRunWithoutCredentials(t *testing.T) {
	in := NewIngestor(Config{}, &fakeCommands{}, &fakeStore{}, nil)
	if err := in.Run(context.Background()); err != nil {
		t.Errorf("Run without creds = %v, want nil", err)
	}
}

func TestRecentWindow(t *testing.T) {
	r := NewRecent(3)
	base := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	for i := range 5 {
		r.Add("ch", tags.HistoricalMessage{ID: string(rune('a' + i)), SentAt: base.Add(time.Duration(i) * time.Minute)})
	}
	all, _ := r.Messages(context.Background(), "ch", time.Time{})
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "e" {
		t.Errorf("window = %+v", all)
	}
	recent, _ := r.Messages(context.Background(), "ch", base.Add(3*time.Minute))
	if len(recent) != 2 {
		t.Errorf("since filter = %d messages, want 2", len(recent))
	}
	if other, _ := r.Messages(context.Background(), "other", time.Time{}); len(other) != 0 {
		t.Error("channels leaked into each other")
	}
}
