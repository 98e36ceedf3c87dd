package chat

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/stream-tagger/tags"
)

// Recent keeps the last messages seen per channel. It implements tags.History.
type Recent struct {
	mu   sync.Mutex
	size int
	msgs map[string][]tags.HistoricalMessage
}

// NewRecent keeps up to size messages per channel.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = 1000
	}
	return &Recent{size: size, msgs: make(map[string][]tags.HistoricalMessage)}
}

// Add appends m to the channel's window, dropping the oldest message when full.
func (r *Recent) Add(channelID string, m tags.HistoricalMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.msgs[channelID], m)
	if len(buf) > r.size {
		buf = append(buf[:0:0], buf[len(buf)-r.size:]...)
	}
	r.msgs[channelID] = buf
}

// Messages returns the channel's messages sent at or after since, oldest first.
func (r *Recent) Messages(_ context.Context, channelID string, since time.Time) ([]tags.HistoricalMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tags.HistoricalMessage
	for _, m := range r.msgs[channelID] {
		if !m.SentAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}
