// Package settings holds per-community configuration read by the tagging engine:
// the default offset applied to new sessions, which channels are private, the
// default dump format, how many tags one dump may hold and whether bots may tag.
package settings

import (
	"context"
	"sync"

	"github.com/onnwee/stream-tagger/apperr"
)

// DefaultOffset is the offset in seconds used when a community never set one.
// Tags are usually typed a little after the moment they describe.
const DefaultOffset = -20

// DefaultFetchLimit caps the tags in one dump until a community lifts it. A limit of
// zero means no cap.
const DefaultFetchLimit = 1000

// Provider is the settings collaborator.
type Provider interface {
	DefaultOffset(ctx context.Context, communityID string) (int, error)
	IsChannelPrivate(ctx context.Context, communityID, channelID string) (bool, error)
	DefaultFormat(ctx context.Context, communityID string) (string, error)
	FetchLimit(ctx context.Context, communityID string) (int, error)
	AllowBots(ctx context.Context, communityID string) (bool, error)
}

// Store is a Provider that can also be written by the admin surface.
type Store interface {
	Provider
	SetDefaultOffset(ctx context.Context, communityID string, seconds int) error
	SetChannelPrivate(ctx context.Context, communityID, channelID string, private bool) error
	SetDefaultFormat(ctx context.Context, communityID, format string) error
	SetFetchLimit(ctx context.Context, communityID string, limit int) error
	SetAllowBots(ctx context.Context, communityID string, allow bool) error
}

// Update is a partial settings change. Nil fields are left alone.
type Update struct {
	DefaultOffset *int            `json:"default_offset,omitempty"`
	DefaultFormat *string         `json:"default_format,omitempty"`
	Private       map[string]bool `json:"private_channels,omitempty"`
	FetchLimit    *int            `json:"fetch_limit,omitempty"`
	AllowBots     *bool           `json:"allow_bots,omitempty"`
}

// Apply writes u to s.
func Apply(ctx context.Context, s Store, communityID string, u Update) error {
	if u.DefaultOffset != nil {
		if err := s.SetDefaultOffset(ctx, communityID, *u.DefaultOffset); err != nil {
			return err
		}
	}
	if u.DefaultFormat != nil {
		if err := s.SetDefaultFormat(ctx, communityID, *u.DefaultFormat); err != nil {
			return err
		}
	}
	if u.FetchLimit != nil {
		if *u.FetchLimit < 0 {
			return apperr.Invalid("fetch limit %d is negative", *u.FetchLimit)
		}
		if err := s.SetFetchLimit(ctx, communityID, *u.FetchLimit); err != nil {
			return err
		}
	}
	if u.AllowBots != nil {
		if err := s.SetAllowBots(ctx, communityID, *u.AllowBots); err != nil {
			return err
		}
	}
	for ch, private := range u.Private {
		if err := s.SetChannelPrivate(ctx, communityID, ch, private); err != nil {
			return err
		}
	}
	return nil
}

type community struct {
	offset     *int
	format     string
	fetchLimit *int
	allowBots  bool
	private    map[string]bool
}

// Memory keeps settings in process.
type Memory struct {
	mu            sync.RWMutex
	communities   map[string]*community
	defaultOffset int
}

// NewMemory returns an empty store whose unset offsets read as defaultOffset.
func NewMemory(defaultOffset int) *Memory {
	return &Memory{communities: make(map[string]*community), defaultOffset: defaultOffset}
}

func (m *Memory) DefaultOffset(_ context.Context, communityID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.communities[communityID]; c != nil && c.offset != nil {
		return *c.offset, nil
	}
	return m.defaultOffset, nil
}

func (m *Memory) IsChannelPrivate(_ context.Context, communityID, channelID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.communities[communityID]; c != nil {
		return c.private[channelID], nil
	}
	return false, nil
}

func (m *Memory) DefaultFormat(_ context.Context, communityID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.communities[communityID]; c != nil {
		return c.format, nil
	}
	return "", nil
}

func (m *Memory) FetchLimit(_ context.Context, communityID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.communities[communityID]; c != nil && c.fetchLimit != nil {
		return *c.fetchLimit, nil
	}
	return DefaultFetchLimit, nil
}

func (m *Memory) AllowBots(_ context.Context, communityID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.communities[communityID]; c != nil {
		return c.allowBots, nil
	}
	return false, nil
}

func (m *Memory) SetDefaultOffset(_ context.Context, communityID string, seconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(communityID).offset = &seconds
	return nil
}

func (m *Memory) SetChannelPrivate(_ context.Context, communityID, channelID string, private bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(communityID)
	if private {
		c.private[channelID] = true
	} else {
		delete(c.private, channelID)
	}
	return nil
}

func (m *Memory) SetDefaultFormat(_ context.Context, communityID, format string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(communityID).format = format
	return nil
}

func (m *Memory) SetFetchLimit(_ context.Context, communityID string, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(communityID).fetchLimit = &limit
	return nil
}

func (m *Memory) SetAllowBots(_ context.Context, communityID string, allow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(communityID).allowBots = allow
	return nil
}

// get must be called with m.mu held for writing.
func (m *Memory) get(communityID string) *community {
	c := m.communities[communityID]
	if c == nil {
		c = &community{private: make(map[string]bool)}
		m.communities[communityID] = c
	}
	return c
}
