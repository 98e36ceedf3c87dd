package tags

import (
	"context"
	"fmt"
	"log/slog"
)

// Privacy answers whether a community keeps a channel's tags to itself.
type Privacy interface {
	IsChannelPrivate(ctx context.Context, communityID, channelID string) (bool, error)
}

// Exclusion notes a foreign session left out of a compile because its channel is
// private in its community. It is informational, never an error.
type Exclusion struct {
	CommunityID string `json:"community_id"`
	ChannelID   string `json:"channel_id"`
	SessionID   string `json:"session_id"`
}

func (e Exclusion) String() string {
	return fmt.Sprintf("channel %s of community %s is private", e.ChannelID, e.CommunityID)
}

// Gathered is the merged input of one compile.
type Gathered struct {
	Sessions map[string]Session
	Entries  []Entry
	Excluded []Exclusion
}

// Tree compiles the gathered entries.
func (g Gathered) Tree(f Filter) Tree {
	return CompileTree(g.Entries, g.Sessions, f)
}

// GatherForCompile snapshots the primary sessions plus, for every foreign community,
// its sessions on the same stream. Foreign sessions whose channel is private in their
// own community are excluded whoever asks. Entries are unioned by id.
func (st *Store) GatherForCompile(ctx context.Context, streamKey string, primary []Session, foreign []string, priv Privacy) (Gathered, error) {
	g := Gathered{Sessions: make(map[string]Session)}
	ids := make([]string, 0, len(primary))
	for _, s := range primary {
		s = s.normalized()
		if _, ok := g.Sessions[s.ID]; ok {
			continue
		}
		g.Sessions[s.ID] = s
		ids = append(ids, s.ID)
	}

	for _, community := range foreign {
		for _, s := range st.Sessions(community, streamKey) {
			if _, ok := g.Sessions[s.ID]; ok {
				continue
			}
			if priv != nil {
				private, err := priv.IsChannelPrivate(ctx, community, s.ChannelID)
				if err != nil {
					return Gathered{}, fmt.Errorf("privacy for %s/%s: %w", community, s.ChannelID, err)
				}
				if private {
					g.Excluded = append(g.Excluded, Exclusion{CommunityID: community, ChannelID: s.ChannelID, SessionID: s.ID})
					continue
				}
			}
			g.Sessions[s.ID] = s
			ids = append(ids, s.ID)
		}
	}

	seen := make(map[string]bool)
	for _, snap := range st.Snapshot(ids...) {
		// stored copy carries the live state
		g.Sessions[snap.Session.ID] = snap.Session
		for _, e := range snap.Entries {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			g.Entries = append(g.Entries, e)
		}
	}
	if len(g.Excluded) > 0 {
		slog.Debug("private channels excluded from compile", slog.String("component", "tags"), slog.String("stream", streamKey), slog.Int("excluded", len(g.Excluded)))
	}
	return g, nil
}
