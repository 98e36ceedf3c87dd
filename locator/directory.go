package locator

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/onnwee/stream-tagger/platform"
)

// Account is one platform channel owned by a creator.
type Account struct {
	Platform  platform.Platform `yaml:"platform" json:"platform"`
	ChannelID string            `yaml:"channel_id" json:"channel_id"`
}

// Creator aggregates the accounts of one logical streamer.
type Creator struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Aliases  []string  `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Accounts []Account `yaml:"accounts" json:"accounts"`
}

// Directory is an immutable, validated set of creators.
type Directory struct {
	creators  []Creator
	names     [][]string // normalized name + aliases per creator
	byAccount map[string]int
}

type directoryFile struct {
	Creators []Creator `yaml:"creators"`
}

// LoadDirectory reads a YAML creators file.
func LoadDirectory(path string) (*Directory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read creators file: %w", err)
	}
	return ParseDirectory(b)
}

// ParseDirectory parses YAML of the form `creators: [{id, name, aliases, accounts}]`.
func ParseDirectory(data []byte) (*Directory, error) {
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse creators file: %w", err)
	}
	return NewDirectory(f.Creators)
}

// NewDirectory validates creators. A (platform, channel) pair may belong to one creator only.
func NewDirectory(creators []Creator) (*Directory, error) {
	d := &Directory{byAccount: make(map[string]int)}
	seenIDs := map[string]bool{}
	for i, c := range creators {
		if c.Name == "" {
			return nil, fmt.Errorf("creator %d: name required", i)
		}
		if c.ID == "" {
			c.ID = normalize(c.Name)
		}
		if seenIDs[c.ID] {
			return nil, fmt.Errorf("creator %q: duplicate id", c.ID)
		}
		seenIDs[c.ID] = true
		for _, a := range c.Accounts {
			if a.Platform == "" || a.ChannelID == "" {
				return nil, fmt.Errorf("creator %q: account needs platform and channel_id", c.Name)
			}
			k := accountKey(a.Platform, a.ChannelID)
			if other, dup := d.byAccount[k]; dup {
				return nil, fmt.Errorf("account %s belongs to both %q and %q", k, d.creators[other].Name, c.Name)
			}
			d.byAccount[k] = len(d.creators)
		}
		keys := []string{normalize(c.Name)}
		for _, a := range c.Aliases {
			if n := normalize(a); n != "" {
				keys = append(keys, n)
			}
		}
		d.creators = append(d.creators, c)
		d.names = append(d.names, keys)
	}
	return d, nil
}

// Creators returns a copy of all creators.
func (d *Directory) Creators() []Creator {
	if d == nil {
		return nil
	}
	return append([]Creator(nil), d.creators...)
}

// ByAccount returns the creator owning a channel.
func (d *Directory) ByAccount(p platform.Platform, channelID string) (Creator, bool) {
	if d == nil {
		return Creator{}, false
	}
	i, ok := d.byAccount[accountKey(p, channelID)]
	if !ok {
		return Creator{}, false
	}
	return d.creators[i], true
}

// Match returns creators whose name or alias contains fragment, and the subset that
// matches a name or alias exactly. Both are ordered by name.
func (d *Directory) Match(fragment string) (matches, exact []Creator) {
	if d == nil {
		return nil, nil
	}
	q := normalize(fragment)
	if q == "" {
		return nil, nil
	}
	for i, keys := range d.names {
		hit, full := false, false
		for _, k := range keys {
			if strings.Contains(k, q) {
				hit = true
			}
			if k == q {
				full = true
			}
		}
		if hit {
			matches = append(matches, d.creators[i])
		}
		if full {
			exact = append(exact, d.creators[i])
		}
	}
	byName := func(cs []Creator) {
		sort.Slice(cs, func(a, b int) bool { return cs[a].Name < cs[b].Name })
	}
	byName(matches)
	byName(exact)
	return matches, exact
}

func accountKey(p platform.Platform, channelID string) string {
	id := strings.TrimSpace(channelID)
	if p == platform.Twitch {
		id = strings.ToLower(id)
	}
	return string(p) + ":" + id
}

// normalize folds width, compatibility forms and case so "ＳＥＬＥＮ" matches "selen".
func normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}
