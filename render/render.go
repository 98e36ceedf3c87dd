// Package render turns a compiled tag tree into chat-ready text.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/tags"
)

// Format selects an output layout.
type Format string

const (
	// Compact indents two spaces per level.
	Compact Format = "compact"
	// Tree draws box-drawing branches. It is the default.
	Tree Format = "tree"
	// YT lists chapter-style "7:20 text" lines.
	YT Format = "yt"
	// CSV emits seconds,"text",stars,depth rows.
	CSV Format = "csv"
	// Info renders no lines; a dump in this format is its header alone.
	Info Format = "info"
)

// Star is appended to starred tags.
const Star = "⭐"

var aliases = map[string]Format{
	"compact":     Compact,
	"classic":     Compact,
	"tree":        Tree,
	"alternative": Tree,
	"yt":          YT,
	"yt-text":     YT,
	"csv":         CSV,
	"info":        Info,
}

// ParseFormat maps a user-facing format name to a Format. Empty means Tree.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Tree, nil
	}
	f, ok := aliases[s]
	if !ok {
		return "", apperr.Invalid("unknown format %q", s)
	}
	return f, nil
}

// HasHeader reports whether dumps in f start with a summary line.
func (f Format) HasHeader() bool {
	return f == Compact || f == Tree || f == Info
}

// IsFormat reports whether s names a format.
func IsFormat(s string) bool {
	_, ok := aliases[strings.ToLower(s)]
	return ok
}

// Options tune one render.
type Options struct {
	// Offset is added to every tag time, on top of session and per-tag offsets.
	Offset int
	// LinkBase, when set, turns times into links to that VOD URL.
	LinkBase string
}

// Render formats t. Output has no trailing newline.
func Render(t tags.Tree, f Format, opts Options) (string, error) {
	if f == "" {
		f = Tree
	}
	var lines []string
	switch f {
	case Compact:
		t.Walk(func(n *tags.Node, _ bool) {
			lines = append(lines, strings.Repeat("  ", n.Depth-1)+timeLabel(seconds(n, opts), opts.LinkBase)+" "+text(n))
		})
	case Tree:
		lines = treeLines(t, opts)
	case YT:
		t.Walk(func(n *tags.Node, _ bool) {
			lines = append(lines, ChapterTime(seconds(n, opts))+" "+n.Entry.Text())
		})
	case CSV:
		t.Walk(func(n *tags.Node, _ bool) {
			lines = append(lines, strings.Join([]string{
				strconv.Itoa(seconds(n, opts)),
				`"` + strings.ReplaceAll(n.Entry.Text(), `"`, `""`) + `"`,
				strconv.Itoa(n.Entry.Stars),
				strconv.Itoa(n.Depth),
			}, ","))
		})
	case Info:
	default:
		return "", apperr.Invalid("unknown format %q", string(f))
	}
	return strings.Join(lines, "\n"), nil
}

func treeLines(t tags.Tree, opts Options) []string {
	var lines []string
	var walk func(nodes []*tags.Node, prefix string)
	walk = func(nodes []*tags.Node, prefix string) {
		for i, n := range nodes {
			last := i == len(nodes)-1
			label := "`" + Duration(seconds(n, opts)) + "`"
			if opts.LinkBase != "" {
				label = timeLabel(seconds(n, opts), opts.LinkBase)
			}
			body := label + " | " + text(n)

			childPrefix := prefix
			switch {
			case n.Depth == 1:
				lines = append(lines, body)
			case last:
				lines = append(lines, prefix+"└─ "+body)
				childPrefix += "  "
			default:
				lines = append(lines, prefix+"├ "+body)
				childPrefix += "│ "
			}
			walk(n.Children, childPrefix)
		}
	}
	walk(t.Roots, "")
	return lines
}

func seconds(n *tags.Node, opts Options) int {
	return max(0, n.Offset+opts.Offset)
}

func text(n *tags.Node) string {
	if n.Entry.Starred() {
		return n.Entry.Text() + " " + Star
	}
	return n.Entry.Text()
}

func timeLabel(sec int, linkBase string) string {
	if linkBase == "" {
		return Duration(sec)
	}
	return fmt.Sprintf("[%s](%s)", Duration(sec), TimestampLink(linkBase, sec))
}

// Duration formats seconds as 7m20s, with an hour part only when non-zero.
func Duration(sec int) string {
	sec = max(0, sec)
	h, m, s := sec/3600, sec/60%60, sec%60
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	return fmt.Sprintf("%dm%ds", m, s)
}

// ChapterTime formats seconds as 7:20 or 1:07:20.
func ChapterTime(sec int) string {
	sec = max(0, sec)
	h, m, s := sec/3600, sec/60%60, sec%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// TimestampLink points a VOD URL at sec seconds. Works for Twitch and YouTube URLs.
func TimestampLink(vodURL string, sec int) string {
	vodURL, _, _ = strings.Cut(vodURL, "#")
	sep := "?"
	if strings.Contains(vodURL, "?") {
		sep = "&"
	}
	return vodURL + sep + "t=" + strconv.Itoa(sec) + "s"
}
