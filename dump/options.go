package dump

import (
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/render"
)

// Options shape one dump.
type Options struct {
	Format string `json:"format,omitempty"`
	// Server merges another community's tags for the same stream, privacy permitting.
	Server string `json:"server,omitempty"`
	// Own keeps only the requester's tags.
	Own      bool `json:"own,omitempty"`
	Offset   int  `json:"offset,omitempty"`
	MinStars int  `json:"min_stars,omitempty"`
	// StartTime overrides the stream start as the time anchor. With no resolvable
	// stream it anchors a manual dump on its own.
	StartTime time.Time     `json:"start_time,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Args is a parsed textual dump command.
type Args struct {
	Query   string
	Options Options
	// Delete asks to forget the last dump instead of producing one.
	Delete bool
}

// ParseArgs reads the dump command grammar:
//
//	own                 only the caller's tags
//	compact|tree|yt|csv output format (classic, alternative and yt-text are aliases)
//	start=<ts>          unix seconds, or h:m:s past today's UTC midnight
//	duration=<d>        s, m:s or h:m:s
//	server=<community>  merge another community's tags
//	offset=<n>          seconds added to every time
//	min_stars=<n>       drop tags with fewer stars
//	delete              forget the last dump
//
// Anything else is part of the stream query. A query wrapped in <> has the brackets
// stripped and "_" means no query.
func ParseArgs(tokens []string, now time.Time) (Args, error) {
	var a Args
	var query []string
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		key, val, hasVal := strings.Cut(tok, "=")
		switch {
		case tok == "":
		case tok == "own":
			a.Options.Own = true
		case tok == "delete" || tok == "delete_last":
			a.Delete = true
		case render.IsFormat(tok):
			a.Options.Format = strings.ToLower(tok)
		case hasVal && key == "start":
			t, err := parseStart(val, now)
			if err != nil {
				return Args{}, err
			}
			a.Options.StartTime = t
		case hasVal && key == "duration":
			sec, err := parseClock(val)
			if err != nil {
				return Args{}, err
			}
			a.Options.Duration = time.Duration(sec) * time.Second
		case hasVal && key == "server":
			if val == "" {
				return Args{}, apperr.Invalid("server= needs a community")
			}
			a.Options.Server = val
		case hasVal && key == "offset":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Args{}, apperr.Invalid("offset=%s is not a number of seconds", val)
			}
			a.Options.Offset = n
		case hasVal && key == "min_stars":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return Args{}, apperr.Invalid("min_stars=%s is not a star count", val)
			}
			a.Options.MinStars = n
		default:
			if strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">") {
				tok = tok[1 : len(tok)-1]
			}
			query = append(query, tok)
		}
	}
	a.Query = strings.Join(query, " ")
	if a.Query == "_" {
		a.Query = ""
	}
	return a, nil
}

// parseStart accepts unix seconds, or a clock time taken as today in UTC.
func parseStart(s string, now time.Time) (time.Time, error) {
	if strings.Contains(s, ":") {
		sec, err := parseClock(s)
		if err != nil {
			return time.Time{}, err
		}
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, apperr.Invalid("start=%s is neither a unix time nor h:m:s", s)
	}
	return time.Unix(n, 0).UTC(), nil
}

// parseClock reads s, m:s or h:m:s into seconds.
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, apperr.Invalid("%q is not s, m:s or h:m:s", s)
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, apperr.Invalid("%q is not s, m:s or h:m:s", s)
		}
		total = total*60 + n
	}
	return total, nil
}

// ParseOffset reads an adjust argument such as "-10" or "+5".
func ParseOffset(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, apperr.InvalidOffset("%q is not a number of seconds", s)
	}
	return n, nil
}
