package platform

import (
	"net/url"
	"regexp"
	"strings"
)

// RefKind says whether a reference points at a channel or a single stream.
type RefKind int

const (
	RefNone RefKind = iota
	RefChannel
	RefStream
)

// Ref is a recognized platform reference extracted from a user query.
type Ref struct {
	Platform Platform
	Kind     RefKind
	ID       string
	URL      string
}

var (
	ytVideoID   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	ytChannelID = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
	twitchVOD   = regexp.MustCompile(`^v?([0-9]{6,})$`)
	twitchLogin = regexp.MustCompile(`^[A-Za-z0-9_]{3,25}$`)
)

// twitch paths that are not channel logins
var twitchReserved = map[string]bool{
	"directory": true, "videos": true, "settings": true, "search": true, "downloads": true,
	"p": true, "subscriptions": true, "inventory": true, "wallet": true,
}

// ParseRef recognizes platform URLs and bare ids. forced, when non-empty, makes a bare
// token be treated as a stream reference on that platform.
// A query that is not recognized returns a Ref with Kind RefNone.
func ParseRef(query string, forced Platform) Ref {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(strings.TrimPrefix(q, "<"), ">")
	if q == "" {
		return Ref{}
	}
	if strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://") {
		return parseURL(q)
	}
	if strings.HasPrefix(q, "www.") || strings.HasPrefix(q, "youtube.com/") || strings.HasPrefix(q, "youtu.be/") || strings.HasPrefix(q, "twitch.tv/") {
		return parseURL("https://" + q)
	}
	if forced != "" {
		switch forced {
		case YouTube:
			if ytChannelID.MatchString(q) || strings.HasPrefix(q, "@") {
				return Ref{Platform: YouTube, Kind: RefChannel, ID: q}
			}
		case Twitch:
			if m := twitchVOD.FindStringSubmatch(q); m != nil {
				return Ref{Platform: Twitch, Kind: RefStream, ID: m[1]}
			}
			if twitchLogin.MatchString(q) {
				return Ref{Platform: Twitch, Kind: RefChannel, ID: strings.ToLower(q)}
			}
		}
		return Ref{Platform: forced, Kind: RefStream, ID: q}
	}
	if ytChannelID.MatchString(q) {
		return Ref{Platform: YouTube, Kind: RefChannel, ID: q}
	}
	if strings.HasPrefix(q, "v") {
		if m := twitchVOD.FindStringSubmatch(q); m != nil {
			return Ref{Platform: Twitch, Kind: RefStream, ID: m[1]}
		}
	}
	return Ref{}
}

func parseURL(raw string) Ref {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Ref{}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch host {
	case "youtu.be":
		if len(parts) > 0 && ytVideoID.MatchString(parts[0]) {
			return Ref{Platform: YouTube, Kind: RefStream, ID: parts[0], URL: raw}
		}
	case "youtube.com":
		if v := u.Query().Get("v"); ytVideoID.MatchString(v) {
			return Ref{Platform: YouTube, Kind: RefStream, ID: v, URL: raw}
		}
		if len(parts) >= 2 {
			switch parts[0] {
			case "live", "shorts", "embed":
				if ytVideoID.MatchString(parts[1]) {
					return Ref{Platform: YouTube, Kind: RefStream, ID: parts[1], URL: raw}
				}
			case "channel":
				if ytChannelID.MatchString(parts[1]) {
					return Ref{Platform: YouTube, Kind: RefChannel, ID: parts[1], URL: raw}
				}
			}
		}
		if len(parts) >= 1 && strings.HasPrefix(parts[0], "@") && len(parts[0]) > 1 {
			return Ref{Platform: YouTube, Kind: RefChannel, ID: parts[0], URL: raw}
		}
	case "twitch.tv":
		if len(parts) >= 2 && parts[0] == "videos" {
			if m := twitchVOD.FindStringSubmatch(parts[1]); m != nil {
				return Ref{Platform: Twitch, Kind: RefStream, ID: m[1], URL: raw}
			}
		}
		if len(parts) >= 1 && !twitchReserved[strings.ToLower(parts[0])] && twitchLogin.MatchString(parts[0]) {
			return Ref{Platform: Twitch, Kind: RefChannel, ID: strings.ToLower(parts[0]), URL: raw}
		}
	}
	return Ref{Platform: Generic, Kind: RefStream, ID: raw, URL: raw}
}
