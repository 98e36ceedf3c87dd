package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/stream-tagger/dump"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/settings"
)

var (
	platformHint string
	community    string
	channel      string
	requester    string
	author       string
	asJSON       bool
	unstar       bool
	since        string
	offsetFlag   int
	formatFlag   string
	privateFlag  []string
	publicFlag   []string
	limitFlag    int
	botsFlag     bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <query>",
	Short: "Show the stream a query resolves to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"q": {strings.Join(args, " ")}}
		if platformHint != "" {
			q.Set("platform", platformHint)
		}
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/resolve", q, nil, "")
		if err != nil {
			return err
		}
		var st platform.ResolvedStream
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		state := "ended"
		if st.IsLive {
			state = "live"
		}
		fmt.Fprintf(out, "%s %s (%s, started %s)\n", st.Key(), st.ChannelID, state, st.StartTime.UTC().Format(time.RFC3339))
		if st.Title != "" {
			fmt.Fprintf(out, "  %s\n", st.Title)
		}
		if st.URL != "" {
			fmt.Fprintf(out, "  %s\n", st.URL)
		}
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <prefix>",
	Short: "List creator names starting with prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if len(args) == 1 {
			q.Set("prefix", args[0])
		}
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/creators/suggest", q, nil, "")
		if err != nil {
			return err
		}
		var res struct {
			Names []string `json:"names"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			return err
		}
		for _, n := range res.Names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump [args...]",
	Short: "Render the tags of a stream",
	Long: `Render the tags of a stream. Arguments use the chat command grammar:
a creator or stream reference, then any of own, yt, alternative, csv,
offset=<seconds>, sub=<duration>, delete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if community == "" || channel == "" {
			return errors.New("--community and --channel are required")
		}
		body := map[string]any{
			"community": community,
			"channel":   channel,
			"requester": requester,
			"args":      strings.Join(args, " "),
		}
		accept := "text/plain"
		if asJSON {
			accept = "application/json"
		}
		data, err := newClient().do(cmd.Context(), http.MethodPost, "/dump", nil, body, accept)
		if err != nil {
			return err
		}
		if !asJSON {
			_, err = cmd.OutOrStdout().Write(ensureNewline(data))
			return err
		}
		var res dump.Result
		if err := json.Unmarshal(data, &res); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

var deleteLastCmd = &cobra.Command{
	Use:   "delete-last",
	Short: "Forget the last dump posted in a channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if channel == "" {
			return errors.New("--channel is required")
		}
		data, err := newClient().do(cmd.Context(), http.MethodDelete, "/dump/last", url.Values{"channel": {channel}}, nil, "")
		if err != nil {
			return err
		}
		var res struct {
			Deleted string `json:"deleted"`
			Stream  string `json:"stream"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", res.Deleted, res.Stream)
		return nil
	},
}

var adjustCmd = &cobra.Command{
	Use:   "adjust <offset>",
	Short: "Shift an author's latest tag, e.g. -30 or +1:15",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if community == "" || author == "" {
			return errors.New("--community and --author are required")
		}
		body := map[string]string{"community": community, "author": author, "offset": args[0]}
		data, err := newClient().do(cmd.Context(), http.MethodPost, "/adjust", nil, body, "")
		if err != nil {
			return err
		}
		return printEntry(cmd, data)
	},
}

var starCmd = &cobra.Command{
	Use:   "star <tag-id>",
	Short: "Star (or with --unset, unstar) a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]bool{"value": !unstar}
		data, err := newClient().do(cmd.Context(), http.MethodPost, "/tags/"+url.PathEscape(args[0])+"/star", nil, body, "")
		if err != nil {
			return err
		}
		return printEntry(cmd, data)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill <query>",
	Short: "Import tags from a channel's chat history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if community == "" || channel == "" {
			return errors.New("--community and --channel are required")
		}
		body := map[string]any{
			"community": community,
			"channel":   channel,
			"query":     strings.Join(args, " "),
			"platform":  platformHint,
		}
		if since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			body["since"] = t
		}
		data, err := newClient().do(cmd.Context(), http.MethodPost, "/admin/backfill", nil, body, "")
		if err != nil {
			return err
		}
		var res struct {
			Created  int `json:"created"`
			Skipped  int `json:"skipped"`
			Unmarked int `json:"unmarked"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d, skipped %d, unmarked %d\n", res.Created, res.Skipped, res.Unmarked)
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or change community settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a community's settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if community == "" {
			return errors.New("--community is required")
		}
		data, err := newClient().do(cmd.Context(), http.MethodGet, "/admin/settings", url.Values{"community": {community}}, nil, "")
		if err != nil {
			return err
		}
		return printSettings(cmd, data)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change a community's settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if community == "" {
			return errors.New("--community is required")
		}
		var u settings.Update
		if cmd.Flags().Changed("offset") {
			o := offsetFlag
			u.DefaultOffset = &o
		}
		if cmd.Flags().Changed("format") {
			f := formatFlag
			u.DefaultFormat = &f
		}
		if cmd.Flags().Changed("fetch-limit") {
			n := limitFlag
			u.FetchLimit = &n
		}
		if cmd.Flags().Changed("allow-bots") {
			b := botsFlag
			u.AllowBots = &b
		}
		if len(privateFlag)+len(publicFlag) > 0 {
			u.Private = make(map[string]bool)
			for _, c := range privateFlag {
				u.Private[c] = true
			}
			for _, c := range publicFlag {
				u.Private[c] = false
			}
		}
		body := struct {
			Community string `json:"community"`
			settings.Update
		}{community, u}
		data, err := newClient().do(cmd.Context(), http.MethodPut, "/admin/settings", nil, body, "")
		if err != nil {
			return err
		}
		return printSettings(cmd, data)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&platformHint, "platform", "", "prefer this platform (twitch, youtube, generic)")
	backfillCmd.Flags().StringVar(&platformHint, "platform", "", "prefer this platform")

	for _, c := range []*cobra.Command{dumpCmd, backfillCmd} {
		c.Flags().StringVar(&community, "community", "", "community id")
		c.Flags().StringVar(&channel, "channel", "", "channel id")
	}
	dumpCmd.Flags().StringVar(&requester, "requester", "", "author id used by 'own'")
	dumpCmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	deleteLastCmd.Flags().StringVar(&channel, "channel", "", "channel id")

	adjustCmd.Flags().StringVar(&community, "community", "", "community id")
	adjustCmd.Flags().StringVar(&author, "author", "", "author id")
	starCmd.Flags().BoolVar(&unstar, "unset", false, "remove the star")
	backfillCmd.Flags().StringVar(&since, "since", "", "only messages after this RFC3339 time")

	for _, c := range []*cobra.Command{settingsGetCmd, settingsSetCmd} {
		c.Flags().StringVar(&community, "community", "", "community id")
	}
	settingsSetCmd.Flags().IntVar(&offsetFlag, "offset", 0, "default offset in seconds")
	settingsSetCmd.Flags().StringVar(&formatFlag, "format", "", "default dump format (yt, alternative, csv)")
	settingsSetCmd.Flags().StringSliceVar(&privateFlag, "private", nil, "mark channels private")
	settingsSetCmd.Flags().StringSliceVar(&publicFlag, "public", nil, "mark channels public")
	settingsSetCmd.Flags().IntVar(&limitFlag, "fetch-limit", 0, "most tags in one dump, 0 for no cap")
	settingsSetCmd.Flags().BoolVar(&botsFlag, "allow-bots", false, "let chat bots tag (--allow-bots=false to ignore them)")
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)

	rootCmd.AddCommand(resolveCmd, suggestCmd, dumpCmd, deleteLastCmd, adjustCmd, starCmd, backfillCmd, settingsCmd)
}

func printEntry(cmd *cobra.Command, data []byte) error {
	var e struct {
		ID            string    `json:"id"`
		RawText       string    `json:"raw_text"`
		Stars         int       `json:"stars"`
		OffsetSeconds int       `json:"offset_seconds"`
		CreatedAt     time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s stars=%d offset=%s %q\n", e.ID, e.Stars, signed(e.OffsetSeconds), e.RawText)
	return nil
}

func printSettings(cmd *cobra.Command, data []byte) error {
	var s struct {
		Community     string `json:"community"`
		DefaultOffset int    `json:"default_offset"`
		DefaultFormat string `json:"default_format"`
		FetchLimit    int    `json:"fetch_limit"`
		AllowBots     bool   `json:"allow_bots"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	format := s.DefaultFormat
	if format == "" {
		format = "(unset)"
	}
	limit := "no fetch limit"
	if s.FetchLimit > 0 {
		limit = "fetch limit " + strconv.Itoa(s.FetchLimit)
	}
	bots := "bots ignored"
	if s.AllowBots {
		bots = "bots allowed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "community %s: offset %s, format %s, %s, %s\n", s.Community, signed(s.DefaultOffset), format, limit, bots)
	return nil
}

func signed(n int) string {
	if n > 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func ensureNewline(b []byte) []byte {
	if len(b) == 0 || b[len(b)-1] == '\n' {
		return b
	}
	return append(b, '\n')
}
