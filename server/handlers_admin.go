package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/dump"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/render"
	"github.com/onnwee/stream-tagger/settings"
	"github.com/onnwee/stream-tagger/tags"
	"github.com/onnwee/stream-tagger/telemetry"
)

// HandleAdminBackfill handles POST /admin/backfill: replay a channel's chat history
// into its session for the given stream.
func (h *Handlers) HandleAdminBackfill(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if h.deps.History == nil {
		writeError(w, r, apperr.PlatformUnavailable(errors.New("no chat history source"), "backfill not configured"))
		return
	}
	var body struct {
		Community string    `json:"community"`
		Channel   string    `json:"channel"`
		Query     string    `json:"query"`
		Platform  string    `json:"platform"`
		Since     time.Time `json:"since"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.deps.Dump.Backfill(r.Context(), dump.BackfillRequest{
		CommunityID: body.Community,
		ChannelID:   body.Channel,
		Query:       body.Query,
		Platform:    platform.Platform(strings.ToLower(body.Platform)),
		Since:       body.Since,
	}, h.deps.History)
	if err != nil {
		writeError(w, r, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("backfill done",
		slog.String("community", body.Community),
		slog.String("channel", body.Channel),
		slog.Int("created", res.Created),
		slog.String("component", "admin"))
	writeJSON(w, http.StatusOK, res)
}

type settingsBody struct {
	Community string `json:"community"`
	settings.Update
}

// HandleAdminSettings reads (GET ?community=) or updates (PUT) community settings.
func (h *Handlers) HandleAdminSettings(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		h.writeSettings(w, r, r.URL.Query().Get("community"))
		return
	}

	var body settingsBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Community == "" {
		writeError(w, r, apperr.Invalid("community required"))
		return
	}
	if o := body.DefaultOffset; o != nil && (*o > tags.MaxAdjust || *o < -tags.MaxAdjust) {
		writeError(w, r, apperr.InvalidOffset("default offset %d out of range ±%d", *o, tags.MaxAdjust))
		return
	}
	if f := body.DefaultFormat; f != nil && *f != "" {
		canonical, err := render.ParseFormat(*f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		name := string(canonical)
		body.DefaultFormat = &name
	}
	if err := settings.Apply(r.Context(), h.deps.Settings, body.Community, body.Update); err != nil {
		writeError(w, r, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("community settings updated", slog.String("community", body.Community), slog.String("component", "admin"))
	h.writeSettings(w, r, body.Community)
}

func (h *Handlers) writeSettings(w http.ResponseWriter, r *http.Request, community string) {
	if community == "" {
		writeError(w, r, apperr.Invalid("community required"))
		return
	}
	offset, err := h.deps.Settings.DefaultOffset(r.Context(), community)
	if err != nil {
		writeError(w, r, err)
		return
	}
	format, err := h.deps.Settings.DefaultFormat(r.Context(), community)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := h.deps.Settings.FetchLimit(r.Context(), community)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bots, err := h.deps.Settings.AllowBots(r.Context(), community)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"community":      community,
		"default_offset": offset,
		"default_format": format,
		"fetch_limit":    limit,
		"allow_bots":     bots,
	})
}
