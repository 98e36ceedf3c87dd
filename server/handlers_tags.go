package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/dump"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/tags"
)

type createTagBody struct {
	Community string    `json:"community"`
	Channel   string    `json:"channel"`
	Query     string    `json:"query"`
	Platform  string    `json:"platform"`
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleTagCreate handles POST /tags. Replaying an id returns the stored entry with 200.
func (h *Handlers) HandleTagCreate(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var body createTagBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	if body.CreatedAt.IsZero() {
		body.CreatedAt = h.now().UTC()
	}
	e, created, err := h.deps.Dump.Tag(r.Context(), dump.TagRequest{
		CommunityID: body.Community,
		ChannelID:   body.Channel,
		Query:       body.Query,
		Platform:    platform.Platform(strings.ToLower(body.Platform)),
		Entry:       tags.NewEntry{ID: body.ID, AuthorID: body.Author, RawText: body.Text, CreatedAt: body.CreatedAt},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"entry": e, "created": created})
}

// HandleTagsDispatcher routes /tags/{id}, /tags/{id}/star and /tags/{id}/adjust.
func (h *Handlers) HandleTagsDispatcher(w http.ResponseWriter, r *http.Request) {
	id, tail, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/tags/"), "/")
	switch {
	case id == "":
		http.NotFound(w, r)
	case tail == "":
		h.handleTag(w, r, id)
	case tail == "star":
		h.handleTagStar(w, r, id)
	case tail == "adjust":
		h.handleTagAdjust(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleTag(w http.ResponseWriter, r *http.Request, id string) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete) {
		return
	}
	var (
		e   tags.Entry
		err error
	)
	switch r.Method {
	case http.MethodGet:
		var ok bool
		if e, ok = h.deps.Store.Get(id); !ok {
			err = apperr.NotFound("tag %s not found", id)
		}
	case http.MethodPatch:
		var body struct {
			Text     string    `json:"text"`
			EditedAt time.Time `json:"edited_at"`
		}
		if err = decodeJSON(r, &body); err != nil {
			break
		}
		if body.EditedAt.IsZero() {
			body.EditedAt = h.now().UTC()
		}
		e, err = h.deps.Store.Edit(r.Context(), id, body.Text, body.EditedAt)
	case http.MethodDelete:
		e, err = h.deps.Store.Tombstone(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) handleTagStar(w http.ResponseWriter, r *http.Request, id string) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	body := struct {
		Value *bool `json:"value"`
	}{}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	value := true
	if body.Value != nil {
		value = *body.Value
	}
	e, err := h.deps.Store.SetStar(r.Context(), id, value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) handleTagAdjust(w http.ResponseWriter, r *http.Request, id string) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Delta int `json:"delta"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.deps.Store.AdjustOffset(r.Context(), id, body.Delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// HandleAdjust handles POST /adjust: shift the author's latest tag by an offset string.
func (h *Handlers) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Community string `json:"community"`
		Author    string `json:"author"`
		Offset    string `json:"offset"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Community == "" || body.Author == "" {
		writeError(w, r, apperr.Invalid("community and author required"))
		return
	}
	e, err := h.deps.Dump.Adjust(r.Context(), body.Community, body.Author, body.Offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
