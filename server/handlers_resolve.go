package server

import (
	"net/http"
	"strings"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/locator"
	"github.com/onnwee/stream-tagger/platform"
)

// HandleResolve answers GET /resolve?q=&platform= with the resolved stream.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, apperr.Invalid("missing q"))
		return
	}
	hints := locator.Hints{Platform: platform.Platform(strings.ToLower(r.URL.Query().Get("platform")))}
	st, err := h.deps.Resolver.Resolve(r.Context(), q, hints)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSuggest answers GET /creators/suggest?prefix=&limit= with creator names.
func (h *Handlers) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	limit := parseIntQuery(r, "limit", 10)
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	names := h.deps.Resolver.Suggest(r.URL.Query().Get("prefix"), limit)
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"names": names})
}
