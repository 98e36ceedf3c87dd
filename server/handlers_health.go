package server

import (
	"errors"
	"net/http"
)

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports 503 with the first failing check, or the store's size when ready.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.deps.DB == nil {
				return nil
			}
			return h.deps.DB.PingContext(r.Context())
		}},
		{"tag_store", func() error {
			if h.deps.Store == nil || h.deps.Dump == nil {
				return errors.New("tag store not wired")
			}
			return nil
		}},
		{"locator", func() error {
			if h.deps.Resolver == nil {
				return errors.New("locator not wired")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	sessions, entries := h.deps.Store.Len()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "sessions": sessions, "entries": entries})
}
