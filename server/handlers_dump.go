package server

import (
	"net/http"
	"strings"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/dump"
)

type dumpBody struct {
	dump.Request
	// Args is the textual command, e.g. "mychannel own yt offset=-30".
	Args string `json:"args"`
}

// HandleDump handles POST /dump. The body is either a structured request or an args
// string in the chat command grammar. Clients asking for text/plain get the rendered
// text only.
func (h *Handlers) HandleDump(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var body dumpBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := body.Request
	if strings.TrimSpace(body.Args) != "" {
		args, err := dump.ParseArgs(strings.Fields(body.Args), h.now())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if args.Delete {
			h.deleteLast(w, r, req.ChannelID)
			return
		}
		if req.Query == "" {
			req.Query = args.Query
		}
		req.Options = args.Options
	}

	res, err := h.deps.Dump.Dump(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(res.Text))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleDumpLast handles DELETE /dump/last?channel=.
func (h *Handlers) HandleDumpLast(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodDelete) {
		return
	}
	h.deleteLast(w, r, r.URL.Query().Get("channel"))
}

func (h *Handlers) deleteLast(w http.ResponseWriter, r *http.Request, channelID string) {
	if channelID == "" {
		writeError(w, r, apperr.Invalid("channel required"))
		return
	}
	res, ok := h.deps.Dump.DeleteLast(channelID)
	if !ok {
		writeError(w, r, apperr.NotFound("no dump to delete in %s", channelID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": res.Ref, "stream": res.Stream.Key()})
}
