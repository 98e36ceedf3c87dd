package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/dump"
	"github.com/onnwee/stream-tagger/locator"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/settings"
	"github.com/onnwee/stream-tagger/tags"
)

var (
	start = time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	vod   = platform.ResolvedStream{
		Platform:  platform.Twitch,
		ChannelID: "1001",
		StreamID:  "2112",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		URL:       "https://www.twitch.tv/videos/2112",
	}
)

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, q string, _ locator.Hints) (platform.ResolvedStream, error) {
	switch q {
	case "nobody":
		return platform.ResolvedStream{}, apperr.NotFound("no creator matches %q", q)
	case "sam":
		return platform.ResolvedStream{}, apperr.Ambiguous([]string{"Sam A", "Sam B"}, "%q matches several creators", q)
	}
	return vod, nil
}

func (fakeResolver) ResolveChannel(context.Context, platform.Platform, string) (platform.ResolvedStream, error) {
	return vod, nil
}

func (fakeResolver) Suggest(prefix string, _ int) []string {
	if strings.HasPrefix("streamer", prefix) {
		return []string{"Streamer"}
	}
	return nil
}

type staticHistory []tags.HistoricalMessage

func (s staticHistory) Messages(context.Context, string, time.Time) ([]tags.HistoricalMessage, error) {
	return s, nil
}

type testServer struct {
	handler http.Handler
	store   *tags.Store
	dump    *dump.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	return buildTestServer(t)
}

func buildTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := tags.NewStore(nil)
	sp := settings.NewMemory(settings.DefaultOffset)
	svc := dump.NewService(st, fakeResolver{}, sp)
	h := NewMux(ctx, Deps{
		Store:    st,
		Resolver: fakeResolver{},
		Dump:     svc,
		Settings: sp,
		History: staticHistory{
			{ID: "h1", AuthorID: "u9", Text: "`from history", SentAt: start.Add(60 * time.Second)},
			{ID: "h2", AuthorID: "u9", Text: "just chatting", SentAt: start.Add(61 * time.Second)},
		},
	})
	return &testServer{handler: h, store: st, dump: svc}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) createTag(t *testing.T, id, author, text string, rel int) {
	t.Helper()
	body := `{"community":"c1","channel":"1001","id":"` + id + `","author":"` + author + `","text":"` + text +
		`","created_at":"` + start.Add(time.Duration(rel)*time.Second).Format(time.RFC3339) + `"}`
	if rr := ts.do(t, http.MethodPost, "/tags", body); rr.Code != http.StatusCreated {
		t.Fatalf("create %s: %d %s", id, rr.Code, rr.Body.String())
	}
}

func errorKind(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Kind    string   `json:"kind"`
			Details []string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Kind
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected a generated correlation id")
	}

	rr = ts.do(t, http.MethodGet, "/readyz", "", "X-Correlation-ID", "corr-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-1" {
		t.Errorf("correlation id = %q, want corr-1", got)
	}
}

func TestReadyzNotReady(t *testing.T) {
	h := NewHandlers(context.Background(), Deps{})
	rr := httptest.NewRecorder()
	h.HandleReadyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp["failed_check"] != "tag_store" {
		t.Errorf("failed_check = %q", resp["failed_check"])
	}
}

func TestResolve(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		path   string
		status int
		kind   string
	}{
		{"missing query", "/resolve", http.StatusBadRequest, "INVALID"},
		{"not found", "/resolve?q=nobody", http.StatusNotFound, "NOT_FOUND"},
		{"ambiguous", "/resolve?q=sam", http.StatusConflict, "AMBIGUOUS"},
		{"resolved", "/resolve?q=streamer&platform=twitch", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodGet, tt.path, "")
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if tt.kind != "" {
				if got := errorKind(t, rr); got != tt.kind {
					t.Errorf("kind = %q, want %q", got, tt.kind)
				}
				return
			}
			var st platform.ResolvedStream
			if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
				t.Fatal(err)
			}
			if st.Key() != vod.Key() || !st.StartTime.Equal(start) {
				t.Errorf("stream = %+v", st)
			}
		})
	}

	if rr := ts.do(t, http.MethodPost, "/resolve?q=x", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /resolve = %d, want 405", rr.Code)
	}
}

func TestSuggest(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/creators/suggest?prefix=str", "")
	var resp struct {
		Names []string `json:"names"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Names) != 1 || resp.Names[0] != "Streamer" {
		t.Errorf("names = %v", resp.Names)
	}
	rr = ts.do(t, http.MethodGet, "/creators/suggest?prefix=zzz", "")
	if !strings.Contains(rr.Body.String(), `"names":[]`) {
		t.Errorf("empty suggest body = %s", rr.Body.String())
	}
}

func TestTagLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.createTag(t, "m1", "u1", "`intro", 440)

	// replaying the same message id is not a second tag
	body := `{"community":"c1","channel":"1001","id":"m1","author":"u1","text":"` + "`intro" + `"}`
	if rr := ts.do(t, http.MethodPost, "/tags", body); rr.Code != http.StatusOK {
		t.Errorf("replayed create = %d, want 200", rr.Code)
	}

	rr := ts.do(t, http.MethodPatch, "/tags/m1", `{"text":"`+"``renamed"+`"}`)
	var e tags.Entry
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil || rr.Code != http.StatusOK {
		t.Fatalf("edit = %d %v", rr.Code, err)
	}
	if e.Depth != 2 || e.Text() != "renamed" || e.EditedAt.IsZero() {
		t.Errorf("edited = %+v", e)
	}

	rr = ts.do(t, http.MethodPost, "/tags/m1/star", `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("star = %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/tags/m1/adjust", `{"delta":-10}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("adjust = %d %s", rr.Code, rr.Body.String())
	}
	got, _ := ts.store.Get("m1")
	if got.Stars != 1 || got.OffsetSeconds != -10 {
		t.Errorf("after star and adjust = %+v", got)
	}

	if rr := ts.do(t, http.MethodDelete, "/tags/m1", ""); rr.Code != http.StatusOK {
		t.Errorf("delete = %d", rr.Code)
	}
	if got, _ := ts.store.Get("m1"); !got.Tombstoned {
		t.Error("tag should be tombstoned")
	}

	if rr := ts.do(t, http.MethodGet, "/tags/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("get missing = %d, want 404", rr.Code)
	}
	if rr := ts.do(t, http.MethodPost, "/tags/m1/unknown", `{}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown subroute = %d, want 404", rr.Code)
	}
}

func TestCreateTagInvalid(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"no community", `{"channel":"1001","author":"u1","text":"` + "`x" + `"}`},
		{"markers only", `{"community":"c1","channel":"1001","author":"u1","text":"` + "``" + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/tags", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAdjustEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createTag(t, "m1", "u1", "`intro", 440)

	rr := ts.do(t, http.MethodPost, "/adjust", `{"community":"c1","author":"u1","offset":"-10"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("adjust = %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/adjust", `{"community":"c1","author":"u1","offset":"ten"}`)
	if rr.Code != http.StatusBadRequest || errorKind(t, rr) != "INVALID_OFFSET" {
		t.Errorf("bad offset = %d", rr.Code)
	}
	rr = ts.do(t, http.MethodPost, "/adjust", `{"community":"c1","author":"nobody","offset":"5"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("adjust without tags = %d, want 404", rr.Code)
	}
}

func TestDumpAndDeleteLast(t *testing.T) {
	ts := newTestServer(t)
	ts.createTag(t, "m1", "u1", "`intro", 440)
	ts.createTag(t, "m2", "u2", "``detail", 500)

	rr := ts.do(t, http.MethodPost, "/dump", `{"community":"c1","channel":"1001","args":"streamer yt"}`, "Accept", "text/plain")
	if rr.Code != http.StatusOK {
		t.Fatalf("dump = %d %s", rr.Code, rr.Body.String())
	}
	if want := "7:00 intro\n7:40 detail"; rr.Body.String() != want {
		t.Errorf("dump text = %q, want %q", rr.Body.String(), want)
	}

	rr = ts.do(t, http.MethodPost, "/dump", `{"community":"c1","channel":"1001","query":"streamer","options":{"format":"csv","own":true,"offset":5},"requester":"u2"}`)
	var res dump.Result
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil || rr.Code != http.StatusOK {
		t.Fatalf("json dump = %d %v", rr.Code, err)
	}
	if res.Count != 1 || res.Text != `485,"detail",0,1` {
		t.Errorf("own csv dump = %+v", res)
	}

	rr = ts.do(t, http.MethodPost, "/dump", `{"community":"c1","channel":"1001","args":"offset=soon streamer"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad args = %d, want 400", rr.Code)
	}

	if rr := ts.do(t, http.MethodDelete, "/dump/last?channel=1001", ""); rr.Code != http.StatusOK {
		t.Errorf("delete last = %d %s", rr.Code, rr.Body.String())
	}
	if rr := ts.do(t, http.MethodDelete, "/dump/last?channel=1001", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete last = %d, want 404", rr.Code)
	}
	// the tags themselves survive
	if _, entries := ts.store.Len(); entries != 2 {
		t.Errorf("entries after delete last = %d, want 2", entries)
	}
}

func TestDumpArgsDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.createTag(t, "m1", "u1", "`intro", 440)
	if rr := ts.do(t, http.MethodPost, "/dump", `{"community":"c1","channel":"1001","args":"streamer"}`); rr.Code != http.StatusOK {
		t.Fatalf("dump = %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPost, "/dump", `{"community":"c1","channel":"1001","args":"delete"}`); rr.Code != http.StatusOK {
		t.Errorf("dump delete = %d %s", rr.Code, rr.Body.String())
	}
	if _, ok := ts.dump.Last("1001"); ok {
		t.Error("last dump should be forgotten")
	}
}

func TestAdminSettings(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	ts := buildTestServer(t)

	body := `{"community":"c1","default_offset":-5,"default_format":"alternative","private_channels":{"42":true}}`
	if rr := ts.do(t, http.MethodPut, "/admin/settings", body); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d, want 401", rr.Code)
	}
	rr := ts.do(t, http.MethodPut, "/admin/settings", body, "X-Admin-Token", "secret")
	if rr.Code != http.StatusOK {
		t.Fatalf("put settings = %d %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp["default_offset"] != float64(-5) || resp["default_format"] != "tree" {
		t.Errorf("settings = %v", resp)
	}

	rr = ts.do(t, http.MethodPut, "/admin/settings", `{"community":"c1","default_format":"fancy"}`, "X-Admin-Token", "secret")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown format = %d, want 400", rr.Code)
	}
	rr = ts.do(t, http.MethodPut, "/admin/settings", `{"community":"c1","default_offset":99999}`, "X-Admin-Token", "secret")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("offset out of range = %d, want 400", rr.Code)
	}
	rr = ts.do(t, http.MethodGet, "/admin/settings?community=c2", "", "X-Admin-Token", "secret")
	resp = map[string]any{}
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp["default_offset"] != float64(settings.DefaultOffset) || resp["fetch_limit"] != float64(settings.DefaultFetchLimit) || resp["allow_bots"] != false {
		t.Errorf("untouched community = %v", resp)
	}

	rr = ts.do(t, http.MethodPut, "/admin/settings", `{"community":"c1","fetch_limit":0,"allow_bots":true}`, "X-Admin-Token", "secret")
	resp = map[string]any{}
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if rr.Code != http.StatusOK || resp["fetch_limit"] != float64(0) || resp["allow_bots"] != true {
		t.Errorf("lift limit = %d %v", rr.Code, resp)
	}
	rr = ts.do(t, http.MethodPut, "/admin/settings", `{"community":"c1","fetch_limit":-3}`, "X-Admin-Token", "secret")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative fetch limit = %d, want 400", rr.Code)
	}
}

func TestAdminBackfill(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodPost, "/admin/backfill", `{"community":"c1","channel":"1001"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("backfill = %d %s", rr.Code, rr.Body.String())
	}
	var res tags.BackfillResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 || res.Unmarked != 1 {
		t.Errorf("result = %+v", res)
	}

	// overlapping replay creates nothing new
	rr = ts.do(t, http.MethodPost, "/admin/backfill", `{"community":"c1","channel":"1001"}`)
	_ = json.NewDecoder(rr.Body).Decode(&res)
	if res.Created != 0 || res.Skipped != 1 {
		t.Errorf("replay result = %+v", res)
	}
}

func TestAdminRateLimited(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("RATE_LIMIT_ENABLED", "1")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "2")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "60")
	ts := buildTestServer(t)

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, ts.do(t, http.MethodGet, "/admin/settings?community=c1", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
	// public routes are not limited
	for range 3 {
		if rr := ts.do(t, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
			t.Errorf("healthz limited: %d", rr.Code)
		}
	}
}
