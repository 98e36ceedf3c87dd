package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/stream-tagger/apperr"
)

// run executes tagctl against srv with fresh flag state.
func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	platformHint, community, channel, requester, author, since = "", "", "", "", "", ""
	asJSON, unstar = false, false
	privateFlag, publicFlag = nil, nil
	adminToken = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"version flag", []string{"--version"}, false},
		{"help flag", []string{"--help"}, false},
		{"unknown command", []string{"frobnicate"}, true},
		{"resolve without query", []string{"resolve"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			rootCmd.SetOut(&bytes.Buffer{})
			rootCmd.SetErr(&bytes.Buffer{})
			err := rootCmd.Execute()
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/resolve" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("q"); got != "big streamer" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("platform"); got != "twitch" {
			t.Errorf("platform = %q", got)
		}
		_, _ = io.WriteString(w, `{"platform":"twitch","channel_id":"99","stream_id":"2112","start_time":"2024-06-01T18:00:00Z","is_live":true,"title":"speedruns"}`)
	}))
	defer srv.Close()

	out, err := run(t, srv, "resolve", "--platform", "twitch", "big", "streamer")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out, "twitch:2112 99 (live, started 2024-06-01T18:00:00Z)") || !strings.Contains(out, "speedruns") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestResolveAmbiguousError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":{"kind":"AMBIGUOUS","message":"\"sam\" matches 2 creators: Sam A, Sam B","details":["Sam A","Sam B"]}}`)
	}))
	defer srv.Close()

	_, err := run(t, srv, "resolve", "sam")
	if !errors.Is(err, apperr.ErrAmbiguous) {
		t.Fatalf("err = %v, want ambiguous", err)
	}
	if !strings.Contains(err.Error(), "Sam B") {
		t.Errorf("error should list candidates: %v", err)
	}
}

func TestDumpCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/dump" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Accept"); got != "text/plain" {
			t.Errorf("Accept = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if body["community"] != "c1" || body["channel"] != "general" || body["args"] != "streamer own yt" {
			t.Errorf("body = %v", body)
		}
		_, _ = io.WriteString(w, "7:00 intro")
	}))
	defer srv.Close()

	out, err := run(t, srv, "dump", "--community", "c1", "--channel", "general", "streamer", "own", "yt")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if out != "7:00 intro\n" {
		t.Errorf("output = %q", out)
	}
}

func TestDumpRequiresCommunity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	if _, err := run(t, srv, "dump", "streamer"); err == nil {
		t.Fatal("expected error without --community/--channel")
	}
}

func TestSettingsSetSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if body["default_offset"] != float64(-25) {
			t.Errorf("default_offset = %v", body["default_offset"])
		}
		if _, ok := body["default_format"]; ok {
			t.Error("format not given, should be omitted")
		}
		if body["fetch_limit"] != float64(0) || body["allow_bots"] != true {
			t.Errorf("fetch_limit = %v, allow_bots = %v", body["fetch_limit"], body["allow_bots"])
		}
		priv, _ := body["private_channels"].(map[string]any)
		if priv["mods"] != true || priv["general"] != false {
			t.Errorf("private_channels = %v", body["private_channels"])
		}
		_, _ = io.WriteString(w, `{"community":"c1","default_offset":-25,"default_format":"yt","fetch_limit":0,"allow_bots":true}`)
	}))
	defer srv.Close()

	out, err := run(t, srv, "settings", "set", "--token", "s3cret", "--community", "c1",
		"--offset=-25", "--private", "mods", "--public", "general", "--fetch-limit", "0", "--allow-bots")
	if err != nil {
		t.Fatalf("settings set: %v", err)
	}
	if !strings.Contains(out, "community c1: offset -25, format yt, no fetch limit, bots allowed") {
		t.Errorf("output = %q", out)
	}
}

func TestDeleteLastNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"kind":"NOT_FOUND","message":"no dump to delete in general"}}`)
	}))
	defer srv.Close()

	_, err := run(t, srv, "delete-last", "--channel", "general")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDecodeErrorPlainBody(t *testing.T) {
	err := decodeError(http.StatusBadGateway, []byte("upstream down"))
	if err == nil || !strings.Contains(err.Error(), "502: upstream down") {
		t.Errorf("err = %v", err)
	}
}
