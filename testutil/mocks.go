package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix and token endpoints.
// Point a HelixClient at URL()+"/helix" and a TokenSource at URL()+"/oauth2/token".
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.RWMutex
	Handlers map[string]http.HandlerFunc
	calls    sync.Map // path -> *atomic.Int64
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		c, _ := m.calls.LoadOrStore(key, new(atomic.Int64))
		c.(*atomic.Int64).Add(1)
		m.mu.RLock()
		handler, ok := m.Handlers[key]
		m.mu.RUnlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for a path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

// Calls returns how many requests hit path.
func (m *MockTwitchServer) Calls(path string) int64 {
	if c, ok := m.calls.Load(path); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		if q := r.URL.Query().Get("login"); q == "" || q == login {
			data = append(data, map[string]string{"id": userID, "login": login})
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

// MockVideosResponse adds a handler for /helix/videos endpoint. A request with an id
// query only gets the matching video.
func (m *MockTwitchServer) MockVideosResponse(videos []map[string]string, cursor string) {
	m.Handle("/helix/videos", func(w http.ResponseWriter, r *http.Request) {
		data := videos
		if id := r.URL.Query().Get("id"); id != "" {
			data = nil
			for _, v := range videos {
				if v["id"] == id {
					data = append(data, v)
				}
			}
			if len(data) == 0 {
				w.WriteHeader(http.StatusNotFound)
				writeJSON(w, map[string]any{"error": "Not Found", "status": 404})
				return
			}
		}
		if data == nil {
			data = []map[string]string{}
		}
		writeJSON(w, map[string]any{"data": data, "pagination": map[string]string{"cursor": cursor}})
	})
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		data := streams
		if data == nil {
			data = []map[string]interface{}{}
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

// MockStatus makes path answer with a bare status code.
func (m *MockTwitchServer) MockStatus(path string, status int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}
