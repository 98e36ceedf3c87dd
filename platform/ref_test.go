package platform

import "testing"

func TestParseRef(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		forced Platform
		want   Ref
	}{
		{
			name:  "youtube watch url",
			query: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10",
			want:  Ref{Platform: YouTube, Kind: RefStream, ID: "dQw4w9WgXcQ"},
		},
		{
			name:  "angle brackets stripped",
			query: "<https://youtu.be/dQw4w9WgXcQ>",
			want:  Ref{Platform: YouTube, Kind: RefStream, ID: "dQw4w9WgXcQ"},
		},
		{
			name:  "youtube live path",
			query: "youtube.com/live/dQw4w9WgXcQ",
			want:  Ref{Platform: YouTube, Kind: RefStream, ID: "dQw4w9WgXcQ"},
		},
		{
			name:  "youtube channel url",
			query: "https://youtube.com/channel/UCabcdefghijklmnopqrstuv",
			want:  Ref{Platform: YouTube, Kind: RefChannel, ID: "UCabcdefghijklmnopqrstuv"},
		},
		{
			name:  "youtube handle url",
			query: "https://www.youtube.com/@someone",
			want:  Ref{Platform: YouTube, Kind: RefChannel, ID: "@someone"},
		},
		{
			name:  "bare youtube channel id",
			query: "UCabcdefghijklmnopqrstuv",
			want:  Ref{Platform: YouTube, Kind: RefChannel, ID: "UCabcdefghijklmnopqrstuv"},
		},
		{
			name:  "twitch vod url",
			query: "https://www.twitch.tv/videos/1234567890",
			want:  Ref{Platform: Twitch, Kind: RefStream, ID: "1234567890"},
		},
		{
			name:  "twitch channel url lowercased",
			query: "https://twitch.tv/SomeStreamer",
			want:  Ref{Platform: Twitch, Kind: RefChannel, ID: "somestreamer"},
		},
		{
			name:  "bare twitch vod id",
			query: "v1234567890",
			want:  Ref{Platform: Twitch, Kind: RefStream, ID: "1234567890"},
		},
		{
			name:   "forced youtube video id",
			query:  "dQw4w9WgXcQ",
			forced: YouTube,
			want:   Ref{Platform: YouTube, Kind: RefStream, ID: "dQw4w9WgXcQ"},
		},
		{
			name:   "forced twitch login",
			query:  "Streamer_01",
			forced: Twitch,
			want:   Ref{Platform: Twitch, Kind: RefChannel, ID: "streamer_01"},
		},
		{
			name:  "unknown site goes generic",
			query: "https://example.com/live/42",
			want:  Ref{Platform: Generic, Kind: RefStream, ID: "https://example.com/live/42"},
		},
		{
			name:  "name fragment is not a ref",
			query: "sel",
			want:  Ref{},
		},
		{
			name:  "empty",
			query: "  ",
			want:  Ref{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRef(tt.query, tt.forced)
			got.URL = ""
			if got != tt.want {
				t.Errorf("ParseRef(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}
